package extraction_service

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
)

// Rasterizer converts a PDF into one raster image per page, in page order.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfData []byte) ([][]byte, error)
}

// PdftoppmRasterizer shells out to poppler's pdftoppm, rendering pages into a
// temp directory and collecting the generated PNGs.
type PdftoppmRasterizer struct {
	binary   string
	dpi      int
	maxPages int
}

func NewPdftoppmRasterizer(binary string, dpi, maxPages int) *PdftoppmRasterizer {
	if binary == "" {
		binary = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = 300
	}
	return &PdftoppmRasterizer{binary: binary, dpi: dpi, maxPages: maxPages}
}

func (r *PdftoppmRasterizer) Rasterize(ctx context.Context, pdfData []byte) ([][]byte, error) {
	tmpDir, err := os.MkdirTemp("", "docapture-raster-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(pdfPath, pdfData, 0o600); err != nil {
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r <dpi> -png <in.pdf> <tmp/page>
	cmd := exec.CommandContext(ctx, r.binary, "-r", fmt.Sprintf("%d", r.dpi), "-png", pdfPath, prefix)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w: %s", err, stderr.String())
	}

	// pdftoppm names output page-1.png, page-2.png, ...
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if r.maxPages > 0 && len(matches) > r.maxPages {
		matches = matches[:r.maxPages]
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no images")
	}

	pages := make([][]byte, 0, len(matches))
	for _, path := range matches {
		img, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rendered page %s: %w", filepath.Base(path), err)
		}
		pages = append(pages, img)
	}
	return pages, nil
}

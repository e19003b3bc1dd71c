package template_service

import (
	"encoding/json"
	"fmt"
	"os"
)

// Template describes a known document shape: an ordered list of fields the
// document is expected to carry and the keywords that identify it.
type Template struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Fields   []string `json:"fields"`
	Keywords []string `json:"keywords"`
}

// Store holds the template corpus. It is read-only after construction and
// safe to share across concurrent runs without locking.
type Store struct {
	templates []Template
}

func NewStore(templates []Template) *Store {
	return &Store{templates: templates}
}

// LoadStore reads a template corpus from a JSON file, falling back to the
// builtin corpus when path is empty.
func LoadStore(path string) (*Store, error) {
	if path == "" {
		return NewStore(DefaultTemplates()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates file: %w", err)
	}
	var templates []Template
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("failed to parse templates file: %w", err)
	}
	return NewStore(templates), nil
}

func (s *Store) Templates() []Template {
	return s.templates
}

// DefaultTemplates is the builtin corpus covering the document shapes the
// service most often sees.
func DefaultTemplates() []Template {
	return []Template{
		{
			ID:       "invoice",
			Name:     "Invoice",
			Fields:   []string{"invoice_number", "invoice_date", "due_date", "vendor_name", "customer_name", "subtotal", "tax", "total_amount", "currency"},
			Keywords: []string{"invoice", "bill to", "due date", "subtotal", "tax", "total", "payment terms", "amount due"},
		},
		{
			ID:       "receipt",
			Name:     "Receipt",
			Fields:   []string{"merchant_name", "transaction_date", "items", "subtotal", "tax", "total", "payment_method"},
			Keywords: []string{"receipt", "cashier", "change", "total", "thank you", "card", "cash", "transaction"},
		},
		{
			ID:       "purchase_order",
			Name:     "Purchase Order",
			Fields:   []string{"po_number", "order_date", "supplier_name", "ship_to", "line_items", "total_amount", "delivery_date"},
			Keywords: []string{"purchase order", "po number", "supplier", "ship to", "quantity", "unit price", "delivery"},
		},
		{
			ID:       "contract",
			Name:     "Contract",
			Fields:   []string{"contract_title", "parties", "effective_date", "termination_date", "governing_law", "signatures"},
			Keywords: []string{"agreement", "party", "parties", "hereby", "terms and conditions", "effective date", "witness", "governing law"},
		},
		{
			ID:       "resume",
			Name:     "Resume",
			Fields:   []string{"full_name", "email", "phone", "education", "work_experience", "skills"},
			Keywords: []string{"experience", "education", "skills", "curriculum vitae", "resume", "employment", "references"},
		},
	}
}

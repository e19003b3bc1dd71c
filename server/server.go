package server

import (
	"crypto/tls"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/serisow/docapture/agent"
	"github.com/serisow/docapture/agent_registry"
	"github.com/serisow/docapture/config"
	"github.com/serisow/docapture/handlers"
	"github.com/serisow/docapture/services/extraction_service"
	"github.com/serisow/docapture/services/history_service"
	"github.com/serisow/docapture/services/subscription_service"
	"github.com/urfave/negroni"
	"golang.org/x/crypto/acme/autocert"
)

// Deps carries everything the route table needs.
type Deps struct {
	Config        config.Config
	Registry      *agent_registry.AgentRegistry
	Runner        *agent.Runner
	Broker        *agent.EventBroker
	Store         *agent.RunStore
	Subscriptions subscription_service.Service
	History       history_service.Recorder
	WordExtractor *extraction_service.WordExtractor
	Logger        *slog.Logger
}

func SetupRoutes(deps Deps) *mux.Router {
	r := mux.NewRouter()

	auth := handlers.NewAPIKeyAuthenticator(deps.Config.APIKeys)

	aguiHandler := handlers.NewAGUIHandler(auth, deps.Registry, deps.Runner, deps.Broker, deps.Store,
		deps.Subscriptions, deps.History, deps.Logger, deps.Config.MaxUploadBytes)
	r.HandleFunc("/agui/{agentType}", aguiHandler.ExecuteAgent).Methods("POST")

	sseHandler := handlers.NewSSEHandler(auth, deps.Broker, deps.Logger, deps.Config.SSEGraceDelay)
	r.HandleFunc("/agui-sse", sseHandler.StreamEvents).Methods("GET")

	runHandler := handlers.NewRunHandler(auth, deps.Store)
	r.HandleFunc("/agui-run/{runId}", runHandler.GetRunStatus).Methods("GET")

	wordHandler := handlers.NewExtractWordHandler(auth, deps.WordExtractor, deps.Logger, deps.Config.MaxUploadBytes)
	r.HandleFunc("/extract-word", wordHandler.ExtractWord).Methods("POST")

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	return r
}

// ServeProduction builds the server when we operate in a production environment.
func ServeProduction(n *negroni.Negroni, cfg config.Config) {
	autocertManager := autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cfg.Domains...),
		Cache:      autocert.DirCache(cfg.CertCacheDir),
	}

	// Port 80 only answers ACME "http-01" challenges and redirects the rest
	// to HTTPS.
	go func() {
		srv := &http.Server{
			Addr:         ":" + cfg.HTTPPort,
			Handler:      autocertManager.HTTPHandler(nil),
			IdleTimeout:  time.Minute,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}

		err := srv.ListenAndServe()
		log.Fatal(err)
	}()

	tlsConfig := &tls.Config{
		GetCertificate:           autocertManager.GetCertificate,
		PreferServerCipherSuites: true,
		CurvePreferences:         []tls.CurveID{tls.X25519, tls.CurveP256},
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPSPort,
		Handler:      n,
		TLSConfig:    tlsConfig,
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // SSE streams stay open for the run's lifetime.
	}

	err := srv.ListenAndServeTLS("", "") // Key and cert provided automatically by autocert.
	log.Fatal(err)
}

// ServeDevelopment starts the server when we operate in a dev environment.
func ServeDevelopment(s *http.Server) {
	log.Fatal(s.ListenAndServe())
}

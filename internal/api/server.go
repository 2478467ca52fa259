package api

import (
	"context"
	"net/http"
	"time"

	"pos-terminal-bridge/internal/orchestrator"
	"pos-terminal-bridge/internal/pairing"
	"pos-terminal-bridge/internal/printing"
	"pos-terminal-bridge/internal/settings"
	"pos-terminal-bridge/internal/terminal"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// Terminals gives access to whatever terminal is active right now.
type Terminals interface {
	Orchestrator() (*orchestrator.Orchestrator, error)
	Pairing() (*pairing.Manager, error)
	Provider() terminal.Provider
}

// PrintQueue is the print path the register uses.
type PrintQueue interface {
	PrintReceipt(ctx context.Context, r printing.Receipt, isRetry bool) error
	PrintSalesReport(ctx context.Context, report printing.SalesReport) error
	Jobs() ([]printing.PrintJob, error)
}

// CredentialLister reports which providers hold a stored credential.
type CredentialLister interface {
	Providers() ([]terminal.Provider, error)
}

// Server is the register-facing HTTP surface.
type Server struct {
	*http.Server
	Logger          *logrus.Logger
	SettingsManager *settings.Manager
	Terminals       Terminals
	Printing        PrintQueue
	Credentials     CredentialLister
	Mode            string

	validate  *validator.Validate
	startedAt time.Time
}

func NewServer(addr string, logger *logrus.Logger, sm *settings.Manager, terminals Terminals, queue PrintQueue) *Server {
	r := chi.NewRouter()

	s := &Server{
		Server: &http.Server{
			Addr:           addr,
			Handler:        r,
			ReadTimeout:    5 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		Logger:          logger,
		SettingsManager: sm,
		Terminals:       terminals,
		Printing:        queue,
		validate:        validator.New(),
		startedAt:       time.Now(),
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthHandler)
	r.Get("/status", s.statusHandler)

	r.Route("/transactions", func(r chi.Router) {
		r.Get("/", s.listTransactionsHandler)
		r.Post("/", s.startTransactionHandler)
		r.Get("/{id}", s.getTransactionHandler)
		r.Post("/{id}/cancel", s.cancelTransactionHandler)
	})

	r.Get("/pairing", s.pairingStatusHandler)
	r.Post("/pairing", s.pairHandler)
	r.Delete("/pairing", s.unpairHandler)

	r.Route("/print", func(r chi.Router) {
		r.Post("/receipt", s.printReceiptHandler)
		r.Post("/sales-report", s.printSalesReportHandler)
		r.Get("/queue", s.printQueueHandler)
	})

	r.Get("/settings", s.getSettingsHandler)
	r.Post("/settings", s.settingsHandler)

	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.Logger.Infof("Starting API Server on %s", s.Addr)
	return s.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.Logger.Info("Shutting down API Server...")
	return s.Shutdown(ctx)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"pos-terminal-bridge/internal/orchestrator"
	"pos-terminal-bridge/internal/pairing"
	"pos-terminal-bridge/internal/printing"
	"pos-terminal-bridge/internal/service"
	"pos-terminal-bridge/internal/terminal"

	"github.com/go-chi/chi/v5"
)

const maxWait = 5 * time.Minute

type startTransactionRequest struct {
	AmountMinorUnits int64         `json:"amountMinorUnits"`
	Kind             terminal.Kind `json:"kind" validate:"required,oneof=Purchase Refund QRPurchase QRRefund"`
	Reference        string        `json:"reference,omitempty" validate:"max=64"`
}

type errorResponse struct {
	Error        string `json:"error"`
	DevicePaired *bool  `json:"devicePaired,omitempty"`
	Queued       bool   `json:"queued,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return err
	}
	return s.validate.Struct(v)
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	hostname, _ := os.Hostname()

	terminalStatus := map[string]any{"status": "not_configured"}
	if provider := s.Terminals.Provider(); provider != "" {
		terminalStatus = map[string]any{"provider": provider}
		if o, err := s.Terminals.Orchestrator(); err == nil {
			terminalStatus["active_transactions"] = len(o.Active())
		}
		if pm, err := s.Terminals.Pairing(); err == nil {
			terminalStatus["pairing"] = pm.Status()
		}
	}
	if s.Credentials != nil {
		if providers, err := s.Credentials.Providers(); err == nil {
			terminalStatus["stored_credentials"] = providers
		}
	}

	printStatus := map[string]any{"status": "ok"}
	if jobs, err := s.Printing.Jobs(); err != nil {
		printStatus["status"] = "unavailable"
	} else {
		printStatus["failed_prints"] = len(jobs)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service": map[string]any{
			"uptime_seconds": time.Since(s.startedAt).Seconds(),
			"mode":           s.Mode,
			"pid":            os.Getpid(),
			"hostname":       hostname,
		},
		"terminal":  terminalStatus,
		"printing":  printStatus,
		"timestamp": time.Now(),
	})
}

func (s *Server) orchestrator(w http.ResponseWriter) (*orchestrator.Orchestrator, bool) {
	o, err := s.Terminals.Orchestrator()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return nil, false
	}
	return o, true
}

func (s *Server) listTransactionsHandler(w http.ResponseWriter, _ *http.Request) {
	o, ok := s.orchestrator(w)
	if !ok {
		return
	}
	active := o.Active()
	if active == nil {
		active = []orchestrator.Snapshot{}
	}
	writeJSON(w, http.StatusOK, active)
}

// startTransactionHandler creates a transaction. With ?wait=true it blocks
// until the outcome is known, otherwise it returns the snapshot immediately
// and the caller polls GET /transactions/{id}.
func (s *Server) startTransactionHandler(w http.ResponseWriter, r *http.Request) {
	var req startTransactionRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	o, ok := s.orchestrator(w)
	if !ok {
		return
	}

	session, err := o.Start(r.Context(), orchestrator.Request{
		AmountMinorUnits: req.AmountMinorUnits,
		Kind:             req.Kind,
		Reference:        req.Reference,
	}, orchestrator.Callbacks{
		OnDelayed: func(tx *orchestrator.Transaction, notice *terminal.PollingTimeoutError) {
			s.Logger.Warningf("Transaction %s: %v", tx.ID(), notice)
		},
	})
	if err != nil {
		var createErr *terminal.TransactionCreateError
		if errors.As(err, &createErr) {
			status := http.StatusBadGateway
			if errors.Is(err, terminal.ErrInvalidAmount) {
				status = http.StatusUnprocessableEntity
			} else if errors.Is(err, terminal.ErrNotPaired) {
				status = http.StatusConflict
			}
			writeError(w, status, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		ctx, cancel := context.WithTimeout(r.Context(), maxWait)
		defer cancel()
		if _, err := session.Wait(ctx); err != nil {
			writeJSON(w, http.StatusAccepted, session.Transaction().Snapshot())
			return
		}
		writeJSON(w, http.StatusOK, session.Transaction().Snapshot())
		return
	}
	writeJSON(w, http.StatusAccepted, session.Transaction().Snapshot())
}

func (s *Server) getTransactionHandler(w http.ResponseWriter, r *http.Request) {
	o, ok := s.orchestrator(w)
	if !ok {
		return
	}
	tx, found := o.Lookup(chi.URLParam(r, "id"))
	if !found {
		writeError(w, http.StatusNotFound, orchestrator.ErrTransactionNotActive)
		return
	}
	writeJSON(w, http.StatusOK, tx.Snapshot())
}

func (s *Server) cancelTransactionHandler(w http.ResponseWriter, r *http.Request) {
	o, ok := s.orchestrator(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := o.Cancel(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrTransactionNotActive) {
			status = http.StatusConflict
			if _, found := o.Lookup(id); !found {
				status = http.StatusNotFound
			}
		}
		writeError(w, status, err)
		return
	}
	tx, _ := o.Lookup(id)
	writeJSON(w, http.StatusOK, tx.Snapshot())
}

func (s *Server) pairingStatusHandler(w http.ResponseWriter, _ *http.Request) {
	pm, err := s.Terminals.Pairing()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, pm.Status())
}

func (s *Server) pairHandler(w http.ResponseWriter, r *http.Request) {
	var input terminal.PairingInput
	if err := s.decode(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pm, err := s.Terminals.Pairing()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	if _, err := pm.Pair(r.Context(), input); err != nil {
		var pairErr *terminal.PairingError
		switch {
		case errors.Is(err, terminal.ErrPairingUnsupported):
			writeError(w, http.StatusNotImplemented, err)
		case errors.As(err, &pairErr):
			devicePaired := pairErr.DevicePaired
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), DevicePaired: &devicePaired})
		default:
			writeError(w, http.StatusConflict, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, pm.Status())
}

func (s *Server) unpairHandler(w http.ResponseWriter, r *http.Request) {
	pm, err := s.Terminals.Pairing()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if err := pm.Unpair(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pairing.ErrPairingInProgress) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, pm.Status())
}

func (s *Server) printReceiptHandler(w http.ResponseWriter, r *http.Request) {
	var receipt printing.Receipt
	if err := s.decode(r, &receipt); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Printing.PrintReceipt(r.Context(), receipt, false); err != nil {
		var hwErr *printing.PrintHardwareError
		queued := errors.As(err, &hwErr) && !errors.Is(err, printing.ErrNotQueued)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Queued: queued})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "printed"})
}

func (s *Server) printSalesReportHandler(w http.ResponseWriter, r *http.Request) {
	var report printing.SalesReport
	if err := s.decode(r, &report); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Printing.PrintSalesReport(r.Context(), report); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "printed"})
}

func (s *Server) printQueueHandler(w http.ResponseWriter, _ *http.Request) {
	jobs, err := s.Printing.Jobs()
	if err != nil {
		s.Logger.Errorf("Failed to load print queue: %v", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if jobs == nil {
		jobs = []printing.PrintJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) getSettingsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.SettingsManager.Current())
}

func (s *Server) settingsHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.Logger.Errorf("Error reading settings body: %v", err)
		http.Error(w, "Error reading request body", http.StatusInternalServerError)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := s.SettingsManager.UpdateSettings(body); err != nil {
		s.Logger.Errorf("Failed to process register settings: %v", err)
		http.Error(w, "Failed to process settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.SettingsManager.Current())
}

var _ Terminals = (*service.TerminalManager)(nil)

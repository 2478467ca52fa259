// Package windcave drives Windcave station terminals. A transaction is created
// against a stationId and identified by a client-generated txnRef; the pair is
// polled until the host reports a final status.
package windcave

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pos-terminal-bridge/internal/core"
	"pos-terminal-bridge/internal/terminal"
	"pos-terminal-bridge/internal/transport"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultBaseURL      = "https://sec.windcave.com/api/v1/hit"
	defaultCurrency     = "NZD"
	defaultPollInterval = 2 * time.Second
	defaultSoftDeadline = 45 * time.Second
	defaultHardTimeout  = 3 * time.Minute
)

const (
	statusAccepted  = "ACCEPTED"
	statusDeclined  = "DECLINED"
	statusCancelled = "CANCELLED"
	statusFailed    = "FAILED"
)

type Settings struct {
	BaseURL        string `json:"base_url"`
	StationID      string `json:"station_id"`
	Username       string `json:"username"`
	APIKey         string `json:"api_key"`
	Currency       string `json:"currency"`
	PollIntervalMs int    `json:"poll_interval_ms"`
	SoftDeadlineMs int    `json:"soft_deadline_ms"`
	HardTimeoutMs  int    `json:"hard_timeout_ms"`
}

func init() {
	terminal.Register(terminal.Windcave, New)
}

type Adapter struct {
	logger   *logrus.Logger
	bridge   transport.Bridge
	settings Settings

	pollInterval time.Duration
	softDeadline time.Duration
	hardTimeout  time.Duration
}

func New(deps terminal.Dependencies, rawConfig json.RawMessage) (terminal.Adapter, error) {
	var s Settings
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &s); err != nil {
			return nil, fmt.Errorf("invalid windcave settings: %w", err)
		}
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("windcave adapter requires a transport bridge")
	}
	if s.BaseURL == "" {
		s.BaseURL = defaultBaseURL
	}
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")
	if s.Currency == "" {
		s.Currency = defaultCurrency
	}

	logger := deps.Logger
	if logger == nil {
		logger = core.NopLogger()
	}
	return &Adapter{
		logger:       logger,
		bridge:       deps.Bridge,
		settings:     s,
		pollInterval: terminal.Millis(s.PollIntervalMs, defaultPollInterval),
		softDeadline: terminal.Millis(s.SoftDeadlineMs, defaultSoftDeadline),
		hardTimeout:  terminal.Millis(s.HardTimeoutMs, defaultHardTimeout),
	}, nil
}

func (a *Adapter) Provider() terminal.Provider { return terminal.Windcave }
func (a *Adapter) Mode() terminal.Mode         { return terminal.ModePolling }

// Pair is not part of the Windcave flow; stations are provisioned by the
// vendor and addressed by stationId.
func (a *Adapter) Pair(ctx context.Context, input terminal.PairingInput) (*terminal.PairingCredential, error) {
	return nil, &terminal.PairingError{
		Provider: terminal.Windcave,
		Reason:   "stations are provisioned by Windcave",
		Err:      terminal.ErrPairingUnsupported,
	}
}

func (a *Adapter) authHeader() map[string]string {
	h := map[string]string{}
	if a.settings.Username != "" {
		token := base64.StdEncoding.EncodeToString([]byte(a.settings.Username + ":" + a.settings.APIKey))
		h["Authorization"] = "Basic " + token
	}
	return h
}

type createRequest struct {
	StationID string `json:"stationId"`
	TxnType   string `json:"txnType"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	TxnRef    string `json:"txnRef"`
	Reference string `json:"merchantReference,omitempty"`
}

func txnType(kind terminal.Kind) (string, error) {
	switch kind {
	case terminal.Purchase:
		return "Purchase", nil
	case terminal.Refund:
		return "Refund", nil
	default:
		return "", fmt.Errorf("unsupported transaction kind %q", kind)
	}
}

func (a *Adapter) CreateTransaction(ctx context.Context, req terminal.TransactionRequest) (*terminal.Handle, error) {
	if err := terminal.ValidateAmount(terminal.Windcave, req.AmountMinorUnits); err != nil {
		return nil, err
	}
	kind, err := txnType(req.Kind)
	if err != nil {
		return nil, terminal.CreateFailed(terminal.Windcave, "invalid transaction kind", err)
	}
	if a.settings.StationID == "" {
		return nil, terminal.CreateFailed(terminal.Windcave, "no station configured", terminal.ErrNotPaired)
	}

	body := createRequest{
		StationID: a.settings.StationID,
		TxnType:   kind,
		Amount:    terminal.MinorToDecimal(req.AmountMinorUnits),
		Currency:  a.settings.Currency,
		TxnRef:    uuid.NewString(),
		Reference: req.Reference,
	}
	var created struct {
		TxnRef    string `json:"txnRef"`
		StationID string `json:"stationId"`
	}
	if err := transport.DoJSON(ctx, a.bridge, http.MethodPost, a.settings.BaseURL+"/transactions", a.authHeader(), body, &created); err != nil {
		return nil, terminal.CreateFailed(terminal.Windcave, "transaction not accepted by host", err)
	}
	if created.TxnRef == "" {
		created.TxnRef = body.TxnRef
	}
	if created.StationID == "" {
		created.StationID = body.StationID
	}

	return &terminal.Handle{
		TransactionID:    req.TransactionID,
		Provider:         terminal.Windcave,
		PollingHandle:    created.TxnRef,
		StationID:        created.StationID,
		AmountMinorUnits: req.AmountMinorUnits,
		Kind:             req.Kind,
		CreatedAt:        time.Now(),
	}, nil
}

type statusResponse struct {
	TxnRef        string `json:"txnRef"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	EftposReceipt string `json:"eftposReceipt"`
}

// PollOutcome polls (stationId, txnRef) until a final status. The delayed
// notice is raised once the soft deadline has elapsed.
func (a *Adapter) PollOutcome(ctx context.Context, h *terminal.Handle, onDelayed func(*terminal.PollingTimeoutError)) (terminal.Outcome, error) {
	started := h.CreatedAt
	if started.IsZero() {
		started = time.Now()
	}
	statusURL := fmt.Sprintf("%s/transactions/%s?stationId=%s",
		a.settings.BaseURL, url.PathEscape(h.PollingHandle), url.QueryEscape(h.StationID))

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	notified := false
	for {
		var resp statusResponse
		if err := transport.DoJSON(ctx, a.bridge, http.MethodGet, statusURL, a.authHeader(), nil, &resp); err != nil {
			if ctx.Err() != nil {
				return terminal.Outcome{}, ctx.Err()
			}
			return terminal.Outcome{}, &terminal.TerminalFailure{Provider: terminal.Windcave, Reason: "status query failed", Err: err}
		}

		switch strings.ToUpper(resp.Status) {
		case statusAccepted:
			return terminal.Approved(resp.Message, resp.EftposReceipt), nil
		case statusDeclined:
			return terminal.Declined(resp.Message, resp.EftposReceipt), nil
		case statusCancelled:
			return terminal.Cancelled(), nil
		case statusFailed:
			reason := resp.Message
			if reason == "" {
				reason = "terminal reported failure"
			}
			return terminal.Failed(reason), nil
		}

		elapsed := time.Since(started)
		if !notified && elapsed >= a.softDeadline && onDelayed != nil {
			notified = true
			onDelayed(&terminal.PollingTimeoutError{
				Provider:      terminal.Windcave,
				TransactionID: h.TransactionID,
				Elapsed:       elapsed,
			})
		}
		if elapsed >= a.hardTimeout {
			return terminal.Outcome{}, &terminal.TerminalFailure{
				Provider: terminal.Windcave,
				Reason:   fmt.Sprintf("no result after %s", a.hardTimeout),
			}
		}

		a.logger.Debugf("Windcave %s on station %s still %s", h.PollingHandle, h.StationID, resp.Status)
		select {
		case <-ctx.Done():
			return terminal.Outcome{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// CancelTransaction is not offered for station transactions.
func (a *Adapter) CancelTransaction(ctx context.Context, h *terminal.Handle) error {
	return terminal.ErrCancelUnsupported
}

// Package smartpay drives SmartPay cloud terminals: pairing by a six digit
// code, asynchronous transaction creation that returns a polling URL, and
// client-side polling of that URL.
package smartpay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pos-terminal-bridge/internal/core"
	"pos-terminal-bridge/internal/terminal"
	"pos-terminal-bridge/internal/transport"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultBaseURL      = "https://api.smart-connect.cloud"
	defaultPollInterval = 2 * time.Second
	defaultHardTimeout  = 3 * time.Minute
)

type Settings struct {
	BaseURL        string `json:"base_url"`
	RegisterID     string `json:"register_id"`
	BusinessName   string `json:"business_name"`
	VendorName     string `json:"vendor_name"`
	PollIntervalMs int    `json:"poll_interval_ms"`
	HardTimeoutMs  int    `json:"hard_timeout_ms"`
}

func init() {
	terminal.Register(terminal.SmartPay, New)
}

type Adapter struct {
	logger      *logrus.Logger
	bridge      transport.Bridge
	credentials terminal.CredentialSource
	settings    Settings

	pollInterval time.Duration
	hardTimeout  time.Duration
}

func New(deps terminal.Dependencies, rawConfig json.RawMessage) (terminal.Adapter, error) {
	var s Settings
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &s); err != nil {
			return nil, fmt.Errorf("invalid smartpay settings: %w", err)
		}
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("smartpay adapter requires a transport bridge")
	}
	if s.BaseURL == "" {
		s.BaseURL = defaultBaseURL
	}
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")
	if s.BusinessName == "" {
		s.BusinessName = "Restaurant"
	}
	if s.VendorName == "" {
		s.VendorName = "POS Terminal Bridge"
	}

	logger := deps.Logger
	if logger == nil {
		logger = core.NopLogger()
	}
	return &Adapter{
		logger:       logger,
		bridge:       deps.Bridge,
		credentials:  deps.Credentials,
		settings:     s,
		pollInterval: terminal.Millis(s.PollIntervalMs, defaultPollInterval),
		hardTimeout:  terminal.Millis(s.HardTimeoutMs, defaultHardTimeout),
	}, nil
}

func (a *Adapter) Provider() terminal.Provider { return terminal.SmartPay }
func (a *Adapter) Mode() terminal.Mode         { return terminal.ModePolling }

// registerID prefers a stored pairing credential over the configured id so a
// register that paired at runtime keeps using the id the device knows.
func (a *Adapter) registerID() string {
	if a.credentials != nil {
		if cred, err := a.credentials.Credential(terminal.SmartPay); err == nil && cred.Credential != "" {
			return cred.Credential
		}
	}
	return a.settings.RegisterID
}

// Pair registers this POS with the terminal showing code. The register id is
// the long-lived credential.
func (a *Adapter) Pair(ctx context.Context, input terminal.PairingInput) (*terminal.PairingCredential, error) {
	code := strings.TrimSpace(input.Code)
	if len(code) != 6 || !isDigits(code) {
		return nil, &terminal.PairingError{Provider: terminal.SmartPay, Reason: "pairing code must be 6 digits"}
	}

	regID := a.registerID()
	if regID == "" {
		regID = uuid.NewString()
	}

	q := url.Values{}
	q.Set("POSRegisterID", regID)
	q.Set("POSRegisterName", a.settings.VendorName)
	q.Set("POSBusinessName", a.settings.BusinessName)
	q.Set("POSVendorName", a.settings.VendorName)
	pairURL := fmt.Sprintf("%s/POS/Pairing/%s?%s", a.settings.BaseURL, code, q.Encode())

	var resp struct {
		Error string `json:"error"`
	}
	if err := transport.DoJSON(ctx, a.bridge, http.MethodPut, pairURL, nil, nil, &resp); err != nil {
		return nil, &terminal.PairingError{Provider: terminal.SmartPay, Reason: pairingReason(err), Err: err}
	}
	if resp.Error != "" {
		return nil, &terminal.PairingError{Provider: terminal.SmartPay, Reason: resp.Error}
	}

	return &terminal.PairingCredential{
		Provider:   terminal.SmartPay,
		Credential: regID,
		ObtainedAt: time.Now().UTC(),
	}, nil
}

func pairingReason(err error) string {
	var statusErr *transport.StatusError
	if errors.As(err, &statusErr) {
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal([]byte(statusErr.Body), &body) == nil && body.Error != "" {
			return body.Error
		}
		return fmt.Sprintf("pairing rejected with status %d", statusErr.StatusCode)
	}
	return "terminal unreachable"
}

func transactionType(kind terminal.Kind) (string, error) {
	switch kind {
	case terminal.Purchase:
		return "Card.Purchase", nil
	case terminal.Refund:
		return "Card.Refund", nil
	case terminal.QRPurchase:
		return "QR.Merchant.Purchase", nil
	case terminal.QRRefund:
		return "QR.Refund", nil
	default:
		return "", fmt.Errorf("unsupported transaction kind %q", kind)
	}
}

func (a *Adapter) CreateTransaction(ctx context.Context, req terminal.TransactionRequest) (*terminal.Handle, error) {
	if err := terminal.ValidateAmount(terminal.SmartPay, req.AmountMinorUnits); err != nil {
		return nil, err
	}
	txType, err := transactionType(req.Kind)
	if err != nil {
		return nil, terminal.CreateFailed(terminal.SmartPay, "invalid transaction kind", err)
	}
	regID := a.registerID()
	if regID == "" {
		return nil, terminal.CreateFailed(terminal.SmartPay, "register has no pairing id", terminal.ErrNotPaired)
	}

	form := url.Values{}
	form.Set("POSRegisterID", regID)
	form.Set("POSBusinessName", a.settings.BusinessName)
	form.Set("POSVendorName", a.settings.VendorName)
	form.Set("TransactionMode", "ASYNC")
	form.Set("TransactionType", txType)
	form.Set("AmountTotal", strconv.FormatInt(req.AmountMinorUnits, 10))
	if req.Reference != "" {
		form.Set("PosReference", req.Reference)
	}

	resp, err := a.bridge.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		URL:    a.settings.BaseURL + "/POS/Transaction",
		Header: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
			"Accept":       "application/json",
		},
		Body: []byte(form.Encode()),
	})
	if err != nil {
		return nil, terminal.CreateFailed(terminal.SmartPay, "terminal unreachable", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, terminal.CreateFailed(terminal.SmartPay, "transaction rejected",
			&transport.StatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)})
	}

	var created struct {
		PollingURL string `json:"PollingUrl"`
	}
	if err := json.Unmarshal(resp.Body, &created); err != nil || created.PollingURL == "" {
		return nil, terminal.CreateFailed(terminal.SmartPay, "no polling url in response", err)
	}

	return &terminal.Handle{
		TransactionID:    req.TransactionID,
		Provider:         terminal.SmartPay,
		PollingHandle:    created.PollingURL,
		AmountMinorUnits: req.AmountMinorUnits,
		Kind:             req.Kind,
		CreatedAt:        time.Now(),
	}, nil
}

type pollResponse struct {
	TransactionStatus string `json:"transactionStatus"`
	Data              struct {
		TransactionResult string `json:"TransactionResult"`
		ResultText        string `json:"ResultText"`
		Result            string `json:"Result"`
		Receipt           string `json:"Receipt"`
	} `json:"data"`
}

// PollOutcome queries the polling URL until the transaction completes. The
// first poll still reporting PENDING raises the delayed notice.
func (a *Adapter) PollOutcome(ctx context.Context, h *terminal.Handle, onDelayed func(*terminal.PollingTimeoutError)) (terminal.Outcome, error) {
	started := h.CreatedAt
	if started.IsZero() {
		started = time.Now()
	}
	deadline := started.Add(a.hardTimeout)

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	notified := false
	for {
		var resp pollResponse
		err := transport.DoJSON(ctx, a.bridge, http.MethodGet, h.PollingHandle, nil, nil, &resp)
		if err != nil {
			if ctx.Err() != nil {
				return terminal.Outcome{}, ctx.Err()
			}
			return terminal.Outcome{}, &terminal.TerminalFailure{Provider: terminal.SmartPay, Reason: "polling failed", Err: err}
		}

		a.logger.Debugf("SmartPay poll for %s: %s", h.TransactionID, resp.TransactionStatus)
		if resp.TransactionStatus == "COMPLETED" {
			return mapResult(resp), nil
		}

		if !notified && onDelayed != nil {
			notified = true
			onDelayed(&terminal.PollingTimeoutError{
				Provider:      terminal.SmartPay,
				TransactionID: h.TransactionID,
				Elapsed:       time.Since(started),
			})
		}

		if time.Now().After(deadline) {
			return terminal.Outcome{}, &terminal.TerminalFailure{
				Provider: terminal.SmartPay,
				Reason:   fmt.Sprintf("no result after %s", a.hardTimeout),
			}
		}

		select {
		case <-ctx.Done():
			return terminal.Outcome{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func mapResult(resp pollResponse) terminal.Outcome {
	d := resp.Data
	switch d.TransactionResult {
	case "OK-ACCEPTED":
		return terminal.Approved(d.ResultText, d.Receipt)
	case "OK-DECLINED":
		return terminal.Declined(d.ResultText, d.Receipt)
	case "CANCELLED":
		return terminal.Cancelled()
	default:
		reason := d.ResultText
		if reason == "" {
			reason = d.TransactionResult
		}
		return terminal.Failed(reason)
	}
}

// CancelTransaction is not offered by the SmartPay API; the operator cancels
// on the device.
func (a *Adapter) CancelTransaction(ctx context.Context, h *terminal.Handle) error {
	return terminal.ErrCancelUnsupported
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

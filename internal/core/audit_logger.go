package core

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AuditLogger appends every raw vendor exchange to hourly JSONL files so a
// disputed payment can be traced back to the bytes the terminal returned.
type AuditLogger struct {
	logDir    string
	maxSizeMB int64
	mutex     sync.Mutex
	logger    *logrus.Logger
}

func NewAuditLogger(logDir string, maxSizeMB int64, logger *logrus.Logger) *AuditLogger {
	if logger == nil {
		logger = NopLogger()
	}
	_ = os.MkdirAll(logDir, 0o755)
	return &AuditLogger{
		logDir:    logDir,
		maxSizeMB: maxSizeMB,
		logger:    logger,
	}
}

type auditEntry struct {
	Timestamp string          `json:"timestamp"`
	Target    string          `json:"target"`
	Direction string          `json:"direction"`
	RawJSON   json.RawMessage `json:"raw_json,omitempty"`
	Raw       string          `json:"raw,omitempty"`
}

// redactedFields never reach disk; they are pairing secrets. They are masked
// in JSON objects, form bodies and URL query strings alike.
var redactedFields = []string{"integrationKey", "apiKey", "api_key", "password", "POSRegisterID"}

const redactedValue = "REDACTED"

// Log records one request or response. Non-JSON bodies are stored as strings.
func (a *AuditLogger) Log(target, direction string, body []byte) error {
	entry := auditEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Target:    redactURL(target),
		Direction: direction,
	}
	if json.Valid(body) {
		entry.RawJSON = redact(body)
	} else {
		entry.Raw = redactForm(string(body))
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	a.mutex.Lock()
	defer a.mutex.Unlock()

	filename := a.getCurrentLogFile()
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err = file.Write(line); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}

	if err := a.checkRotation(filename); err != nil {
		a.logger.Warningf("Audit rotation error: %v", err)
	}
	return nil
}

// redact masks top-level secret fields of a JSON object. Anything else is
// returned unchanged.
func redact(body []byte) json.RawMessage {
	var obj map[string]json.RawMessage
	if json.Unmarshal(body, &obj) != nil {
		return body
	}
	changed := false
	for _, field := range redactedFields {
		if _, ok := obj[field]; ok {
			obj[field] = json.RawMessage(`"` + redactedValue + `"`)
			changed = true
		}
	}
	if !changed {
		return body
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return body
	}
	return out
}

// redactForm masks secret fields of a form-encoded body. Bodies that are not
// forms, or carry no secret, are returned unchanged.
func redactForm(body string) string {
	if body == "" || !strings.Contains(body, "=") {
		return body
	}
	values, err := url.ParseQuery(body)
	if err != nil || !maskValues(values) {
		return body
	}
	return values.Encode()
}

// redactURL masks secret query parameters of target.
func redactURL(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.RawQuery == "" {
		return target
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil || !maskValues(values) {
		return target
	}
	u.RawQuery = values.Encode()
	return u.String()
}

func maskValues(values url.Values) bool {
	changed := false
	for _, field := range redactedFields {
		if _, ok := values[field]; ok {
			values.Set(field, redactedValue)
			changed = true
		}
	}
	return changed
}

func (a *AuditLogger) getCurrentLogFile() string {
	return filepath.Join(a.logDir, fmt.Sprintf("terminal_audit_%s.jsonl", time.Now().Format("20060102_15")))
}

func (a *AuditLogger) checkRotation(filename string) error {
	stat, err := os.Stat(filename)
	if err != nil {
		return err
	}

	if stat.Size()/(1024*1024) >= a.maxSizeMB {
		return a.rotateLog(filename)
	}
	return nil
}

func (a *AuditLogger) rotateLog(filename string) error {
	rotatedFile := fmt.Sprintf("%s.rotated_%s", filename, time.Now().Format("20060102_150405"))

	if err := os.Rename(filename, rotatedFile); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	a.logger.Infof("Rotated audit log: %s -> %s", filename, rotatedFile)
	return nil
}

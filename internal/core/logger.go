package core

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger. format is "json" for production and
// anything else for human-readable text.
func NewLogger(level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyMsg: "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	}
	return logger
}

// NopLogger discards everything. Used where a caller passes no logger.
func NopLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// AppLogger logs operational milestones of one component with structured
// fields.
type AppLogger struct {
	*logrus.Entry
}

func NewAppLogger(logger *logrus.Logger, component string) *AppLogger {
	if logger == nil {
		logger = NopLogger()
	}
	return &AppLogger{Entry: logger.WithField("component", component)}
}

// ===== TRANSACTIONS =====

func (a *AppLogger) LogStateTransition(provider, transactionID, fromState, toState string) {
	a.WithFields(logrus.Fields{
		"provider":       provider,
		"transaction_id": transactionID,
		"from_state":     fromState,
		"to_state":       toState,
	}).Debug("state transition")
}

func (a *AppLogger) LogTransactionComplete(provider, transactionID, outcome string, amountMinor int64, duration time.Duration) {
	a.WithFields(logrus.Fields{
		"provider":       provider,
		"transaction_id": transactionID,
		"outcome":        outcome,
		"amount_minor":   amountMinor,
		"duration_ms":    duration.Milliseconds(),
	}).Info("transaction complete")
}

func (a *AppLogger) LogDelayedNotice(provider, transactionID string, elapsed time.Duration) {
	a.WithFields(logrus.Fields{
		"provider":       provider,
		"transaction_id": transactionID,
		"elapsed_ms":     elapsed.Milliseconds(),
	}).Warn("transaction delayed")
}

func (a *AppLogger) LogOrphanedOutcome(provider, transactionID, outcome string) {
	a.WithFields(logrus.Fields{
		"provider":       provider,
		"transaction_id": transactionID,
		"outcome":        outcome,
	}).Warn("discarded outcome after cancellation")
}

// ===== PAIRING =====

func (a *AppLogger) LogPairing(provider string, success, devicePaired bool, err error) {
	entry := a.WithFields(logrus.Fields{
		"provider":      provider,
		"success":       success,
		"device_paired": devicePaired,
	})
	if err != nil {
		entry.WithError(err).Error("pairing failed")
		return
	}
	entry.Info("pairing complete")
}

// ===== PRINTING =====

func (a *AppLogger) LogPrintFailure(orderID, printerAddress string, isRetry bool, err error) {
	a.WithFields(logrus.Fields{
		"order_id": orderID,
		"printer":  printerAddress,
		"retry":    isRetry,
	}).WithError(err).Error("receipt print failed")
}

func (a *AppLogger) LogQueueAlert(queueLength, threshold int) {
	a.WithFields(logrus.Fields{
		"queue_length": queueLength,
		"threshold":    threshold,
	}).Error("failed prints exceeded threshold")
}

// ===== LIFECYCLE =====

func (a *AppLogger) LogStartup(config map[string]interface{}) {
	fields := logrus.Fields{
		"startup_time": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range config {
		fields[k] = v
	}
	a.WithFields(fields).Info("pos-terminal-bridge started")
}

func (a *AppLogger) LogConfigUpdate(configType string, oldValue, newValue interface{}) {
	a.WithFields(logrus.Fields{
		"config_type": configType,
		"old_value":   oldValue,
		"new_value":   newValue,
	}).Debug("config updated")
}

// Package alert carries operational signals out of the bridge: the failed
// print threshold alert and errors the poller could not recover from.
package alert

import (
	"context"
	"errors"
	"time"

	"pos-terminal-bridge/internal/core"

	"github.com/sirupsen/logrus"
)

const TypeQueueAlertThresholdExceeded = "QueueAlertThresholdExceeded"

// Alert is an operational signal, never shown to the cashier.
type Alert struct {
	Type        string         `json:"type"`
	Message     string         `json:"message"`
	QueueLength int            `json:"queueLength,omitempty"`
	Threshold   int            `json:"threshold,omitempty"`
	At          time.Time      `json:"at"`
	Details     map[string]any `json:"details,omitempty"`
}

// QueueThresholdExceeded builds the failed-print alert.
func QueueThresholdExceeded(queueLength, threshold int) Alert {
	return Alert{
		Type:        TypeQueueAlertThresholdExceeded,
		Message:     "failed prints exceeded threshold",
		QueueLength: queueLength,
		Threshold:   threshold,
		At:          time.Now().UTC(),
	}
}

type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

type ErrorReporter interface {
	ReportError(ctx context.Context, component string, err error) error
}

// LogSink writes alerts and errors to the process log.
type LogSink struct {
	logger *core.AppLogger
}

func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: core.NewAppLogger(logger, "alert")}
}

func (s *LogSink) Alert(_ context.Context, a Alert) error {
	if a.Type == TypeQueueAlertThresholdExceeded {
		s.logger.LogQueueAlert(a.QueueLength, a.Threshold)
		return nil
	}
	s.logger.WithFields(logrus.Fields{"type": a.Type, "details": a.Details}).Error(a.Message)
	return nil
}

func (s *LogSink) ReportError(_ context.Context, component string, err error) error {
	s.logger.WithField("source", component).WithError(err).Error("reported error")
	return nil
}

// Fanout delivers to every sink and joins their errors.
type Fanout struct {
	alerters  []Alerter
	reporters []ErrorReporter
}

// NewFanout accepts values implementing Alerter, ErrorReporter or both.
func NewFanout(sinks ...any) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if a, ok := s.(Alerter); ok {
			f.alerters = append(f.alerters, a)
		}
		if r, ok := s.(ErrorReporter); ok {
			f.reporters = append(f.reporters, r)
		}
	}
	return f
}

func (f *Fanout) Alert(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range f.alerters {
		errs = append(errs, s.Alert(ctx, a))
	}
	return errors.Join(errs...)
}

func (f *Fanout) ReportError(ctx context.Context, component string, err error) error {
	var errs []error
	for _, s := range f.reporters {
		errs = append(errs, s.ReportError(ctx, component, err))
	}
	return errors.Join(errs...)
}

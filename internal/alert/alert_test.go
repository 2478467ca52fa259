package alert

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaSinkAlert(t *testing.T) {
	w := &recordingWriter{}
	sink := NewKafkaSink(w, "pos.alerts", "pos.errors", "store-12")

	require.NoError(t, sink.Alert(context.Background(), QueueThresholdExceeded(4, 3)))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "pos.alerts", w.msgs[0].Topic)
	assert.Equal(t, TypeQueueAlertThresholdExceeded, string(w.msgs[0].Key))

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, float64(4), got["queueLength"])
	assert.Equal(t, "store-12", got["site"])
}

func TestKafkaSinkReportError(t *testing.T) {
	w := &recordingWriter{}
	sink := NewKafkaSink(w, "pos.alerts", "pos.errors", "")

	require.NoError(t, sink.ReportError(context.Background(), "orders", errors.New("graphql: 502")))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "pos.errors", w.msgs[0].Topic)
	assert.Contains(t, string(w.msgs[0].Value), "graphql: 502")

	w.err = errors.New("broker down")
	assert.Error(t, sink.ReportError(context.Background(), "orders", errors.New("x")))
}

func TestFanoutAndLogSink(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	w := &recordingWriter{}
	f := NewFanout(NewLogSink(logger), NewKafkaSink(w, "a", "e", ""))

	require.NoError(t, f.Alert(context.Background(), QueueThresholdExceeded(5, 3)))
	require.NoError(t, f.ReportError(context.Background(), "orders", errors.New("boom")))

	assert.Len(t, w.msgs, 2)
	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, "failed prints exceeded threshold", hook.AllEntries()[0].Message)
}

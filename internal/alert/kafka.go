package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes alerts and error reports so they reach whoever watches
// the site remotely.
type KafkaSink struct {
	writer     MessageWriter
	alertTopic string
	errorTopic string
	site       string
}

func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
}

func NewKafkaSink(writer MessageWriter, alertTopic, errorTopic, site string) *KafkaSink {
	return &KafkaSink{writer: writer, alertTopic: alertTopic, errorTopic: errorTopic, site: site}
}

func (k *KafkaSink) Alert(ctx context.Context, a Alert) error {
	body, err := json.Marshal(struct {
		Alert
		Site string `json:"site,omitempty"`
	}{a, k.site})
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	return k.write(ctx, k.alertTopic, a.Type, body)
}

type errorReport struct {
	Site      string    `json:"site,omitempty"`
	Component string    `json:"component"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

func (k *KafkaSink) ReportError(ctx context.Context, component string, reported error) error {
	body, err := json.Marshal(errorReport{
		Site:      k.site,
		Component: component,
		Error:     reported.Error(),
		At:        time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode error report: %w", err)
	}
	return k.write(ctx, k.errorTopic, component, body)
}

func (k *KafkaSink) write(ctx context.Context, topic, key string, body []byte) error {
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: body,
	}); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

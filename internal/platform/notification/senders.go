package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// ---------------------------------------------------------------------------
// FCM
// ---------------------------------------------------------------------------

// FCMSender posts messages to the Firebase legacy HTTP endpoint.
type FCMSender struct {
	url       string
	serverKey string
	client    *http.Client
}

// NewFCMSender creates an FCMSender. A nil client gets a 10s timeout client.
func NewFCMSender(url, serverKey string, client *http.Client) *FCMSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &FCMSender{url: url, serverKey: serverKey, client: client}
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound string `json:"sound"`
}

type fcmPayload struct {
	To           string            `json:"to"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data"`
}

func (s *FCMSender) Name() string { return "fcm" }

func (s *FCMSender) SendPush(ctx context.Context, msg PushMessage) error {
	data := map[string]string{
		"click_action": "FLUTTER_NOTIFICATION_CLICK",
		"id":           "1",
		"status":       "done",
	}
	for k, v := range msg.Data {
		data[k] = v
	}
	body, err := json.Marshal(fcmPayload{
		To:           msg.Token,
		Notification: fcmNotification{Title: msg.Title, Body: msg.Body, Sound: "default"},
		Data:         data,
	})
	if err != nil {
		return fmt.Errorf("fcm: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("fcm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+s.serverKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fcm: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("fcm: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Kafka
// ---------------------------------------------------------------------------

// MessageWriter is the subset of *kafka.Writer used by KafkaSender.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes push messages to a topic consumed by a delivery
// worker outside this service.
type KafkaSender struct {
	writer MessageWriter
}

// NewKafkaWriter builds the production writer for brokers and topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func NewKafkaSender(w MessageWriter) *KafkaSender {
	return &KafkaSender{writer: w}
}

func (s *KafkaSender) Name() string { return "kafka" }

func (s *KafkaSender) SendPush(ctx context.Context, msg PushMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("kafka: json.Marshal failed: %w", err)
	}
	if err := s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Token),
		Value: value,
		Time:  time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("kafka: write failed: %w", err)
	}
	return nil
}

func (s *KafkaSender) Close() error {
	return s.writer.Close()
}

// ---------------------------------------------------------------------------
// Log
// ---------------------------------------------------------------------------

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) SendPush(_ context.Context, msg PushMessage) error {
	s.logger.Info().
		Str("title", msg.Title).
		Str("body", msg.Body).
		Msg("push notification")
	return nil
}

// ---------------------------------------------------------------------------
// Mock
// ---------------------------------------------------------------------------

// MockPushSender records calls and optionally fails them.
type MockPushSender struct {
	mu    sync.Mutex
	calls []PushMessage
	Err   error
}

func (m *MockPushSender) Name() string { return "mock" }

func (m *MockPushSender) SendPush(_ context.Context, msg PushMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, msg)
	return m.Err
}

// Calls returns a copy of all recorded messages.
func (m *MockPushSender) Calls() []PushMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PushMessage, len(m.calls))
	copy(out, m.calls)
	return out
}

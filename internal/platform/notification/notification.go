// Package notification delivers push messages to patient devices through a
// pluggable sender, renders the order lifecycle templates, and keeps an
// in-memory log of what was dispatched.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// DefaultLogSize bounds the in-memory notification log.
const DefaultLogSize = 1000

// ErrNoRecipient is returned when a message has no device token.
var ErrNoRecipient = errors.New("notification has no device token")

var (
	ErrNotFound     = errors.New("notification not found")
	ErrNotRetryable = errors.New("notification is not in failed status")
)

// Notification is a single outbound push message and its delivery outcome.
type Notification struct {
	ID           string            `json:"id"`
	Recipient    string            `json:"recipient"`
	Title        string            `json:"title"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       string            `json:"status"`
	Driver       string            `json:"driver"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// PushMessage is what a PushSender delivers.
type PushMessage struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// PushSender delivers a push message to one device.
type PushSender interface {
	SendPush(ctx context.Context, msg PushMessage) error
	Name() string
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

const (
	TplOrderConfirmed   = "order-confirmed"
	TplSampleCollection = "sample-collection"
	TplReportInProgress = "report-in-progress"
	TplReportGenerated  = "report-generated"
	TplOrderRejected    = "order-rejected"
)

// Template is a reusable title/body pair with {{key}} placeholders.
type Template struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the order templates registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	for _, t := range []Template{
		{ID: TplOrderConfirmed, Title: "Order Status Updated", Body: "Your order has been confirmed."},
		{ID: TplSampleCollection, Title: "Order Status Updated", Body: "On the way to collect sample."},
		{ID: TplReportInProgress, Title: "Order Status Updated", Body: "Your report is in progress."},
		{ID: TplReportGenerated, Title: "Order Status Updated", Body: "Your report process to generate."},
		{ID: TplOrderRejected, Title: "Order Rejected", Body: "Your order has been rejected. Reason: {{reason}}"},
	} {
		e.RegisterTemplate(t)
	}
	return e
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement. Keys
// present in the template but absent from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (title, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	title, body = t.Title, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		title = strings.ReplaceAll(title, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return title, body, nil
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// Manager sends push notifications and records each attempt.
type Manager struct {
	sender    PushSender
	templates *TemplateEngine
	logger    zerolog.Logger
	max       int

	mu       sync.RWMutex
	byID     map[string]*Notification
	order    []string
	retrying map[string]struct{}
}

// NewManager constructs a Manager. A nil logger is replaced with a no-op one.
func NewManager(sender PushSender, tpl *TemplateEngine, logger *zerolog.Logger) *Manager {
	m := &Manager{
		sender:    sender,
		templates: tpl,
		logger:    zerolog.Nop(),
		max:       DefaultLogSize,
		byID:      make(map[string]*Notification),
		retrying:  make(map[string]struct{}),
	}
	if logger != nil {
		m.logger = logger.With().Str("component", "notification").Logger()
	}
	return m
}

// Send dispatches n through the configured sender and stores the outcome.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = time.Now().UTC()
	n.Driver = m.sender.Name()

	err := m.deliver(ctx, n)
	m.store(n)
	return err
}

// SendFromTemplate renders templateID and sends it to the device token.
func (m *Manager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, token string, meta map[string]string) (*Notification, error) {
	title, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	n := &Notification{
		Recipient:    token,
		Title:        title,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
		Metadata:     meta,
	}
	return n, m.Send(ctx, n)
}

func (m *Manager) deliver(ctx context.Context, n *Notification) error {
	var err error
	if n.Recipient == "" {
		err = ErrNoRecipient
	} else {
		err = m.sender.SendPush(ctx, PushMessage{
			Token: n.Recipient,
			Title: n.Title,
			Body:  n.Body,
			Data:  n.Metadata,
		})
	}

	if err != nil {
		n.Status = StatusFailed
		n.Error = err.Error()
		m.logger.Warn().Err(err).Str("notification_id", n.ID).Str("template", n.TemplateID).Msg("push delivery failed")
		return err
	}
	n.Status = StatusSent
	n.Error = ""
	sentAt := time.Now().UTC()
	n.SentAt = &sentAt
	m.logger.Debug().Str("notification_id", n.ID).Str("template", n.TemplateID).Msg("push delivered")
	return nil
}

func (m *Manager) store(n *Notification) {
	cp := *n
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[n.ID]; ok {
		return
	}
	m.byID[n.ID] = &cp
	m.order = append(m.order, n.ID)
	for len(m.order) > m.max {
		delete(m.byID, m.order[0])
		m.order = m.order[1:]
	}
}

// Get returns a snapshot of the notification with the given ID.
func (m *Manager) Get(_ context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	cp := *n
	return &cp, nil
}

// List returns snapshots of the newest notifications first, optionally
// filtered by recipient, up to limit.
func (m *Manager) List(_ context.Context, recipient string, limit int) []Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Notification, 0)
	for i := len(m.order) - 1; i >= 0; i-- {
		n := m.byID[m.order[i]]
		if recipient != "" && n.Recipient != recipient {
			continue
		}
		result = append(result, *n)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result
}

// Retry re-sends a failed notification and returns its updated snapshot.
// Delivery runs without holding the log lock.
func (m *Manager) Retry(ctx context.Context, id string) (*Notification, error) {
	m.mu.Lock()
	stored, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if stored.Status != StatusFailed {
		status := stored.Status
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %q is %s", ErrNotRetryable, id, status)
	}
	if _, busy := m.retrying[id]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %q is already being retried", ErrNotRetryable, id)
	}
	m.retrying[id] = struct{}{}
	n := *stored
	m.mu.Unlock()

	err := m.deliver(ctx, &n)

	m.mu.Lock()
	delete(m.retrying, id)
	if _, ok := m.byID[id]; ok {
		cp := n
		m.byID[id] = &cp
	}
	m.mu.Unlock()
	return &n, err
}

// Stats returns counts of notifications grouped by status and template.
func (m *Manager) Stats(_ context.Context) map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byStatus := map[string]int{StatusSent: 0, StatusFailed: 0}
	byTemplate := make(map[string]int)
	for _, n := range m.byID {
		byStatus[n.Status]++
		if n.TemplateID != "" {
			byTemplate[n.TemplateID]++
		}
	}
	return map[string]interface{}{
		"total":       len(m.byID),
		"by_status":   byStatus,
		"by_template": byTemplate,
		"driver":      m.sender.Name(),
	}
}

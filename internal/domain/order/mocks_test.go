package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// -- Mock Repositories --

type mockOrderRepo struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]*Order
	carts    map[uuid.UUID]*Cart
	tokens   map[uuid.UUID]string
	tokenErr error
	getCalls int
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{
		orders: make(map[uuid.UUID]*Order),
		carts:  make(map[uuid.UUID]*Cart),
		tokens: make(map[uuid.UUID]string),
	}
}

// seed stores an order with a patient and returns it.
func (m *mockOrderRepo) seed(status Status) *Order {
	pid := uuid.New()
	o := &Order{ID: uuid.New(), UserID: uuid.New(), PatientID: &pid, Status: status, CreatedAt: time.Now()}
	m.orders[o.ID] = o
	return o
}

func (m *mockOrderRepo) GetByID(_ context.Context, id uuid.UUID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	o, ok := m.orders[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *mockOrderRepo) CreateCart(_ context.Context, c *Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.carts[c.ID] = c
	return nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id uuid.UUID, status Status, reason *string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	o.Status = status
	if reason != nil {
		r := *reason
		o.Reason = &r
	}
	o.UpdatedAt = time.Now()
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) SetAvatar(_ context.Context, id uuid.UUID, avatar string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	o.Avatar = &avatar
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return pgx.ErrNoRows
	}
	o.IsDelete = true
	return nil
}

func (m *mockOrderRepo) PatientDeviceToken(_ context.Context, patientID uuid.UUID) (string, error) {
	if m.tokenErr != nil {
		return "", m.tokenErr
	}
	return m.tokens[patientID], nil
}

func (m *mockOrderRepo) HasPendingPrescriptionOrder(_ context.Context, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.UserID == userID && o.PrescriptionID != nil && o.Status == StatusRequested {
			return true, nil
		}
	}
	return false, nil
}

type mockHistoryRepo struct {
	mu      sync.Mutex
	entries []*StatusHistory
	err     error
}

func (m *mockHistoryRepo) Create(_ context.Context, h *StatusHistory) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h.ID = uuid.New()
	h.ChangedAt = time.Now().Add(time.Duration(len(m.entries)) * time.Millisecond)
	m.entries = append(m.entries, h)
	return nil
}

func (m *mockHistoryRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*StatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*StatusHistory, 0)
	for _, h := range m.entries {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChangedAt.After(out[j].ChangedAt) })
	return out, nil
}

type mockProjectionRepo struct {
	orderRows  []OrderRow
	todayRows  []TodayRow
	queueRows  []QueueRow
	reportRows []ReportRow
	total      int

	patients map[uuid.UUID]*DetailPatient
	labs     map[uuid.UUID]*DetailLab
	items    []DetailItem

	lastFilter  ListFilter
	lastFrom    time.Time
	lastTo      time.Time
	itemsCalls  int
	lastPatient uuid.UUID
	err         error
}

func newMockProjectionRepo() *mockProjectionRepo {
	return &mockProjectionRepo{
		patients: make(map[uuid.UUID]*DetailPatient),
		labs:     make(map[uuid.UUID]*DetailLab),
	}
}

func (m *mockProjectionRepo) FullList(_ context.Context, f ListFilter) ([]OrderRow, int, error) {
	m.lastFilter = f
	return m.orderRows, m.total, m.err
}

func (m *mockProjectionRepo) Today(_ context.Context, name string, from, to time.Time, limit, offset int) ([]TodayRow, int, error) {
	m.lastFilter = ListFilter{Name: name, Limit: limit, Offset: offset}
	m.lastFrom, m.lastTo = from, to
	return m.todayRows, m.total, m.err
}

func (m *mockProjectionRepo) FlaboQueue(_ context.Context, limit, offset int) ([]QueueRow, int, error) {
	m.lastFilter = ListFilter{Limit: limit, Offset: offset}
	return m.queueRows, m.total, m.err
}

func (m *mockProjectionRepo) FlaboHistory(_ context.Context, from, to time.Time) ([]QueueRow, error) {
	m.lastFrom, m.lastTo = from, to
	return m.queueRows, m.err
}

func (m *mockProjectionRepo) CompletedReports(_ context.Context, f ListFilter) ([]ReportRow, int, error) {
	m.lastFilter = f
	return m.reportRows, m.total, m.err
}

func (m *mockProjectionRepo) Patient(_ context.Context, id uuid.UUID) (*DetailPatient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return p, nil
}

func (m *mockProjectionRepo) Laboratory(_ context.Context, id uuid.UUID) (*DetailLab, error) {
	l, ok := m.labs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return l, nil
}

func (m *mockProjectionRepo) DetailItems(_ context.Context, _, patientID uuid.UUID) ([]DetailItem, error) {
	m.itemsCalls++
	m.lastPatient = patientID
	return m.items, m.err
}

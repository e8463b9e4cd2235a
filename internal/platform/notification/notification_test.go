package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() (*Manager, *MockPushSender) {
	sender := &MockPushSender{}
	return NewManager(sender, NewTemplateEngine(), nil), sender
}

func TestTemplateEngine_OrderTemplates(t *testing.T) {
	e := NewTemplateEngine()

	tests := []struct {
		id    string
		title string
		body  string
	}{
		{TplOrderConfirmed, "Order Status Updated", "Your order has been confirmed."},
		{TplSampleCollection, "Order Status Updated", "On the way to collect sample."},
		{TplReportInProgress, "Order Status Updated", "Your report is in progress."},
		{TplReportGenerated, "Order Status Updated", "Your report process to generate."},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			title, body, err := e.Render(tt.id, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.title, title)
			assert.Equal(t, tt.body, body)
		})
	}
}

func TestTemplateEngine_RejectionReason(t *testing.T) {
	e := NewTemplateEngine()
	title, body, err := e.Render(TplOrderRejected, map[string]string{"reason": "Sample hemolyzed"})
	require.NoError(t, err)
	assert.Equal(t, "Order Rejected", title)
	assert.Equal(t, "Your order has been rejected. Reason: Sample hemolyzed", body)
}

func TestTemplateEngine_Unknown(t *testing.T) {
	_, _, err := NewTemplateEngine().Render("nope", nil)
	assert.Error(t, err)
}

func TestManager_SendFromTemplate(t *testing.T) {
	m, sender := newTestManager()
	ctx := context.Background()

	n, err := m.SendFromTemplate(ctx, TplOrderConfirmed, nil, "device-1", map[string]string{"order_id": "42"})
	require.NoError(t, err)
	assert.Equal(t, StatusSent, n.Status)
	assert.NotNil(t, n.SentAt)
	assert.Equal(t, "mock", n.Driver)

	calls := sender.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "device-1", calls[0].Token)
	assert.Equal(t, "Your order has been confirmed.", calls[0].Body)
	assert.Equal(t, "42", calls[0].Data["order_id"])

	got, err := m.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.NotSame(t, n, got)
	assert.Equal(t, *n, *got)
}

func TestManager_SendFailureIsRecorded(t *testing.T) {
	m, sender := newTestManager()
	sender.Err = errors.New("gateway down")

	n, err := m.SendFromTemplate(context.Background(), TplOrderRejected, map[string]string{"reason": "x"}, "device-1", nil)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, n.Status)
	assert.Equal(t, "gateway down", n.Error)

	stats := m.Stats(context.Background())
	assert.Equal(t, 1, stats["total"])
	assert.Equal(t, 1, stats["by_status"].(map[string]int)[StatusFailed])
}

func TestManager_NoRecipient(t *testing.T) {
	m, sender := newTestManager()
	_, err := m.SendFromTemplate(context.Background(), TplOrderConfirmed, nil, "", nil)
	assert.ErrorIs(t, err, ErrNoRecipient)
	assert.Empty(t, sender.Calls())
}

func TestManager_Retry(t *testing.T) {
	m, sender := newTestManager()
	ctx := context.Background()
	sender.Err = errors.New("temporary")

	n, _ := m.SendFromTemplate(ctx, TplReportInProgress, nil, "device-9", nil)
	require.Equal(t, StatusFailed, n.Status)

	sender.Err = nil
	retried, err := m.Retry(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, retried.Status)
	assert.Empty(t, retried.Error)
	assert.NotNil(t, retried.SentAt)

	stored, err := m.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, stored.Status)

	_, err = m.Retry(ctx, n.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)
	_, err = m.Retry(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// gatedSender blocks deliveries to the "slow" token until release is closed.
type gatedSender struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedSender) Name() string { return "gated" }

func (g *gatedSender) SendPush(_ context.Context, msg PushMessage) error {
	if msg.Token == "slow" {
		g.started <- struct{}{}
		<-g.release
	}
	return nil
}

func TestManager_RetryDoesNotHoldLogLock(t *testing.T) {
	sender := &gatedSender{started: make(chan struct{}, 1), release: make(chan struct{})}
	m := NewManager(sender, NewTemplateEngine(), nil)
	ctx := context.Background()

	failed := &Notification{ID: "n-slow", Recipient: "slow", Title: "t", Body: "b", Status: StatusFailed}
	m.store(failed)

	done := make(chan *Notification)
	go func() {
		n, _ := m.Retry(ctx, failed.ID)
		done <- n
	}()
	<-sender.started

	// The log stays readable and writable while delivery is in flight.
	stats := m.Stats(ctx)
	assert.Equal(t, 1, stats["total"])
	_, err := m.SendFromTemplate(ctx, TplOrderConfirmed, nil, "device-1", nil)
	require.NoError(t, err)

	snapshot, err := m.Get(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, snapshot.Status)

	_, err = m.Retry(ctx, failed.ID)
	assert.ErrorIs(t, err, ErrNotRetryable, "concurrent retry of the same notification")

	close(sender.release)
	retried := <-done
	require.NotNil(t, retried)
	assert.Equal(t, StatusSent, retried.Status)
	assert.Equal(t, StatusFailed, snapshot.Status, "earlier snapshots are not mutated")

	stored, err := m.Get(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, stored.Status)
}

func TestManager_SnapshotsSurviveConcurrentRetry(t *testing.T) {
	sender := &MockPushSender{Err: errors.New("down")}
	m := NewManager(sender, NewTemplateEngine(), nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 20; i++ {
		n, _ := m.SendFromTemplate(ctx, TplOrderConfirmed, nil, "device-1", nil)
		ids = append(ids, n.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			_, _ = m.Retry(ctx, id)
		}(id)
		go func(id string) {
			defer wg.Done()
			n, err := m.Get(ctx, id)
			if err == nil {
				_, _ = json.Marshal(n)
			}
			_, _ = json.Marshal(m.List(ctx, "", 0))
		}(id)
	}
	wg.Wait()
	assert.Len(t, m.List(ctx, "device-1", 0), 20)
}

func TestManager_ListNewestFirstAndFilter(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	first, _ := m.SendFromTemplate(ctx, TplOrderConfirmed, nil, "a", nil)
	_, _ = m.SendFromTemplate(ctx, TplOrderConfirmed, nil, "b", nil)
	third, _ := m.SendFromTemplate(ctx, TplSampleCollection, nil, "a", nil)

	all := m.List(ctx, "", 0)
	require.Len(t, all, 3)
	assert.Equal(t, third.ID, all[0].ID)

	onlyA := m.List(ctx, "a", 0)
	require.Len(t, onlyA, 2)
	assert.Equal(t, first.ID, onlyA[1].ID)

	assert.Len(t, m.List(ctx, "", 1), 1)
	assert.NotNil(t, m.List(ctx, "nobody", 0))
}

func TestManager_LogIsBounded(t *testing.T) {
	m, _ := newTestManager()
	m.max = 2
	ctx := context.Background()

	first, _ := m.SendFromTemplate(ctx, TplOrderConfirmed, nil, "a", nil)
	_, _ = m.SendFromTemplate(ctx, TplOrderConfirmed, nil, "b", nil)
	_, _ = m.SendFromTemplate(ctx, TplOrderConfirmed, nil, "c", nil)

	assert.Len(t, m.List(ctx, "", 0), 2)
	_, err := m.Get(ctx, first.ID)
	assert.Error(t, err)
}

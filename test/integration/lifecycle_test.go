//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labbox/labbox/internal/domain/order"
	"github.com/labbox/labbox/internal/platform/cache"
	"github.com/labbox/labbox/internal/platform/notification"
	"github.com/labbox/labbox/pkg/apperror"
)

type lifecycleEnv struct {
	engine    *order.Engine
	projector *order.Projector
	push      *notification.MockPushSender
	cache     cache.Cache
}

func newLifecycleEnv(t *testing.T) *lifecycleEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := cache.NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	c := cache.NewRedisCache(client, 0, "it:")
	push := &notification.MockPushSender{}
	logger := zerolog.Nop()
	mgr := notification.NewManager(push, notification.NewTemplateEngine(), &logger)

	repo := order.NewOrderRepoPG(globalDB.Pool)
	return &lifecycleEnv{
		engine:    order.NewEngine(repo, order.NewHistoryRepoPG(globalDB.Pool), globalDB.Pool, mgr, c, logger),
		projector: order.NewProjector(repo, order.NewProjectionRepoPG(globalDB.Pool), c, nil),
		push:      push,
		cache:     c,
	}
}

var (
	admin = order.Caller{ID: "admin-it", Role: order.RoleAdmin}
	flabo = order.Caller{ID: "flabo-it", Role: order.RoleFlabo}
)

func TestOrderLifecycle_AdminPipeline(t *testing.T) {
	ctx := context.Background()
	env := newLifecycleEnv(t)

	user := createUser(t, ctx, uniqueName("pipeline"), "device-token-1")
	id := createOrder(t, ctx, orderFixture{UserID: user, Status: 0, Price: "499.00"})

	want := []order.Status{
		order.StatusConfirmed,
		order.StatusSampleCollected,
		order.StatusInProgress,
		order.StatusReportGenerated,
	}
	for _, s := range want {
		o, err := env.engine.Advance(ctx, admin, id)
		require.NoError(t, err)
		assert.Equal(t, s, o.Status)
	}

	_, err := env.engine.Advance(ctx, admin, id)
	require.Error(t, err)
	assert.Equal(t, apperror.KindInvalidState, apperror.KindOf(err))

	hist, err := env.engine.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, hist, 4)
	assert.Equal(t, order.StatusInProgress, hist[0].FromStatus)
	assert.Equal(t, order.StatusReportGenerated, hist[0].ToStatus)
	assert.Equal(t, order.RoleAdmin, hist[0].Role)
	assert.Equal(t, "admin-it", hist[0].ChangedBy)

	calls := env.push.Calls()
	require.Len(t, calls, 4)
	for _, c := range calls {
		assert.Equal(t, "device-token-1", c.Token)
		assert.Equal(t, id.String(), c.Data["order_id"])
	}
}

func TestOrderLifecycle_InReviewJumpsToConfirmed(t *testing.T) {
	ctx := context.Background()
	env := newLifecycleEnv(t)

	user := createUser(t, ctx, uniqueName("review"), "")
	id := createOrder(t, ctx, orderFixture{UserID: user, Status: 1})

	o, err := env.engine.Advance(ctx, flabo, id)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, o.Status)
	assert.Empty(t, env.push.Calls(), "flabo transitions do not notify")
}

func TestOrderLifecycle_Reject(t *testing.T) {
	ctx := context.Background()
	env := newLifecycleEnv(t)

	user := createUser(t, ctx, uniqueName("reject"), "device-token-2")

	t.Run("requires reason", func(t *testing.T) {
		_, err := env.engine.Reject(ctx, admin, uuid.New(), "   ")
		assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := env.engine.Reject(ctx, admin, uuid.New(), "duplicate")
		assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
	})

	t.Run("rejects even terminal orders", func(t *testing.T) {
		id := createOrder(t, ctx, orderFixture{UserID: user, Status: 5})
		o, err := env.engine.Reject(ctx, admin, id, "patient unavailable")
		require.NoError(t, err)
		assert.Equal(t, order.StatusRejected, o.Status)
		require.NotNil(t, o.Reason)
		assert.Equal(t, "patient unavailable", *o.Reason)

		calls := env.push.Calls()
		require.NotEmpty(t, calls)
		assert.Contains(t, calls[len(calls)-1].Body, "patient unavailable")

		_, err = env.engine.Advance(ctx, admin, id)
		assert.Equal(t, apperror.KindInvalidState, apperror.KindOf(err))
	})
}

func TestOrderLifecycle_WritesEvictDetail(t *testing.T) {
	ctx := context.Background()
	env := newLifecycleEnv(t)

	user := createUser(t, ctx, uniqueName("detail"), "")
	lab := createLab(t, ctx, uniqueName("lab"))
	pkg := createPackage(t, ctx, uniqueName("pkg"), "1000", "750")
	id := createOrder(t, ctx, orderFixture{UserID: user, LabID: lab, PackageID: pkg, Status: 0})
	createCart(t, ctx, user, id, pkg, order.CartConfirmed)

	d, err := env.projector.Detail(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, order.StatusRequested, d.Status)
	require.NotNil(t, d.Lab)
	require.Len(t, d.Items, 1)
	assert.EqualValues(t, 25, d.Items[0].DiscountPercentage)

	_, err = env.engine.Advance(ctx, admin, id)
	require.NoError(t, err)

	d, err = env.projector.Detail(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, d.Status)
}

func TestOrderLifecycle_Reports(t *testing.T) {
	ctx := context.Background()
	env := newLifecycleEnv(t)

	user := createUser(t, ctx, uniqueName("reports"), "")
	id := createOrder(t, ctx, orderFixture{UserID: user, Status: 5})
	owner := order.Caller{ID: user.String(), Role: order.RoleUser}

	_, err := env.engine.ReportURL(ctx, owner, id)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	_, err = env.engine.AttachReport(ctx, admin, id, "http://files.test/reports/r.pdf")
	require.NoError(t, err)

	url, err := env.engine.ReportURL(ctx, owner, id)
	require.NoError(t, err)
	assert.Equal(t, "http://files.test/reports/r.pdf", url)

	_, err = env.engine.ReportURL(ctx, order.Caller{ID: uuid.NewString(), Role: order.RoleUser}, id)
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(err))

	require.NoError(t, env.engine.SoftDeleteReport(ctx, admin, id))
	err = env.engine.SoftDeleteReport(ctx, admin, uuid.New())
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

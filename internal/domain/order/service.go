package order

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/labbox/labbox/internal/platform/cache"
	"github.com/labbox/labbox/internal/platform/db"
	"github.com/labbox/labbox/internal/platform/notification"
	"github.com/labbox/labbox/internal/platform/telemetry"
	"github.com/labbox/labbox/pkg/apperror"
)

const (
	msgOrderNotFound  = "Order not found"
	msgReportNotFound = "Report not found"
	msgInvalidAdvance = "Order is already completed or in an invalid state."
)

// Notifier renders a push template and sends it to a device token.
// *notification.Manager satisfies it.
type Notifier interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, token string, meta map[string]string) (*notification.Notification, error)
}

// Engine performs order lifecycle transitions. Every write commits before
// the patient is notified, and a failed notification never fails the write.
type Engine struct {
	orders   Repository
	history  HistoryRepository
	tx       db.Beginner
	notifier Notifier
	cache    cache.Cache
	logger   zerolog.Logger
}

func NewEngine(orders Repository, history HistoryRepository, tx db.Beginner, notifier Notifier, c cache.Cache, logger zerolog.Logger) *Engine {
	if c == nil {
		c = cache.NopCache{}
	}
	return &Engine{
		orders:   orders,
		history:  history,
		tx:       tx,
		notifier: notifier,
		cache:    c,
		logger:   logger.With().Str("component", "order_engine").Logger(),
	}
}

// inTx runs fn in a transaction, or directly when the engine has no database.
func (e *Engine) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.tx == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, e.tx, fn)
}

func (e *Engine) startSpan(ctx context.Context, name string, caller Caller, id uuid.UUID) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(ctx, name, trace.WithAttributes(
		attribute.String("order.id", id.String()),
		attribute.String("caller.role", string(caller.Role)),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// notFoundOr maps a missing row onto a NotFound error carrying msg.
func notFoundOr(err error, msg string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.NotFound(msg)
	}
	var ae *apperror.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperror.Internal(msg, err)
}

// Advance moves the order one step along the fulfilment pipeline and
// returns the updated order.
func (e *Engine) Advance(ctx context.Context, caller Caller, id uuid.UUID) (_ *Order, err error) {
	ctx, span := e.startSpan(ctx, "order.Advance", caller, id)
	defer func() { endSpan(span, err) }()

	var updated *Order
	var from Status
	err = e.inTx(ctx, func(ctx context.Context) error {
		o, err := e.orders.GetByID(ctx, id)
		if err != nil {
			return notFoundOr(err, msgOrderNotFound)
		}
		next, ok := NextStatus(o.Status)
		if !ok {
			return apperror.InvalidState(msgInvalidAdvance)
		}
		from = o.Status
		updated, err = e.orders.UpdateStatus(ctx, id, next, nil)
		if err != nil {
			return notFoundOr(err, msgOrderNotFound)
		}
		return e.record(ctx, updated.ID, from, next, caller, nil)
	})
	if err != nil {
		return nil, err
	}

	e.afterWrite(ctx, id)
	e.logger.Info().
		Str("order_id", id.String()).
		Int("from", int(from)).
		Int("to", int(updated.Status)).
		Str("role", string(caller.Role)).
		Msg("order advanced")

	if policyFor(caller.Role).notifyPatient {
		e.notify(ctx, updated, advanceTemplates[updated.Status], nil)
	}
	return updated, nil
}

// Reject moves the order to rejected from any status and stores reason.
func (e *Engine) Reject(ctx context.Context, caller Caller, id uuid.UUID, reason string) (_ *Order, err error) {
	ctx, span := e.startSpan(ctx, "order.Reject", caller, id)
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(reason) == "" {
		return nil, apperror.Validation("Reason is required")
	}

	var updated *Order
	var from Status
	err = e.inTx(ctx, func(ctx context.Context) error {
		o, err := e.orders.GetByID(ctx, id)
		if err != nil {
			return notFoundOr(err, msgOrderNotFound)
		}
		from = o.Status
		updated, err = e.orders.UpdateStatus(ctx, id, StatusRejected, &reason)
		if err != nil {
			return notFoundOr(err, msgOrderNotFound)
		}
		return e.record(ctx, updated.ID, from, StatusRejected, caller, &reason)
	})
	if err != nil {
		return nil, err
	}

	e.afterWrite(ctx, id)
	e.logger.Info().
		Str("order_id", id.String()).
		Int("from", int(from)).
		Int("to", int(StatusRejected)).
		Str("role", string(caller.Role)).
		Msg("order rejected")

	if policyFor(caller.Role).notifyPatient {
		e.notify(ctx, updated, notification.TplOrderRejected, map[string]string{"reason": reason})
	}
	return updated, nil
}

// AttachReport sets the report file reference. Status is neither checked
// nor changed.
func (e *Engine) AttachReport(ctx context.Context, caller Caller, id uuid.UUID, avatar string) (_ *Order, err error) {
	ctx, span := e.startSpan(ctx, "order.AttachReport", caller, id)
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(avatar) == "" {
		return nil, apperror.Validation("Avatar (file URL) is required")
	}
	o, err := e.orders.SetAvatar(ctx, id, avatar)
	if err != nil {
		return nil, notFoundOr(err, msgOrderNotFound)
	}
	e.afterWrite(ctx, id)
	return o, nil
}

// SoftDeleteReport hides the order from the completed reports view.
func (e *Engine) SoftDeleteReport(ctx context.Context, caller Caller, id uuid.UUID) (err error) {
	ctx, span := e.startSpan(ctx, "order.SoftDeleteReport", caller, id)
	defer func() { endSpan(span, err) }()

	if err := e.orders.SoftDelete(ctx, id); err != nil {
		return notFoundOr(err, msgReportNotFound)
	}
	e.afterWrite(ctx, id)
	return nil
}

// ReportURL returns the report file of an order owned by the caller.
func (e *Engine) ReportURL(ctx context.Context, caller Caller, id uuid.UUID) (string, error) {
	o, err := e.orders.GetByID(ctx, id)
	if err != nil {
		return "", notFoundOr(err, msgReportNotFound)
	}
	if o.UserID.String() != caller.ID {
		return "", apperror.Forbidden("Forbidden")
	}
	if o.Avatar == nil || *o.Avatar == "" {
		return "", apperror.NotFound("Report file not yet available")
	}
	return *o.Avatar, nil
}

// History lists the recorded transitions of an order, newest first.
func (e *Engine) History(ctx context.Context, id uuid.UUID) ([]*StatusHistory, error) {
	if _, err := e.orders.GetByID(ctx, id); err != nil {
		return nil, notFoundOr(err, msgOrderNotFound)
	}
	items, err := e.history.ListByOrder(ctx, id)
	if err != nil {
		return nil, apperror.Internal("list order history", err)
	}
	return items, nil
}

func (e *Engine) record(ctx context.Context, id uuid.UUID, from, to Status, caller Caller, reason *string) error {
	if e.history == nil {
		return nil
	}
	err := e.history.Create(ctx, &StatusHistory{
		OrderID:    id,
		FromStatus: from,
		ToStatus:   to,
		Role:       caller.Role,
		ChangedBy:  caller.ID,
		Reason:     reason,
	})
	if err != nil {
		return apperror.Internal("record status change", err)
	}
	return nil
}

func (e *Engine) afterWrite(ctx context.Context, id uuid.UUID) {
	cache.Evict(ctx, e.cache, DetailCacheKey(id))
}

// notify sends a push to the order's patient. Missing patients and device
// tokens skip the push; failures are logged only.
func (e *Engine) notify(ctx context.Context, o *Order, templateID string, data map[string]string) {
	if e.notifier == nil || templateID == "" {
		return
	}
	log := e.logger.With().Str("order_id", o.ID.String()).Str("template", templateID).Logger()
	if o.PatientID == nil {
		log.Debug().Msg("order has no patient, push skipped")
		return
	}

	token, err := e.orders.PatientDeviceToken(ctx, *o.PatientID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			log.Warn().Err(err).Msg("device token lookup failed")
		}
		return
	}
	if token == "" {
		log.Debug().Msg("patient has no device token, push skipped")
		return
	}

	meta := map[string]string{
		"order_id":     o.ID.String(),
		"order_status": strconv.Itoa(int(o.Status)),
	}
	if _, err := e.notifier.SendFromTemplate(ctx, templateID, data, token, meta); err != nil {
		log.Warn().Err(err).Msg("push notification failed")
	}
}

package order

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/labbox/labbox/internal/platform/cache"
	"github.com/labbox/labbox/pkg/apperror"
	"github.com/labbox/labbox/pkg/pagination"
)

const dateLayout = "2006-01-02"

// DetailCacheKey is the cache key of the order detail view.
func DetailCacheKey(id uuid.UUID) string {
	return "order:detail:" + id.String()
}

// Projector serves the paginated listing views and the order detail.
type Projector struct {
	orders Repository
	views  ProjectionRepository
	cache  cache.Cache
	loc    *time.Location
	now    func() time.Time
}

func NewProjector(orders Repository, views ProjectionRepository, c cache.Cache, loc *time.Location) *Projector {
	if c == nil {
		c = cache.NopCache{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Projector{orders: orders, views: views, cache: c, loc: loc, now: time.Now}
}

// DayBounds returns the half-open calendar day [start, end) containing t in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := t.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// ParseStatusFilter reads the list status query value. Empty and "all"
// select the default predicate.
func ParseStatusFilter(raw string) (*Status, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "all") {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || !Status(n).Valid() {
		return nil, apperror.Validation("Invalid status filter")
	}
	s := Status(n)
	return &s, nil
}

func (p *Projector) FullList(ctx context.Context, name, status string, pg pagination.Params) ([]OrderRow, *pagination.Meta, error) {
	st, err := ParseStatusFilter(status)
	if err != nil {
		return nil, nil, err
	}
	items, total, err := p.views.FullList(ctx, ListFilter{Name: name, Status: st, Limit: pg.Limit, Offset: pg.Offset()})
	if err != nil {
		return nil, nil, apperror.Internal("list orders", err)
	}
	return items, pagination.NewMeta(pg, total), nil
}

// Today lists orders scheduled for the current calendar day that are in
// review or confirmed.
func (p *Projector) Today(ctx context.Context, name string, pg pagination.Params) ([]TodayRow, *pagination.Meta, error) {
	from, to := DayBounds(p.now(), p.loc)
	items, total, err := p.views.Today(ctx, name, from, to, pg.Limit, pg.Offset())
	if err != nil {
		return nil, nil, apperror.Internal("list today's orders", err)
	}
	return items, pagination.NewMeta(pg, total), nil
}

func (p *Projector) FlaboQueue(ctx context.Context, pg pagination.Params) ([]QueueRow, *pagination.Meta, error) {
	items, total, err := p.views.FlaboQueue(ctx, pg.Limit, pg.Offset())
	if err != nil {
		return nil, nil, apperror.Internal("list requests", err)
	}
	return items, pagination.NewMeta(pg, total), nil
}

// FlaboHistory lists every order dated on the given YYYY-MM-DD day.
func (p *Projector) FlaboHistory(ctx context.Context, date string) ([]QueueRow, error) {
	if date == "" {
		return nil, apperror.Validation("Date query parameter is required")
	}
	day, err := time.ParseInLocation(dateLayout, date, p.loc)
	if err != nil {
		return nil, apperror.Validation("Invalid date")
	}
	from, to := DayBounds(day, p.loc)
	items, err := p.views.FlaboHistory(ctx, from, to)
	if err != nil {
		return nil, apperror.Internal("list history", err)
	}
	if len(items) == 0 {
		return nil, apperror.NotFound("Data not found")
	}
	return items, nil
}

func (p *Projector) CompletedReports(ctx context.Context, name string, pg pagination.Params) ([]ReportRow, *pagination.Meta, error) {
	items, total, err := p.views.CompletedReports(ctx, ListFilter{Name: name, Limit: pg.Limit, Offset: pg.Offset()})
	if err != nil {
		return nil, nil, apperror.Internal("list reports", err)
	}
	return items, pagination.NewMeta(pg, total), nil
}

// Detail returns the single order view, served from the cache when present.
func (p *Projector) Detail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	return cache.Fetch(ctx, p.cache, DetailCacheKey(id), func(ctx context.Context) (*Detail, error) {
		return p.loadDetail(ctx, id)
	})
}

func (p *Projector) loadDetail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	o, err := p.orders.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, msgOrderNotFound)
	}
	if o.PatientID == nil {
		return nil, apperror.Validation("Order has an invalid patient ID.")
	}

	d := &Detail{
		ID:             o.ID,
		Status:         o.Status,
		Date:           o.Date,
		PrescriptionID: o.PrescriptionID,
	}

	d.Patient, err = p.views.Patient(ctx, *o.PatientID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.Internal("load patient", err)
	}
	if o.LaboratoryID != nil {
		d.Lab, err = p.views.Laboratory(ctx, *o.LaboratoryID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.Internal("load laboratory", err)
		}
	}

	d.Items, err = p.views.DetailItems(ctx, o.ID, *o.PatientID)
	if err != nil {
		return nil, apperror.Internal("load order items", err)
	}
	return d, nil
}

// itemPackageName names a detail line. A missing package means the line
// came from a prescription upload.
func itemPackageName(pkgName *string, prescriptionID *uuid.UUID) string {
	switch {
	case pkgName == nil:
		return "Prescription Uploaded"
	case prescriptionID == nil:
		return *pkgName
	default:
		return "unknown"
	}
}

var (
	hundred = decimal.NewFromInt(100)
	five    = decimal.NewFromInt(5)
)

// DiscountPercentage rounds the package discount down to a multiple of 5.
func DiscountPercentage(mrp, disPrice decimal.NullDecimal) int64 {
	if !mrp.Valid || !disPrice.Valid || !mrp.Decimal.IsPositive() {
		return 0
	}
	pct := mrp.Decimal.Sub(disPrice.Decimal).Div(mrp.Decimal).Mul(hundred)
	return pct.Div(five).Floor().Mul(five).IntPart()
}

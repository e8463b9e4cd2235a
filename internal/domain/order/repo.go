package order

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists orders and their cart rows. Lookups that match no row
// return pgx.ErrNoRows.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	Create(ctx context.Context, o *Order) error
	CreateCart(ctx context.Context, c *Cart) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, reason *string) (*Order, error)
	SetAvatar(ctx context.Context, id uuid.UUID, avatar string) (*Order, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
	PatientDeviceToken(ctx context.Context, patientID uuid.UUID) (string, error)
	HasPendingPrescriptionOrder(ctx context.Context, userID uuid.UUID) (bool, error)
}

type HistoryRepository interface {
	Create(ctx context.Context, h *StatusHistory) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*StatusHistory, error)
}

// ProjectionRepository runs the joined read views.
type ProjectionRepository interface {
	FullList(ctx context.Context, f ListFilter) ([]OrderRow, int, error)
	Today(ctx context.Context, name string, from, to time.Time, limit, offset int) ([]TodayRow, int, error)
	FlaboQueue(ctx context.Context, limit, offset int) ([]QueueRow, int, error)
	FlaboHistory(ctx context.Context, from, to time.Time) ([]QueueRow, error)
	CompletedReports(ctx context.Context, f ListFilter) ([]ReportRow, int, error)
	Patient(ctx context.Context, id uuid.UUID) (*DetailPatient, error)
	Laboratory(ctx context.Context, id uuid.UUID) (*DetailLab, error)
	DetailItems(ctx context.Context, orderID, patientID uuid.UUID) ([]DetailItem, error)
}

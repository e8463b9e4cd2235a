package prescription

import (
	"time"

	"github.com/google/uuid"
)

// Prescription is an uploaded prescription image. It is immutable once
// stored and backs at most one order.
type Prescription struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UploadRequest is the body of a prescription upload. Avatar is declared
// first so it is reported first when both fields are missing.
type UploadRequest struct {
	Avatar string `json:"avatar" form:"avatar" validate:"required"`
	UserID string `json:"user_id" form:"user_id" validate:"required,uuid"`
}

type UploadResult struct {
	OrderID uuid.UUID `json:"order_id"`
}

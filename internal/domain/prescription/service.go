package prescription

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labbox/labbox/internal/domain/order"
	"github.com/labbox/labbox/pkg/apperror"
)

type Service struct {
	prescriptions Repository
	orders        order.Repository
	logger        zerolog.Logger
	now           func() time.Time
}

func NewService(prescriptions Repository, orders order.Repository, logger zerolog.Logger) *Service {
	return &Service{
		prescriptions: prescriptions,
		orders:        orders,
		logger:        logger.With().Str("component", "prescription").Logger(),
		now:           time.Now,
	}
}

// Upload stores a prescription and places a requested order for it. The
// prescription, order and cart rows are written one after another without a
// transaction; a failure part way leaves the earlier rows in place.
func (s *Service) Upload(ctx context.Context, caller order.Caller, req UploadRequest) (*UploadResult, error) {
	if req.Avatar == "" {
		return nil, apperror.Validation("avatar (prescription image URL) is required")
	}
	if req.UserID == "" {
		return nil, apperror.Validation("user_id (patient ID) is required")
	}
	patientID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, apperror.Validation("user_id (patient ID) is invalid")
	}
	userID, err := uuid.Parse(caller.ID)
	if err != nil {
		return nil, apperror.Forbidden("Forbidden")
	}

	pending, err := s.orders.HasPendingPrescriptionOrder(ctx, userID)
	if err != nil {
		return nil, apperror.Internal("check pending prescription", err)
	}
	if pending {
		return nil, apperror.Validation("Prescription already uploaded in cart.")
	}

	p := &Prescription{UserID: patientID, Avatar: req.Avatar}
	if err := s.prescriptions.Create(ctx, p); err != nil {
		return nil, apperror.Internal("create prescription", err)
	}

	now := s.now()
	o := &order.Order{
		UserID:         userID,
		PatientID:      &patientID,
		PrescriptionID: &p.ID,
		Date:           &now,
		Status:         order.StatusRequested,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, apperror.Internal("create order", err)
	}

	if err := s.orders.CreateCart(ctx, &order.Cart{
		UserID:    userID,
		OrderID:   &o.ID,
		PatientID: &patientID,
		Status:    order.CartPending,
	}); err != nil {
		s.logger.Error().Err(err).Str("order_id", o.ID.String()).Msg("order created without cart row")
		return nil, apperror.Internal("create cart", err)
	}

	s.logger.Info().
		Str("order_id", o.ID.String()).
		Str("prescription_id", p.ID.String()).
		Msg("prescription order placed")
	return &UploadResult{OrderID: o.ID}, nil
}

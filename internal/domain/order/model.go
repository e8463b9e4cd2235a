package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the integer lifecycle state stored on an order.
type Status int16

const (
	StatusRequested       Status = 0
	StatusInReview        Status = 1
	StatusConfirmed       Status = 2
	StatusSampleCollected Status = 3
	StatusInProgress      Status = 4
	StatusReportGenerated Status = 5
	StatusRejected        Status = 6
)

var statusNames = map[Status]string{
	StatusRequested:       "requested",
	StatusInReview:        "in_review",
	StatusConfirmed:       "order_confirmed",
	StatusSampleCollected: "sample_collected",
	StatusInProgress:      "in_progress",
	StatusReportGenerated: "report_generated",
	StatusRejected:        "rejected",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusReportGenerated || s == StatusRejected
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Role selects the per-operator policy of the lifecycle engine.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleFlabo Role = "flabo"
	RoleUser  Role = "user"
)

// Caller is the verified identity an operation runs on behalf of.
type Caller struct {
	ID    string
	Role  Role
	Roles []string
}

// Order is a patient's request for lab testing.
type Order struct {
	ID             uuid.UUID           `json:"id"`
	UserID         uuid.UUID           `json:"user_id"`
	PatientID      *uuid.UUID          `json:"patient_id"`
	AddressID      *uuid.UUID          `json:"address_id"`
	PackageID      *uuid.UUID          `json:"package_id"`
	LaboratoryID   *uuid.UUID          `json:"laboratory_id"`
	PrescriptionID *uuid.UUID          `json:"prescription_id"`
	Price          decimal.NullDecimal `json:"price"`
	Date           *time.Time          `json:"date"`
	Reason         *string             `json:"reason"`
	Avatar         *string             `json:"avatar"`
	Status         Status              `json:"status"`
	IsDelete       bool                `json:"is_delete"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

// Cart status values.
const (
	CartPending   int16 = 0
	CartInCart    int16 = 1
	CartConfirmed int16 = 2
)

// Cart is a line item attached to an order. Only confirmed rows count
// toward the order amount.
type Cart struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	OrderID   *uuid.UUID `json:"order_id"`
	PackageID *uuid.UUID `json:"package_id"`
	PatientID *uuid.UUID `json:"patient_id"`
	Status    int16      `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// StatusHistory is one recorded transition.
type StatusHistory struct {
	ID         uuid.UUID `json:"id"`
	OrderID    uuid.UUID `json:"order_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	Role       Role      `json:"role"`
	ChangedBy  string    `json:"changed_by"`
	Reason     *string   `json:"reason,omitempty"`
	ChangedAt  time.Time `json:"changed_at"`
}

// -- Read models --

// OrderRow is one entry of the admin full order list.
type OrderRow struct {
	ID                  uuid.UUID           `json:"id"`
	User                *string             `json:"user"`
	PackageID           *uuid.UUID          `json:"package_id"`
	PackageName         string              `json:"package_name"`
	PrescriptionDetails *string             `json:"prescription_details"`
	LaboratoryName      *string             `json:"laboratory_name"`
	UserAddress         *string             `json:"user_address"`
	Status              Status              `json:"status"`
	Date                *time.Time          `json:"date"`
	Price               decimal.NullDecimal `json:"price"`
	Reason              *string             `json:"reason"`
	CreatedAt           time.Time           `json:"createdAt"`
	UpdatedAt           time.Time           `json:"updatedAt"`
}

// TodayRow is one entry of the dashboard view of today's open orders.
type TodayRow struct {
	ID                  uuid.UUID           `json:"id"`
	User                *string             `json:"user"`
	ContactNo           *string             `json:"contact_no"`
	PrescriptionDetails *string             `json:"prescription_details"`
	LaboratoryName      *string             `json:"laboratory_name"`
	UserAddress         *string             `json:"user_address"`
	Status              Status              `json:"status"`
	Date                *time.Time          `json:"date"`
	Price               decimal.NullDecimal `json:"price"`
	Reason              *string             `json:"reason"`
	Report              int64               `json:"report"`
	Amount              decimal.Decimal     `json:"amount"`
	CreatedAt           time.Time           `json:"createdAt"`
}

// QueueRow is one entry of the phlebotomist queue and history.
type QueueRow struct {
	ID                  uuid.UUID           `json:"id"`
	Status              Status              `json:"status"`
	Date                *time.Time          `json:"date"`
	Price               decimal.NullDecimal `json:"price"`
	Reason              *string             `json:"reason"`
	UserName            *string             `json:"user_name"`
	PackageName         *string             `json:"package_name"`
	PrescriptionDetails *string             `json:"prescription_details"`
	LaboratoryName      *string             `json:"laboratory_name"`
}

// ReportRow is one entry of the completed reports list.
type ReportRow struct {
	ID                  uuid.UUID  `json:"id"`
	Status              Status     `json:"status"`
	Avatar              *string    `json:"avatar"`
	Date                *time.Time `json:"date"`
	User                *string    `json:"user"`
	PackageName         string     `json:"package_name"`
	PrescriptionDetails *string    `json:"prescription_details"`
	UserAddress         *string    `json:"user_address"`
	CreatedAt           time.Time  `json:"createdAt"`
}

// Detail is the single order view.
type Detail struct {
	ID             uuid.UUID      `json:"id"`
	Status         Status         `json:"status"`
	Date           *time.Time     `json:"date"`
	PrescriptionID *uuid.UUID     `json:"prescription_id"`
	Patient        *DetailPatient `json:"patient"`
	Lab            *DetailLab     `json:"lab"`
	Items          []DetailItem   `json:"items"`
}

type DetailPatient struct {
	Name      string  `json:"name"`
	ContactNo *string `json:"contact_no"`
	Age       *int32  `json:"age"`
	Relation  *string `json:"relation"`
	Gender    *string `json:"gender"`
}

type DetailLab struct {
	Name     string  `json:"name"`
	Contact  *string `json:"contact"`
	Email    *string `json:"email"`
	Address1 *string `json:"address_1"`
}

type DetailItem struct {
	ID                  uuid.UUID           `json:"id"`
	Status              int16               `json:"status"`
	PackageName         string              `json:"package_name"`
	PackageMRP          decimal.NullDecimal `json:"package_mrp"`
	PackageDisPrice     decimal.NullDecimal `json:"package_dis_price"`
	PrescriptionID      *uuid.UUID          `json:"prescription_id"`
	PrescriptionDetails *string             `json:"prescription_details"`
	DiscountPercentage  int64               `json:"discount_percentage"`
}

// ListFilter narrows the paginated listings.
type ListFilter struct {
	Name   string
	Status *Status
	Limit  int
	Offset int
}

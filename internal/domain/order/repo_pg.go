package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labbox/labbox/internal/platform/db"
)

// =========== Order Repository ===========

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) Repository {
	return &orderRepoPG{pool: pool}
}

func (r *orderRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const orderCols = `id, user_id, patient_id, address_id, package_id, laboratory_id, prescription_id,
	price, date, reason, avatar, status, is_delete, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.UserID, &o.PatientID, &o.AddressID, &o.PackageID, &o.LaboratoryID, &o.PrescriptionID,
		&o.Price, &o.Date, &o.Reason, &o.Avatar, &o.Status, &o.IsDelete, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return scanOrder(r.conn(ctx).QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id))
}

func (r *orderRepoPG) Create(ctx context.Context, o *Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO orders (id, user_id, patient_id, address_id, package_id, laboratory_id, prescription_id,
			price, date, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		o.ID, o.UserID, o.PatientID, o.AddressID, o.PackageID, o.LaboratoryID, o.PrescriptionID,
		o.Price, o.Date, o.Status,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
}

func (r *orderRepoPG) CreateCart(ctx context.Context, c *Cart) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO carts (id, user_id, order_id, package_id, patient_id, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		c.ID, c.UserID, c.OrderID, c.PackageID, c.PatientID, c.Status,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

// UpdateStatus writes the new status unconditionally; concurrent writers
// race and the last one wins. A nil reason leaves the stored one untouched.
func (r *orderRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, reason *string) (*Order, error) {
	return scanOrder(r.conn(ctx).QueryRow(ctx, `
		UPDATE orders SET status = $2, reason = COALESCE($3, reason), updated_at = NOW()
		WHERE id = $1
		RETURNING `+orderCols, id, status, reason))
}

func (r *orderRepoPG) SetAvatar(ctx context.Context, id uuid.UUID, avatar string) (*Order, error) {
	return scanOrder(r.conn(ctx).QueryRow(ctx, `
		UPDATE orders SET avatar = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+orderCols, id, avatar))
}

func (r *orderRepoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE orders SET is_delete = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *orderRepoPG) PatientDeviceToken(ctx context.Context, patientID uuid.UUID) (string, error) {
	var token string
	err := r.conn(ctx).QueryRow(ctx, `SELECT COALESCE(device_token, '') FROM users WHERE id = $1`, patientID).Scan(&token)
	return token, err
}

func (r *orderRepoPG) HasPendingPrescriptionOrder(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM orders
			WHERE user_id = $1 AND prescription_id IS NOT NULL AND status = $2
		)`, userID, StatusRequested).Scan(&exists)
	return exists, err
}

// =========== Status History Repository ===========

type historyRepoPG struct{ pool *pgxpool.Pool }

func NewHistoryRepoPG(pool *pgxpool.Pool) HistoryRepository {
	return &historyRepoPG{pool: pool}
}

func (r *historyRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *historyRepoPG) Create(ctx context.Context, h *StatusHistory) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO order_status_history (id, order_id, from_status, to_status, role, changed_by, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING changed_at`,
		h.ID, h.OrderID, h.FromStatus, h.ToStatus, string(h.Role), h.ChangedBy, h.Reason,
	).Scan(&h.ChangedAt)
}

func (r *historyRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*StatusHistory, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, order_id, from_status, to_status, role, changed_by, reason, changed_at
		FROM order_status_history WHERE order_id = $1
		ORDER BY changed_at DESC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*StatusHistory, 0)
	for rows.Next() {
		var h StatusHistory
		var role string
		if err := rows.Scan(&h.ID, &h.OrderID, &h.FromStatus, &h.ToStatus, &role, &h.ChangedBy, &h.Reason, &h.ChangedAt); err != nil {
			return nil, err
		}
		h.Role = Role(role)
		items = append(items, &h)
	}
	return items, rows.Err()
}

// =========== Projection Repository ===========

type projectionRepoPG struct{ pool *pgxpool.Pool }

func NewProjectionRepoPG(pool *pgxpool.Pool) ProjectionRepository {
	return &projectionRepoPG{pool: pool}
}

func (r *projectionRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// where accumulates AND-ed predicates and their positional arguments.
type where struct {
	clauses []string
	args    []interface{}
}

func (w *where) arg(v interface{}) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *where) and(clause string) { w.clauses = append(w.clauses, clause) }

func (w *where) nameLike(column, name string) {
	if name == "" {
		return
	}
	w.and(column + ` ILIKE ` + w.arg(likePattern(name)) + ` ESCAPE '\'`)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// likePattern turns a free text search into a substring ILIKE pattern.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func (r *projectionRepoPG) count(ctx context.Context, from string, w *where) (int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) `+from+w.String(), w.args...).Scan(&total)
	return total, err
}

func page(limit, offset int) string {
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}

const fullListFrom = `FROM orders o
	LEFT JOIN users u ON u.id = o.patient_id
	LEFT JOIN laboratories l ON l.id = o.laboratory_id
	LEFT JOIN packages p ON p.id = o.package_id
	LEFT JOIN prescriptions pr ON pr.id = o.prescription_id
	LEFT JOIN addresses a ON a.id = o.address_id`

// FullList matches status <> 5 and not deleted, unless a status filter
// replaces the status predicate.
func (r *projectionRepoPG) FullList(ctx context.Context, f ListFilter) ([]OrderRow, int, error) {
	w := &where{}
	w.and("o.is_delete = FALSE")
	if f.Status != nil {
		w.and("o.status = " + w.arg(*f.Status))
	} else {
		w.and("o.status <> " + w.arg(StatusReportGenerated))
	}
	w.nameLike("u.name", f.Name)

	total, err := r.count(ctx, fullListFrom, w)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT o.id, u.name, o.package_id, COALESCE(p.name, 'Prescription'), pr.avatar, l.name, a.address,
			o.status, o.date, o.price, o.reason, o.created_at, o.updated_at
		`+fullListFrom+w.String()+`
		ORDER BY o.created_at DESC`+page(f.Limit, f.Offset), w.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]OrderRow, 0)
	for rows.Next() {
		var o OrderRow
		if err := rows.Scan(&o.ID, &o.User, &o.PackageID, &o.PackageName, &o.PrescriptionDetails, &o.LaboratoryName,
			&o.UserAddress, &o.Status, &o.Date, &o.Price, &o.Reason, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}

const todayFrom = `FROM orders o
	LEFT JOIN users u ON u.id = o.patient_id
	LEFT JOIN prescriptions pr ON pr.id = o.prescription_id
	LEFT JOIN laboratories l ON l.id = o.laboratory_id
	LEFT JOIN addresses a ON a.id = o.address_id`

// Today lists orders dated within [from, to) in review or confirmed. report
// counts confirmed cart rows; amount sums dis_price over confirmed rows whose
// package still exists.
func (r *projectionRepoPG) Today(ctx context.Context, name string, from, to time.Time, limit, offset int) ([]TodayRow, int, error) {
	w := &where{}
	w.and("o.date >= " + w.arg(from))
	w.and("o.date < " + w.arg(to))
	w.and(fmt.Sprintf("o.status IN (%d, %d)", StatusInReview, StatusConfirmed))
	w.nameLike("u.name", name)

	total, err := r.count(ctx, todayFrom, w)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`
		SELECT o.id, u.name, u.contact_no, pr.avatar, l.name, a.address,
			o.status, o.date, o.price, o.reason,
			(SELECT COUNT(*) FROM carts c WHERE c.order_id = o.id AND c.status = %[1]d),
			(SELECT COALESCE(SUM(pk.dis_price), 0) FROM carts c
				JOIN packages pk ON pk.id = c.package_id
				WHERE c.order_id = o.id AND c.status = %[1]d),
			o.created_at
		`, CartConfirmed)+todayFrom+w.String()+`
		ORDER BY o.created_at DESC`+page(limit, offset), w.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]TodayRow, 0)
	for rows.Next() {
		var t TodayRow
		if err := rows.Scan(&t.ID, &t.User, &t.ContactNo, &t.PrescriptionDetails, &t.LaboratoryName, &t.UserAddress,
			&t.Status, &t.Date, &t.Price, &t.Reason, &t.Report, &t.Amount, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

const queueFrom = `FROM orders o
	LEFT JOIN users u ON u.id = o.user_id
	LEFT JOIN packages p ON p.id = o.package_id
	LEFT JOIN prescriptions pr ON pr.id = o.prescription_id
	LEFT JOIN laboratories l ON l.id = o.laboratory_id`

const queueSelect = `SELECT o.id, o.status, o.date, o.price, o.reason, u.name, p.name, pr.avatar, l.name `

func scanQueue(rows pgx.Rows) ([]QueueRow, error) {
	defer rows.Close()
	items := make([]QueueRow, 0)
	for rows.Next() {
		var q QueueRow
		if err := rows.Scan(&q.ID, &q.Status, &q.Date, &q.Price, &q.Reason,
			&q.UserName, &q.PackageName, &q.PrescriptionDetails, &q.LaboratoryName); err != nil {
			return nil, err
		}
		items = append(items, q)
	}
	return items, rows.Err()
}

func (r *projectionRepoPG) FlaboQueue(ctx context.Context, limit, offset int) ([]QueueRow, int, error) {
	w := &where{}
	w.and(fmt.Sprintf("o.status IN (%d, %d)", StatusRequested, StatusInReview))

	total, err := r.count(ctx, queueFrom, w)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, queueSelect+queueFrom+w.String()+`
		ORDER BY o.created_at DESC`+page(limit, offset), w.args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := scanQueue(rows)
	return items, total, err
}

func (r *projectionRepoPG) FlaboHistory(ctx context.Context, from, to time.Time) ([]QueueRow, error) {
	w := &where{}
	w.and("o.date >= " + w.arg(from))
	w.and("o.date < " + w.arg(to))
	rows, err := r.conn(ctx).Query(ctx, queueSelect+queueFrom+w.String()+`
		ORDER BY o.created_at DESC`, w.args...)
	if err != nil {
		return nil, err
	}
	return scanQueue(rows)
}

const reportsFrom = `FROM orders o
	LEFT JOIN users u ON u.id = o.patient_id
	LEFT JOIN packages p ON p.id = o.package_id
	LEFT JOIN prescriptions pr ON pr.id = o.prescription_id
	LEFT JOIN addresses a ON a.id = o.address_id`

func (r *projectionRepoPG) CompletedReports(ctx context.Context, f ListFilter) ([]ReportRow, int, error) {
	w := &where{}
	w.and("o.status = " + w.arg(StatusReportGenerated))
	w.and("o.is_delete = FALSE")
	w.nameLike("u.name", f.Name)

	total, err := r.count(ctx, reportsFrom, w)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT o.id, o.status, o.avatar, o.date, u.name, COALESCE(p.name, '--'), pr.avatar, a.address, o.created_at
		`+reportsFrom+w.String()+`
		ORDER BY o.created_at DESC`+page(f.Limit, f.Offset), w.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]ReportRow, 0)
	for rows.Next() {
		var rr ReportRow
		if err := rows.Scan(&rr.ID, &rr.Status, &rr.Avatar, &rr.Date, &rr.User, &rr.PackageName,
			&rr.PrescriptionDetails, &rr.UserAddress, &rr.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, rr)
	}
	return items, total, rows.Err()
}

func (r *projectionRepoPG) Patient(ctx context.Context, id uuid.UUID) (*DetailPatient, error) {
	var p DetailPatient
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT name, contact_no, age, relation, gender FROM users WHERE id = $1`, id,
	).Scan(&p.Name, &p.ContactNo, &p.Age, &p.Relation, &p.Gender)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *projectionRepoPG) Laboratory(ctx context.Context, id uuid.UUID) (*DetailLab, error) {
	var l DetailLab
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT name, contact_1, email, address_1 FROM laboratories WHERE id = $1`, id,
	).Scan(&l.Name, &l.Contact, &l.Email, &l.Address1)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// DetailItems returns the confirmed cart rows of an order owned by the
// patient, newest first. Package name and discount are derived by the caller.
func (r *projectionRepoPG) DetailItems(ctx context.Context, orderID, patientID uuid.UUID) ([]DetailItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT c.id, c.status, p.name, p.mrp, p.dis_price, o.prescription_id, pr.avatar
		FROM carts c
		LEFT JOIN packages p ON p.id = c.package_id
		LEFT JOIN orders o ON o.id = c.order_id
		LEFT JOIN prescriptions pr ON pr.id = o.prescription_id
		WHERE c.user_id = $1 AND c.order_id = $2 AND c.status = $3
		ORDER BY c.created_at DESC`, patientID, orderID, CartConfirmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]DetailItem, 0)
	for rows.Next() {
		var it DetailItem
		var pkgName *string
		if err := rows.Scan(&it.ID, &it.Status, &pkgName, &it.PackageMRP, &it.PackageDisPrice,
			&it.PrescriptionID, &it.PrescriptionDetails); err != nil {
			return nil, err
		}
		it.PackageName = itemPackageName(pkgName, it.PrescriptionID)
		it.DiscountPercentage = DiscountPercentage(it.PackageMRP, it.PackageDisPrice)
		items = append(items, it)
	}
	return items, rows.Err()
}

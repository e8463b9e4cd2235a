package reporting

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/labbox/labbox/internal/platform/auth"
	"github.com/labbox/labbox/pkg/apperror"
	"github.com/labbox/labbox/pkg/response"
)

// MeasureDefinition defines a reporting measure with its SQL query. Queries
// with parameters take them positionally in the order of Parameters.
type MeasureDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQL         string   `json:"sql"`
	Parameters  []string `json:"parameters"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
}

// DashboardStats counts the active catalog entities and users.
type DashboardStats struct {
	Categories  int64 `json:"categories"`
	Packages    int64 `json:"packages"`
	SubPackages int64 `json:"subPackages"`
	Users       int64 `json:"users"`
}

// PredefinedMeasures is the list of available reporting measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "orders-by-status",
		Name:        "Orders by Status",
		Description: "Number of live orders in each lifecycle status",
		SQL:         `SELECT status, COUNT(*) AS total FROM orders WHERE is_delete = FALSE GROUP BY status ORDER BY status`,
		Parameters:  []string{},
	},
	{
		ID:          "confirmed-revenue",
		Name:        "Confirmed Revenue",
		Description: "Orders in review or confirmed for a day and the sum of their confirmed cart prices",
		SQL: `SELECT COUNT(DISTINCT o.id) AS orders, COALESCE(SUM(p.dis_price), 0)::text AS revenue
			FROM orders o
			JOIN carts c ON c.order_id = o.id AND c.status = 2
			JOIN packages p ON p.id = c.package_id
			WHERE o.status IN (1, 2) AND o.date >= $1 AND o.date < $2`,
		Parameters: []string{"date"},
	},
	{
		ID:          "reports-awaiting-file",
		Name:        "Reports Awaiting File",
		Description: "Completed orders that have no report file attached yet",
		SQL:         `SELECT COUNT(*) AS total FROM orders WHERE status = 5 AND is_delete = FALSE AND COALESCE(avatar, '') = ''`,
		Parameters:  []string{},
	},
	{
		ID:          "rejection-reasons",
		Name:        "Rejection Reasons",
		Description: "Most frequent reasons given when rejecting orders",
		SQL:         `SELECT COALESCE(reason, '') AS reason, COUNT(*) AS total FROM orders WHERE status = 6 GROUP BY reason ORDER BY total DESC LIMIT 20`,
		Parameters:  []string{},
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// Store runs the reporting queries.
type Store interface {
	DashboardStats(ctx context.Context) (*DashboardStats, error)
	Evaluate(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error)
}

type pgStore struct{ pool *pgxpool.Pool }

func NewPGStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	var st DashboardStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM categories WHERE status = 1),
			(SELECT COUNT(*) FROM packages WHERE status = 1),
			(SELECT COUNT(*) FROM sub_packages WHERE status = 1),
			(SELECT COUNT(*) FROM users WHERE status = 1)`,
	).Scan(&st.Categories, &st.Packages, &st.SubPackages, &st.Users)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Evaluate runs a SQL query and returns results as a slice of maps.
func (s *pgStore) Evaluate(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// Handler provides HTTP handlers for the dashboard and measure API.
type Handler struct {
	store Store
	loc   *time.Location
	now   func() time.Time
}

// NewHandler creates a reporting handler. Day parameters are resolved in loc.
func NewHandler(store Store, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{store: store, loc: loc, now: time.Now}
}

// RegisterRoutes registers the reporting routes on the admin group.
func (h *Handler) RegisterRoutes(admin *echo.Group) {
	g := admin.Group("", auth.RequireRole(auth.RoleAdmin))
	g.GET("/dashboard/stats", h.Stats)
	g.GET("/measures", h.ListMeasures)
	g.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

func (h *Handler) Stats(c echo.Context) error {
	st, err := h.store.DashboardStats(c.Request().Context())
	if err != nil {
		return apperror.Internal("Error fetching dashboard stats", err)
	}
	return response.OK(c, "Dashboard stats retrieved successfully", st)
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return response.OK(c, "Measures retrieved successfully", PredefinedMeasures)
}

// EvaluateMeasure executes a measure's SQL and returns the results.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return apperror.NotFound("Measure not found")
	}

	params := map[string]string{}
	for _, p := range measure.Parameters {
		if v := c.QueryParam(p); v != "" {
			params[p] = v
		}
	}
	args, err := h.resolveArgs(measure, params)
	if err != nil {
		return err
	}

	results, err := h.store.Evaluate(c.Request().Context(), measure.SQL, args...)
	if err != nil {
		return apperror.Internal("measure query failed", err)
	}

	return response.OK(c, "Measure evaluated successfully", MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: h.now().UTC(),
		Results:     results,
		Parameters:  params,
	})
}

var errUnknownParameter = errors.New("unknown measure parameter")

// resolveArgs turns query parameters into positional SQL arguments. A "date"
// parameter expands to the [start, end) bounds of that day, defaulting to
// today.
func (h *Handler) resolveArgs(m *MeasureDefinition, params map[string]string) ([]interface{}, error) {
	var args []interface{}
	for _, p := range m.Parameters {
		switch p {
		case "date":
			day := h.now().In(h.loc)
			if v, ok := params[p]; ok {
				parsed, err := time.ParseInLocation("2006-01-02", v, h.loc)
				if err != nil {
					return nil, apperror.Validation("Invalid date")
				}
				day = parsed
			}
			y, mo, d := day.Date()
			start := time.Date(y, mo, d, 0, 0, 0, 0, h.loc)
			args = append(args, start, start.AddDate(0, 0, 1))
		default:
			return nil, apperror.Internal("resolve measure "+m.ID, errUnknownParameter)
		}
	}
	return args, nil
}

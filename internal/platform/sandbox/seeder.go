// Package sandbox generates reproducible fixture data for development
// databases: catalog rows, patients and orders spread across every
// lifecycle status.
package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// SeedConfig controls the volume of generated data.
type SeedConfig struct {
	UserCount       int   `json:"userCount"`
	LaboratoryCount int   `json:"laboratoryCount"`
	PackageCount    int   `json:"packageCount"`
	OrdersPerUser   int   `json:"ordersPerUser"`
	ItemsPerOrder   int   `json:"itemsPerOrder"`
	Seed            int64 `json:"seed"`
}

// DefaultSeedConfig returns a SeedConfig sized for a local database.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		UserCount:       25,
		LaboratoryCount: 4,
		PackageCount:    12,
		OrdersPerUser:   3,
		ItemsPerOrder:   2,
		Seed:            1,
	}
}

// ---------------------------------------------------------------------------
// Rows
// ---------------------------------------------------------------------------

type User struct {
	ID          uuid.UUID
	Name        string
	ContactNo   string
	Age         int32
	Relation    string
	Gender      string
	DeviceToken string
}

type Laboratory struct {
	ID      uuid.UUID
	Name    string
	Contact string
	Email   string
	Address string
	City    string
}

type Package struct {
	ID       uuid.UUID
	Name     string
	MRP      decimal.Decimal
	DisPrice decimal.Decimal
}

type Address struct {
	ID      uuid.UUID
	UserID  uuid.UUID
	Address string
}

type Order struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	AddressID    uuid.UUID
	PackageID    uuid.UUID
	LaboratoryID uuid.UUID
	Price        decimal.Decimal
	Date         time.Time
	Status       int16
	Reason       *string
	Avatar       *string
}

type Cart struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	OrderID   uuid.UUID
	PackageID uuid.UUID
	Status    int16
}

// Dataset is one generated set of fixtures.
type Dataset struct {
	Categories   []string
	SubPackages  []string
	Users        []User
	Laboratories []Laboratory
	Packages     []Package
	Addresses    []Address
	Orders       []Order
	Carts        []Cart
}

// SeedResult summarizes a seed run.
type SeedResult struct {
	Users        int           `json:"users"`
	Laboratories int           `json:"laboratories"`
	Packages     int           `json:"packages"`
	Orders       int           `json:"orders"`
	Carts        int           `json:"carts"`
	Duration     time.Duration `json:"duration"`
}

// ---------------------------------------------------------------------------
// Reference data
// ---------------------------------------------------------------------------

var (
	firstNames = []string{"Anna", "Ravi", "Meera", "John", "Fatima", "Arjun", "Lena", "Kiran", "Sara", "Vikram"}
	lastNames  = []string{"Smith", "Patel", "Iyer", "Khan", "Das", "Fernandes", "Rao", "Mehta", "Shah", "Nair"}
	relations  = []string{"self", "father", "mother", "spouse", "child"}
	genders    = []string{"male", "female"}
	cities     = []string{"Ahmedabad", "Pune", "Mumbai", "Surat", "Bengaluru"}
	streets    = []string{"MG Road", "Station Road", "Ring Road", "Lake View", "Park Street"}
	labNames   = []string{"City Diagnostics", "Prime Pathology", "CarePoint Labs", "Metro Health Lab", "Sunrise Diagnostics"}
	categories = []string{"Full Body", "Diabetes", "Heart", "Thyroid", "Vitamins"}
	subNames   = []string{"CBC", "Lipid Profile", "HbA1c", "TSH", "Vitamin D", "LFT", "KFT"}
	testNames  = []string{
		"Full Body Checkup", "Diabetes Care", "Heart Health", "Thyroid Profile",
		"Vitamin Panel", "Liver Function", "Kidney Function", "Fever Panel",
		"Senior Citizen Package", "Women Wellness", "Allergy Screen", "Iron Studies",
	}
	rejectReasons = []string{"insufficient sample", "patient unavailable", "address not found", "duplicate order"}
)

// ---------------------------------------------------------------------------
// DataGenerator
// ---------------------------------------------------------------------------

// DataGenerator produces fixtures from a seeded source, so equal seeds give
// equal datasets apart from ids.
type DataGenerator struct {
	rng *rand.Rand
	now time.Time
}

func NewDataGenerator(seed int64, now time.Time) *DataGenerator {
	return &DataGenerator{rng: rand.New(rand.NewSource(seed)), now: now}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) phone() string {
	return fmt.Sprintf("9%09d", g.rng.Intn(1_000_000_000))
}

func (g *DataGenerator) GenerateUser() User {
	u := User{
		ID:        uuid.New(),
		Name:      g.pick(firstNames) + " " + g.pick(lastNames),
		ContactNo: g.phone(),
		Age:       int32(5 + g.rng.Intn(80)),
		Relation:  g.pick(relations),
		Gender:    g.pick(genders),
	}
	if g.rng.Intn(4) != 0 {
		u.DeviceToken = fmt.Sprintf("dev-token-%08x", g.rng.Uint32())
	}
	return u
}

func (g *DataGenerator) GenerateLaboratory(i int) Laboratory {
	name := labNames[i%len(labNames)]
	return Laboratory{
		ID:      uuid.New(),
		Name:    name,
		Contact: g.phone(),
		Email:   fmt.Sprintf("lab%d@example.com", i+1),
		Address: fmt.Sprintf("%d %s", 1+g.rng.Intn(200), g.pick(streets)),
		City:    g.pick(cities),
	}
}

// GeneratePackage prices a package between 300 and 5000 with a discount
// of up to 40%.
func (g *DataGenerator) GeneratePackage(i int) Package {
	mrp := decimal.NewFromInt(int64(300 + g.rng.Intn(47)*100))
	off := decimal.NewFromInt(int64(g.rng.Intn(41)))
	dis := mrp.Sub(mrp.Mul(off).Div(decimal.NewFromInt(100))).Round(0)
	return Package{
		ID:       uuid.New(),
		Name:     testNames[i%len(testNames)],
		MRP:      mrp,
		DisPrice: dis,
	}
}

func (g *DataGenerator) GenerateAddress(userID uuid.UUID) Address {
	return Address{
		ID:      uuid.New(),
		UserID:  userID,
		Address: fmt.Sprintf("%d %s, %s", 1+g.rng.Intn(500), g.pick(streets), g.pick(cities)),
	}
}

// GenerateOrder places an order within three days of now in a random
// status. Rejected orders get a reason and generated ones may carry a
// report file.
func (g *DataGenerator) GenerateOrder(u User, addr Address, lab Laboratory, pkg Package) Order {
	o := Order{
		ID:           uuid.New(),
		UserID:       u.ID,
		AddressID:    addr.ID,
		PackageID:    pkg.ID,
		LaboratoryID: lab.ID,
		Price:        pkg.DisPrice,
		Date:         g.now.Add(time.Duration(g.rng.Intn(144)-72) * time.Hour).Truncate(time.Hour),
		Status:       int16(g.rng.Intn(7)),
	}
	switch o.Status {
	case 5:
		if g.rng.Intn(2) == 0 {
			avatar := fmt.Sprintf("reports/%d_report.pdf", o.Date.UnixMilli())
			o.Avatar = &avatar
		}
	case 6:
		reason := g.pick(rejectReasons)
		o.Reason = &reason
	}
	return o
}

// GenerateCart adds a confirmed line item, or occasionally a pending one.
func (g *DataGenerator) GenerateCart(o Order, pkg Package) Cart {
	status := int16(2)
	if g.rng.Intn(5) == 0 {
		status = 0
	}
	return Cart{ID: uuid.New(), UserID: o.UserID, OrderID: o.ID, PackageID: pkg.ID, Status: status}
}

// ---------------------------------------------------------------------------
// Seeder
// ---------------------------------------------------------------------------

// BatchSender runs a pgx batch; *pgxpool.Pool and pgx.Tx satisfy it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Seeder struct {
	config SeedConfig
	logger zerolog.Logger
	now    func() time.Time
}

func NewSeeder(config SeedConfig, logger zerolog.Logger) *Seeder {
	return &Seeder{config: config, logger: logger, now: time.Now}
}

// Generate builds a dataset without touching the database.
func (s *Seeder) Generate() (*Dataset, error) {
	cfg := s.config
	if cfg.UserCount <= 0 || cfg.LaboratoryCount <= 0 || cfg.PackageCount <= 0 {
		return nil, fmt.Errorf("user, laboratory and package counts must be positive")
	}

	g := NewDataGenerator(cfg.Seed, s.now())
	ds := &Dataset{Categories: categories, SubPackages: subNames}

	for i := 0; i < cfg.LaboratoryCount; i++ {
		ds.Laboratories = append(ds.Laboratories, g.GenerateLaboratory(i))
	}
	for i := 0; i < cfg.PackageCount; i++ {
		ds.Packages = append(ds.Packages, g.GeneratePackage(i))
	}
	for i := 0; i < cfg.UserCount; i++ {
		u := g.GenerateUser()
		addr := g.GenerateAddress(u.ID)
		ds.Users = append(ds.Users, u)
		ds.Addresses = append(ds.Addresses, addr)

		for j := 0; j < cfg.OrdersPerUser; j++ {
			lab := ds.Laboratories[g.rng.Intn(len(ds.Laboratories))]
			pkg := ds.Packages[g.rng.Intn(len(ds.Packages))]
			o := g.GenerateOrder(u, addr, lab, pkg)
			ds.Orders = append(ds.Orders, o)

			ds.Carts = append(ds.Carts, g.GenerateCart(o, pkg))
			for k := 1; k < cfg.ItemsPerOrder; k++ {
				ds.Carts = append(ds.Carts, g.GenerateCart(o, ds.Packages[g.rng.Intn(len(ds.Packages))]))
			}
		}
	}
	return ds, nil
}

// Batch queues the inserts for ds. Orders have no patient profile of their
// own in fixtures, so patient_id is the owning user.
func Batch(ds *Dataset) *pgx.Batch {
	b := &pgx.Batch{}
	for _, name := range ds.Categories {
		b.Queue(`INSERT INTO categories (id, name) VALUES ($1, $2)`, uuid.New(), name)
	}
	for _, name := range ds.SubPackages {
		b.Queue(`INSERT INTO sub_packages (id, name) VALUES ($1, $2)`, uuid.New(), name)
	}
	for _, l := range ds.Laboratories {
		b.Queue(`INSERT INTO laboratories (id, name, contact_1, email, address_1, city) VALUES ($1,$2,$3,$4,$5,$6)`,
			l.ID, l.Name, l.Contact, l.Email, l.Address, l.City)
	}
	for _, p := range ds.Packages {
		b.Queue(`INSERT INTO packages (id, name, mrp, dis_price) VALUES ($1,$2,$3,$4)`, p.ID, p.Name, p.MRP, p.DisPrice)
	}
	for _, u := range ds.Users {
		u := u
		var token *string
		if u.DeviceToken != "" {
			token = &u.DeviceToken
		}
		b.Queue(`INSERT INTO users (id, name, contact_no, age, relation, gender, device_token) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			u.ID, u.Name, u.ContactNo, u.Age, u.Relation, u.Gender, token)
	}
	for _, a := range ds.Addresses {
		b.Queue(`INSERT INTO addresses (id, user_id, address, save_as) VALUES ($1,$2,$3,'home')`, a.ID, a.UserID, a.Address)
	}
	for _, o := range ds.Orders {
		b.Queue(`INSERT INTO orders (id, user_id, patient_id, address_id, package_id, laboratory_id, price, date, status, reason, avatar)
			VALUES ($1,$2,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			o.ID, o.UserID, o.AddressID, o.PackageID, o.LaboratoryID, o.Price, o.Date, o.Status, o.Reason, o.Avatar)
	}
	for _, c := range ds.Carts {
		b.Queue(`INSERT INTO carts (id, user_id, order_id, package_id, patient_id, status) VALUES ($1,$2,$3,$4,$2,$5)`,
			c.ID, c.UserID, c.OrderID, c.PackageID, c.Status)
	}
	return b
}

// Load generates a dataset and inserts it in a single batch.
func (s *Seeder) Load(ctx context.Context, db BatchSender) (*SeedResult, error) {
	start := time.Now()
	ds, err := s.Generate()
	if err != nil {
		return nil, err
	}

	b := Batch(ds)
	br := db.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return nil, fmt.Errorf("seed statement %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("seed batch: %w", err)
	}

	res := &SeedResult{
		Users:        len(ds.Users),
		Laboratories: len(ds.Laboratories),
		Packages:     len(ds.Packages),
		Orders:       len(ds.Orders),
		Carts:        len(ds.Carts),
		Duration:     time.Since(start),
	}
	s.logger.Info().
		Int("users", res.Users).
		Int("orders", res.Orders).
		Int("carts", res.Carts).
		Dur("duration", res.Duration).
		Msg("fixtures loaded")
	return res, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/lib/pq"

	"github.com/vlm-project/vlmcore/core/model"
	corestore "github.com/vlm-project/vlmcore/core/store"
)

// PostgresStore implements core/store.Store on Postgres. Query building uses
// goqu; the assignment upsert and its cascading recomputation run inside one
// transaction so derived fields never drift from the assignments.
type PostgresStore struct {
	db        *goqu.Database
	sqlDB     *sql.DB
	shelfArea float64
}

// NewPostgresStore opens and pings the database.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{
		db:        goqu.New("postgres", sqlDB),
		sqlDB:     sqlDB,
		shelfArea: defaultShelfArea,
	}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.sqlDB.Close() }

func (s *PostgresStore) QuantityOnShelf(ctx context.Context, shelfID, productID string) (int, error) {
	var qty int
	found, err := s.db.From("products_shelves").
		Select("quantity").
		Where(goqu.Ex{"shelf_id": shelfID, "product_id": productID}).
		ScanValContext(ctx, &qty)
	if err != nil {
		return 0, fmt.Errorf("unable to execute SQL: %w", err)
	}
	if !found {
		return 0, nil
	}
	return qty, nil
}

func (s *PostgresStore) UpsertAssignment(ctx context.Context, shelfID, productID string, quantity int) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO products_shelves (shelf_id, product_id, quantity)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (shelf_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
		shelfID, productID, quantity); err != nil {
		return fmt.Errorf("upsert assignment: %w", err)
	}
	for _, stmt := range []string{
		`UPDATE shelves SET quantity = COALESCE((
			SELECT SUM(ps.quantity) FROM products_shelves ps WHERE ps.shelf_id = shelves.id), 0)`,
		`UPDATE shelves SET weight = COALESCE((
			SELECT SUM(p.weight * ps.quantity)
			FROM products_shelves ps JOIN products p ON p.id = ps.product_id
			WHERE ps.shelf_id = shelves.id), 0)`,
		`UPDATE products SET on_hand = COALESCE((
			SELECT SUM(ps.quantity) FROM products_shelves ps WHERE ps.product_id = products.id), 0)`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("recompute derived fields: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE shelves SET space_left = 100 - COALESCE((
			SELECT SUM(p.length * p.width * ps.quantity) / $1
			FROM products_shelves ps JOIN products p ON p.id = ps.product_id
			WHERE ps.shelf_id = shelves.id), 0) * 100`,
		s.shelfArea); err != nil {
		return fmt.Errorf("recompute space left: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) AppendTransaction(ctx context.Context, rec model.TransactionRecord) error {
	_, err := s.db.Insert("transactions").Rows(goqu.Record{
		"id":               rec.ID,
		"product_id":       rec.ProductID,
		"shelf_id":         rec.ShelfID,
		"time":             rec.Time,
		"quantity_added":   rec.QuantityAdded,
		"quantity_removed": rec.QuantityRemoved,
		"operator_id":      rec.OperatorID,
		"project":          rec.Project,
	}).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert transaction record: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	_, err := s.db.Insert("audit_log").Rows(goqu.Record{
		"time":           entry.Time,
		"level":          entry.Level,
		"message":        entry.Message,
		"source":         entry.Source,
		"type":           entry.Type,
		"transaction_id": entry.TransactionID,
	}).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Shelf(ctx context.Context, shelfID string) (model.ShelfUnit, error) {
	var shelf model.ShelfUnit
	found, err := s.db.From("shelves").
		Where(goqu.Ex{"id": shelfID}).
		ScanStructContext(ctx, &shelf)
	if err != nil {
		return model.ShelfUnit{}, fmt.Errorf("unable to execute SQL: %w", err)
	}
	if !found {
		return model.ShelfUnit{}, corestore.ErrNotFound
	}
	return shelf, nil
}

func (s *PostgresStore) ShelfIDFromPosition(ctx context.Context, position string) (string, error) {
	var id string
	found, err := s.db.From("shelves").
		Select("id").
		Where(goqu.Ex{"position": position}).
		ScanValContext(ctx, &id)
	if err != nil {
		return "", fmt.Errorf("unable to execute SQL: %w", err)
	}
	if !found {
		return "", corestore.ErrNotFound
	}
	return id, nil
}

func (s *PostgresStore) ShelvesForProduct(ctx context.Context, productID string) ([]model.ShelfUnit, error) {
	return s.scanShelves(ctx, s.db.From(goqu.T("shelves")).
		Join(goqu.T("products_shelves"), goqu.On(goqu.Ex{"products_shelves.shelf_id": goqu.I("shelves.id")})).
		Where(goqu.Ex{"products_shelves.product_id": productID}, goqu.C("quantity").Table("products_shelves").Gt(0)))
}

func (s *PostgresStore) ShelvesForProducts(ctx context.Context, productIDs []string) ([]model.ShelfUnit, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	return s.scanShelves(ctx, s.db.From(goqu.T("shelves")).
		Join(goqu.T("products_shelves"), goqu.On(goqu.Ex{"products_shelves.shelf_id": goqu.I("shelves.id")})).
		Where(goqu.C("product_id").Table("products_shelves").In(productIDs), goqu.C("quantity").Table("products_shelves").Gt(0)))
}

func (s *PostgresStore) AllShelves(ctx context.Context) ([]model.ShelfUnit, error) {
	return s.scanShelves(ctx, s.db.From("shelves"))
}

func (s *PostgresStore) scanShelves(ctx context.Context, ds *goqu.SelectDataset) ([]model.ShelfUnit, error) {
	var shelves []model.ShelfUnit
	err := ds.
		Select(
			goqu.C("id").Table("shelves"),
			goqu.C("position").Table("shelves"),
			goqu.C("weight").Table("shelves"),
			goqu.C("quantity").Table("shelves"),
			goqu.C("space_left").Table("shelves"),
			goqu.C("racks").Table("shelves"),
		).
		Distinct().
		Order(goqu.C("space_left").Table("shelves").Desc(), goqu.C("weight").Table("shelves").Asc()).
		ScanStructsContext(ctx, &shelves)
	if err != nil {
		return nil, fmt.Errorf("unable to execute SQL: %w", err)
	}
	return shelves, nil
}

func (s *PostgresStore) Product(ctx context.Context, productID string) (model.Product, error) {
	var p model.Product
	found, err := s.db.From("products").
		Where(goqu.Ex{"id": productID}).
		ScanStructContext(ctx, &p)
	if err != nil {
		return model.Product{}, fmt.Errorf("unable to execute SQL: %w", err)
	}
	if !found {
		return model.Product{}, corestore.ErrNotFound
	}
	return p, nil
}

func (s *PostgresStore) ProjectsForProduct(ctx context.Context, productID string) ([]string, error) {
	var projects []string
	err := s.db.From("product_projects").
		Select("project").
		Where(goqu.Ex{"product_id": productID}).
		ScanValsContext(ctx, &projects)
	if err != nil {
		return nil, fmt.Errorf("unable to execute SQL: %w", err)
	}
	return projects, nil
}

func (s *PostgresStore) ProductsForProjects(ctx context.Context, projects []string) ([]string, error) {
	if len(projects) == 0 {
		return nil, nil
	}
	var ids []string
	err := s.db.From("product_projects").
		Select("product_id").
		Distinct().
		Where(goqu.C("project").In(projects)).
		ScanValsContext(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("unable to execute SQL: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) ProductsInFamily(ctx context.Context, family string) ([]string, error) {
	var ids []string
	err := s.db.From("products").
		Select("id").
		Where(goqu.Ex{"family_name": family}).
		ScanValsContext(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("unable to execute SQL: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) OperatorExists(ctx context.Context, operatorID string) (bool, error) {
	var count int
	if _, err := s.db.From("operators").
		Select(goqu.COUNT("*")).
		Where(goqu.Ex{"id": operatorID}).
		ScanValContext(ctx, &count); err != nil {
		return false, fmt.Errorf("unable to execute SQL: %w", err)
	}
	return count > 0, nil
}

func (s *PostgresStore) VLMConfig(ctx context.Context) (model.VLMConfig, error) {
	var cfg model.VLMConfig
	found, err := s.db.From("vlm_config").
		Order(goqu.C("last_updated").Desc()).
		Limit(1).
		ScanStructContext(ctx, &cfg)
	if err != nil {
		return model.VLMConfig{}, fmt.Errorf("unable to execute SQL: %w", err)
	}
	if !found {
		return model.VLMConfig{}, corestore.ErrNotFound
	}
	return cfg, nil
}

func (s *PostgresStore) SetVLMConfig(ctx context.Context, cfg model.VLMConfig) error {
	_, err := s.db.Insert("vlm_config").Rows(goqu.Record{
		"normal_speed":   cfg.NormalSpeed,
		"approach_speed": cfg.ApproachSpeed,
		"steps_per_floor": cfg.StepsPerFloor,
		"stop_pulse":      cfg.StopPulse,
		"forward_pulse":   cfg.ForwardPulse,
		"backward_pulse":  cfg.BackwardPulse,
		"collect_time":    cfg.CollectTime,
		"return_time":     cfg.ReturnTime,
		"hall_n_thresh":   cfg.HallNThreshold,
		"hall_s_thresh":   cfg.HallSThreshold,
		"last_updated":    goqu.L("CURRENT_TIMESTAMP"),
	}).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert configuration: %w", err)
	}
	return nil
}

// interface conformance
var (
	_ corestore.Store = (*MemoryStore)(nil)
	_ corestore.Store = (*PostgresStore)(nil)
)

// IsNotFound reports whether err is the store's not-found sentinel.
func IsNotFound(err error) bool { return errors.Is(err, corestore.ErrNotFound) }

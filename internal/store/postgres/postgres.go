package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"ealtrack/internal/domain"
	"ealtrack/internal/serial"
	"ealtrack/internal/store"
	"ealtrack/internal/xid"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, "migrations")
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// filterBuilder accumulates numbered WHERE clauses.
type filterBuilder struct {
	clauses []string
	args    []any
}

func (b *filterBuilder) add(clause string, arg any) {
	b.args = append(b.args, arg)
	b.clauses = append(b.clauses, fmt.Sprintf(clause, len(b.args)))
}

func (b *filterBuilder) where() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(b.clauses, " AND ")
}

func (b *filterBuilder) common(filter domain.ListFilter, dateColumn string) {
	if filter.StartDate != nil {
		b.add(dateColumn+" >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		b.add(dateColumn+" <= $%d", *filter.EndDate)
	}
	if filter.Company != "" {
		b.add("company_id = $%d", filter.Company)
	}
	if filter.Market != "" {
		b.add("market = $%d", string(filter.Market))
	}
}

func (s *Store) ListCompanies(ctx context.Context) ([]domain.Company, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM companies ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Company, 0, 16)
	for rows.Next() {
		var c domain.Company
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateCompany(ctx context.Context, company domain.Company) (*domain.Company, error) {
	if company.ID == "" {
		company.ID = xid.New("cmp")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO companies (id, name, created_at) VALUES ($1,$2,$3)`,
		company.ID, company.Name, company.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &company, nil
}

func (s *Store) ListPacks(ctx context.Context) ([]domain.Pack, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, bottles_per_case, created_at FROM packs ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Pack, 0, 16)
	for rows.Next() {
		var p domain.Pack
		if err := rows.Scan(&p.ID, &p.Name, &p.BottlesPerCase, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreatePack(ctx context.Context, pack domain.Pack) (*domain.Pack, error) {
	if pack.ID == "" {
		pack.ID = xid.New("pck")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO packs (id, name, bottles_per_case, created_at) VALUES ($1,$2,$3,$4)`,
		pack.ID, pack.Name, pack.BottlesPerCase, pack.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &pack, nil
}

const itemColumns = `id, name, company_id, market, pack_id, created_at`

func scanItem(row scanner) (domain.Item, error) {
	var it domain.Item
	err := row.Scan(&it.ID, &it.Name, &it.Company, &it.Market, &it.Pack, &it.CreatedAt)
	return it, err
}

func (s *Store) ListItems(ctx context.Context, filter domain.ListFilter) ([]domain.Item, error) {
	var b filterBuilder
	if filter.Company != "" {
		b.add("company_id = $%d", filter.Company)
	}
	if filter.Market != "" {
		b.add("market = $%d", string(filter.Market))
	}
	if filter.Pack != "" {
		b.add("pack_id = $%d", filter.Pack)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items `+b.where()+` ORDER BY name`, b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Item, 0, 32)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.ID == "" {
		item.ID = xid.New("itm")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, name, company_id, market, pack_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, item.ID, item.Name, item.Company, string(item.Market), item.Pack, item.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &item, nil
}

func (s *Store) ListDeliveryLocations(ctx context.Context) ([]domain.DeliveryLocation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, address, created_at FROM delivery_locations ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.DeliveryLocation, 0, 16)
	for rows.Next() {
		var l domain.DeliveryLocation
		if err := rows.Scan(&l.ID, &l.Name, &l.Address, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) CreateDeliveryLocation(ctx context.Context, loc domain.DeliveryLocation) (*domain.DeliveryLocation, error) {
	if loc.ID == "" {
		loc.ID = xid.New("dlv")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO delivery_locations (id, name, address, created_at) VALUES ($1,$2,$3,$4)`,
		loc.ID, loc.Name, loc.Address, loc.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &loc, nil
}

const issuanceColumns = `id, company_id, market, pack_id, date_issued, prefix, serial_from, serial_to,
	issued_quantity, balance_quantity, created_by, created_at`

func scanIssuance(row scanner) (domain.IssuanceRecord, error) {
	var rec domain.IssuanceRecord
	err := row.Scan(&rec.ID, &rec.Company, &rec.Market, &rec.Pack, &rec.DateIssued, &rec.Prefix, &rec.From, &rec.To,
		&rec.IssuedQuantity, &rec.BalanceQuantity, &rec.CreatedBy, &rec.CreatedAt)
	return rec, err
}

func queryIssuances(ctx context.Context, q querier, query string, args ...any) ([]domain.IssuanceRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.IssuanceRecord, 0, 32)
	for rows.Next() {
		rec, err := scanIssuance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) ListIssuances(ctx context.Context, filter domain.ListFilter) ([]domain.IssuanceRecord, error) {
	var b filterBuilder
	b.common(filter, "date_issued")
	if filter.Pack != "" {
		b.add("pack_id = $%d", filter.Pack)
	}
	query := `SELECT ` + issuanceColumns + ` FROM eal_issuances ` + b.where()
	if filter.BalanceOnly {
		query += joinClause(b.where(), "balance_quantity > 0")
	}
	query += ` ORDER BY date_issued DESC, created_at DESC, id`
	return queryIssuances(ctx, s.db, query, b.args...)
}

func (s *Store) IssuancesContaining(ctx context.Context, prefix string, n serial.Number) ([]domain.IssuanceRecord, error) {
	return queryIssuances(ctx, s.db, `
		SELECT `+issuanceColumns+` FROM eal_issuances
		WHERE ($1 = '' OR prefix = $1) AND serial_from <= $2 AND serial_to >= $2
		ORDER BY id
	`, prefix, int64(n))
}

const usageColumns = `id, company_id, market, item_id, pack_id, date_used, prefix, serial_from, serial_to,
	used_quantity, used_quantity_in_cases, balance_quantity_in_cases, created_by, created_at`

func scanUsage(row scanner) (domain.UsageRecord, error) {
	var rec domain.UsageRecord
	err := row.Scan(&rec.ID, &rec.Company, &rec.Market, &rec.Item, &rec.Pack, &rec.DateUsed, &rec.Prefix, &rec.From, &rec.To,
		&rec.UsedQuantity, &rec.UsedQuantityInCases, &rec.BalanceQuantityInCases, &rec.CreatedBy, &rec.CreatedAt)
	return rec, err
}

func queryUsages(ctx context.Context, q querier, query string, args ...any) ([]domain.UsageRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]domain.UsageRecord, 0, 32)
	for rows.Next() {
		rec, err := scanUsage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := attachSources(ctx, q, out); err != nil {
		return nil, err
	}
	return out, nil
}

func attachSources(ctx context.Context, q querier, usages []domain.UsageRecord) error {
	if len(usages) == 0 {
		return nil
	}
	ids := make([]string, len(usages))
	index := make(map[string]int, len(usages))
	for i, u := range usages {
		ids[i] = u.ID
		index[u.ID] = i
		usages[i].Sources = []domain.UsageSource{}
	}

	rows, err := q.QueryContext(ctx, `
		SELECT usage_id, issuance_id, prefix, serial_from, serial_to, quantity
		FROM eal_usage_sources
		WHERE usage_id = ANY($1)
		ORDER BY serial_from
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var usageID string
		var src domain.UsageSource
		if err := rows.Scan(&usageID, &src.IssuanceID, &src.Prefix, &src.From, &src.To, &src.Quantity); err != nil {
			return err
		}
		i := index[usageID]
		usages[i].Sources = append(usages[i].Sources, src)
	}
	return rows.Err()
}

func (s *Store) ListUsages(ctx context.Context, filter domain.ListFilter) ([]domain.UsageRecord, error) {
	var b filterBuilder
	b.common(filter, "date_used")
	if filter.Pack != "" {
		b.add("pack_id = $%d", filter.Pack)
	}
	if filter.Item != "" {
		b.add("item_id = $%d", filter.Item)
	}
	query := `SELECT ` + usageColumns + ` FROM eal_usages ` + b.where()
	if filter.BalanceOnly {
		query += joinClause(b.where(), "balance_quantity_in_cases > 0")
	}
	query += ` ORDER BY date_used DESC, created_at DESC, id`
	return queryUsages(ctx, s.db, query, b.args...)
}

func (s *Store) UsagesContaining(ctx context.Context, prefix string, n serial.Number) ([]domain.UsageRecord, error) {
	return queryUsages(ctx, s.db, `
		SELECT `+usageColumns+` FROM eal_usages
		WHERE ($1 = '' OR prefix = $1) AND serial_from <= $2 AND serial_to >= $2
		ORDER BY id
	`, prefix, int64(n))
}

const dispatchColumns = `id, company_id, market, delivery_to, date_dispatched, status,
	vehicle_number, driver_name, driver_contact, total_quantity, eal_issued_total_quantity,
	created_by, created_at, updated_at`

func scanDispatch(row scanner) (domain.DispatchRecord, error) {
	var d domain.DispatchRecord
	var vehicleNumber, driverName, driverContact sql.NullString
	err := row.Scan(&d.ID, &d.Company, &d.Market, &d.DeliveryTo, &d.DateDispatched, &d.Status,
		&vehicleNumber, &driverName, &driverContact, &d.TotalQuantity, &d.EALIssuedTotalQuantity,
		&d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return d, err
	}
	if vehicleNumber.Valid {
		d.VehicleDetails = &domain.VehicleDetails{
			VehicleNumber: vehicleNumber.String,
			DriverName:    driverName.String,
			DriverContact: driverContact.String,
		}
	}
	return d, nil
}

// queryDispatches loads dispatch headers and then their items and links.
func queryDispatches(ctx context.Context, q querier, query string, args ...any) ([]domain.DispatchRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DispatchRecord, 0, 16)
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		d.Items = []domain.DispatchItem{}
		out = append(out, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, len(out))
	index := make(map[string]int, len(out))
	for i, d := range out {
		ids[i] = d.ID
		index[d.ID] = i
	}

	itemRows, err := q.QueryContext(ctx, `
		SELECT dispatch_id, item_id, quantity_in_cases, eal_issued_quantity
		FROM dispatch_items
		WHERE dispatch_id = ANY($1)
		ORDER BY dispatch_id, position
	`, ids)
	if err != nil {
		return nil, err
	}
	for itemRows.Next() {
		var dispatchID string
		it := domain.DispatchItem{EALLinks: []domain.EALLink{}}
		if err := itemRows.Scan(&dispatchID, &it.Item, &it.QuantityInCases, &it.EALIssuedQuantity); err != nil {
			itemRows.Close()
			return nil, err
		}
		i := index[dispatchID]
		out[i].Items = append(out[i].Items, it)
	}
	itemRows.Close()
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	linkRows, err := q.QueryContext(ctx, `
		SELECT dispatch_id, item_id, id, prefix, serial_from, serial_to, usage_id, used_quantity, used_cases, linked_by, linked_at
		FROM dispatch_eal_links
		WHERE dispatch_id = ANY($1)
		ORDER BY linked_at, id
	`, ids)
	if err != nil {
		return nil, err
	}
	defer linkRows.Close()
	for linkRows.Next() {
		var dispatchID, itemID string
		var l domain.EALLink
		if err := linkRows.Scan(&dispatchID, &itemID, &l.ID, &l.Prefix, &l.From, &l.To, &l.UsageID,
			&l.UsedQuantity, &l.UsedCases, &l.LinkedBy, &l.LinkedAt); err != nil {
			return nil, err
		}
		d := &out[index[dispatchID]]
		if it, ok := d.ItemByID(itemID); ok {
			it.EALLinks = append(it.EALLinks, l)
		}
	}
	return out, linkRows.Err()
}

func (s *Store) ListDispatches(ctx context.Context, filter domain.ListFilter) ([]domain.DispatchRecord, error) {
	var b filterBuilder
	b.common(filter, "date_dispatched")
	if filter.Status != "" {
		b.add("status = $%d", string(filter.Status))
	}
	query := `SELECT ` + dispatchColumns + ` FROM dispatches ` + b.where()
	if filter.BalanceOnly {
		query += joinClause(b.where(), "eal_issued_total_quantity < total_quantity")
	}
	query += ` ORDER BY date_dispatched DESC, created_at DESC, id`
	return queryDispatches(ctx, s.db, query, b.args...)
}

func (s *Store) GetDispatch(ctx context.Context, id string) (*domain.DispatchRecord, error) {
	return getDispatch(ctx, s.db, id, false)
}

func getDispatch(ctx context.Context, q querier, id string, lock bool) (*domain.DispatchRecord, error) {
	query := `SELECT ` + dispatchColumns + ` FROM dispatches WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	list, err := queryDispatches(ctx, q, query, id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, store.ErrNotFound
	}
	return &list[0], nil
}

func (s *Store) DispatchesContaining(ctx context.Context, prefix string, n serial.Number) ([]domain.DispatchRecord, error) {
	return queryDispatches(ctx, s.db, `
		SELECT `+dispatchColumns+` FROM dispatches
		WHERE id IN (
			SELECT dispatch_id FROM dispatch_eal_links
			WHERE ($1 = '' OR prefix = $1) AND serial_from <= $2 AND serial_to >= $2
		)
		ORDER BY id
	`, prefix, int64(n))
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.AuditLog, 0, 64)
	for rows.Next() {
		var e domain.AuditLog
		if err := rows.Scan(&e.ID, &e.ActorUsername, &e.ActorRole, &e.Action, &e.EntityType, &e.EntityID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if user.Role == "" {
		user.Role = domain.RoleOperator
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, username, user.Password, user.Role, user.CreatedAt)
	return mapWriteError(err)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, password, role, active, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`,
		strings.ToLower(strings.TrimSpace(username)), password)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// RunInTx runs fn inside a SERIALIZABLE transaction. Serialization
// failures and deadlocks surface as store.ErrConflict.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&pgTx{tx: sqlTx}); err != nil {
		return mapTxError(err)
	}
	if err = sqlTx.Commit(); err != nil {
		return mapTxError(err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetCompany(ctx context.Context, id string) (*domain.Company, error) {
	var c domain.Company
	err := t.tx.QueryRowContext(ctx, `SELECT id, name, created_at FROM companies WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &c, nil
}

func (t *pgTx) GetPack(ctx context.Context, id string) (*domain.Pack, error) {
	var p domain.Pack
	err := t.tx.QueryRowContext(ctx, `SELECT id, name, bottles_per_case, created_at FROM packs WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.BottlesPerCase, &p.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &p, nil
}

func (t *pgTx) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	it, err := scanItem(t.tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &it, nil
}

func (t *pgTx) GetDeliveryLocation(ctx context.Context, id string) (*domain.DeliveryLocation, error) {
	var l domain.DeliveryLocation
	err := t.tx.QueryRowContext(ctx, `SELECT id, name, address, created_at FROM delivery_locations WHERE id = $1`, id).
		Scan(&l.ID, &l.Name, &l.Address, &l.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &l, nil
}

func (t *pgTx) GetIssuance(ctx context.Context, id string) (*domain.IssuanceRecord, error) {
	rec, err := scanIssuance(t.tx.QueryRowContext(ctx, `SELECT `+issuanceColumns+` FROM eal_issuances WHERE id = $1`, id))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &rec, nil
}

func (t *pgTx) IssuancesOverlapping(ctx context.Context, r serial.Range) ([]domain.IssuanceRecord, error) {
	return queryIssuances(ctx, t.tx, `
		SELECT `+issuanceColumns+` FROM eal_issuances
		WHERE prefix = $1 AND serial_from <= $3 AND serial_to >= $2
		ORDER BY serial_from
		FOR UPDATE
	`, r.Prefix, int64(r.From), int64(r.To))
}

func (t *pgTx) InsertIssuance(ctx context.Context, rec domain.IssuanceRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO eal_issuances (`+issuanceColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, rec.ID, rec.Company, string(rec.Market), rec.Pack, rec.DateIssued, rec.Prefix, int64(rec.From), int64(rec.To),
		rec.IssuedQuantity, rec.BalanceQuantity, rec.CreatedBy, rec.CreatedAt)
	return mapWriteError(err)
}

func (t *pgTx) UpdateIssuanceBalance(ctx context.Context, id string, balance int64) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE eal_issuances SET balance_quantity = $2 WHERE id = $1`, id, balance)
	if err != nil {
		return mapWriteError(err)
	}
	return requireRow(res)
}

func (t *pgTx) GetUsage(ctx context.Context, id string) (*domain.UsageRecord, error) {
	list, err := queryUsages(ctx, t.tx, `SELECT `+usageColumns+` FROM eal_usages WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, store.ErrNotFound
	}
	return &list[0], nil
}

func (t *pgTx) UsagesOverlapping(ctx context.Context, r serial.Range) ([]domain.UsageRecord, error) {
	return queryUsages(ctx, t.tx, `
		SELECT `+usageColumns+` FROM eal_usages
		WHERE prefix = $1 AND serial_from <= $3 AND serial_to >= $2
		ORDER BY serial_from
		FOR UPDATE
	`, r.Prefix, int64(r.From), int64(r.To))
}

func (t *pgTx) InsertUsage(ctx context.Context, rec domain.UsageRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO eal_usages (`+usageColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, rec.ID, rec.Company, string(rec.Market), rec.Item, rec.Pack, rec.DateUsed, rec.Prefix, int64(rec.From), int64(rec.To),
		rec.UsedQuantity, rec.UsedQuantityInCases, rec.BalanceQuantityInCases, rec.CreatedBy, rec.CreatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	for _, src := range rec.Sources {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO eal_usage_sources (usage_id, issuance_id, prefix, serial_from, serial_to, quantity)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, rec.ID, src.IssuanceID, src.Prefix, int64(src.From), int64(src.To), src.Quantity)
		if err != nil {
			return mapWriteError(err)
		}
	}
	return nil
}

func (t *pgTx) UpdateUsageBalance(ctx context.Context, id string, balanceInCases int64) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE eal_usages SET balance_quantity_in_cases = $2 WHERE id = $1`, id, balanceInCases)
	if err != nil {
		return mapWriteError(err)
	}
	return requireRow(res)
}

func (t *pgTx) GetDispatch(ctx context.Context, id string) (*domain.DispatchRecord, error) {
	return getDispatch(ctx, t.tx, id, true)
}

func (t *pgTx) LinksOverlapping(ctx context.Context, r serial.Range) ([]domain.EALLink, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, prefix, serial_from, serial_to, usage_id, used_quantity, used_cases, linked_by, linked_at
		FROM dispatch_eal_links
		WHERE prefix = $1 AND serial_from <= $3 AND serial_to >= $2
		FOR UPDATE
	`, r.Prefix, int64(r.From), int64(r.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.EALLink, 0, 2)
	for rows.Next() {
		var l domain.EALLink
		if err := rows.Scan(&l.ID, &l.Prefix, &l.From, &l.To, &l.UsageID, &l.UsedQuantity, &l.UsedCases, &l.LinkedBy, &l.LinkedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertDispatch(ctx context.Context, d domain.DispatchRecord) error {
	number, driver, contact := vehicleColumns(d.VehicleDetails)
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO dispatches (`+dispatchColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, d.ID, d.Company, string(d.Market), d.DeliveryTo, d.DateDispatched, string(d.Status),
		number, driver, contact, d.TotalQuantity, d.EALIssuedTotalQuantity, d.CreatedBy, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return t.insertDispatchLines(ctx, d)
}

// SaveDispatch rewrites the header and replaces every line and link.
func (t *pgTx) SaveDispatch(ctx context.Context, d domain.DispatchRecord) error {
	number, driver, contact := vehicleColumns(d.VehicleDetails)
	res, err := t.tx.ExecContext(ctx, `
		UPDATE dispatches SET
			company_id = $2, market = $3, delivery_to = $4, date_dispatched = $5, status = $6,
			vehicle_number = $7, driver_name = $8, driver_contact = $9,
			total_quantity = $10, eal_issued_total_quantity = $11, updated_at = $12
		WHERE id = $1
	`, d.ID, d.Company, string(d.Market), d.DeliveryTo, d.DateDispatched, string(d.Status),
		number, driver, contact, d.TotalQuantity, d.EALIssuedTotalQuantity, d.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM dispatch_items WHERE dispatch_id = $1`, d.ID); err != nil {
		return err
	}
	return t.insertDispatchLines(ctx, d)
}

func (t *pgTx) insertDispatchLines(ctx context.Context, d domain.DispatchRecord) error {
	for pos, it := range d.Items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO dispatch_items (dispatch_id, item_id, position, quantity_in_cases, eal_issued_quantity)
			VALUES ($1,$2,$3,$4,$5)
		`, d.ID, it.Item, pos, it.QuantityInCases, it.EALIssuedQuantity)
		if err != nil {
			return mapWriteError(err)
		}
		for _, l := range it.EALLinks {
			_, err := t.tx.ExecContext(ctx, `
				INSERT INTO dispatch_eal_links
					(id, dispatch_id, item_id, usage_id, prefix, serial_from, serial_to, used_quantity, used_cases, linked_by, linked_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			`, l.ID, d.ID, it.Item, l.UsageID, l.Prefix, int64(l.From), int64(l.To), l.UsedQuantity, l.UsedCases, l.LinkedBy, l.LinkedAt)
			if err != nil {
				return mapWriteError(err)
			}
		}
	}
	return nil
}

func (t *pgTx) DeleteDispatch(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM dispatches WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *pgTx) FindIdempotencyKey(ctx context.Context, scope string, key string) (string, error) {
	var id string
	err := t.tx.QueryRowContext(ctx, `SELECT record_id FROM idempotency_keys WHERE scope = $1 AND key = $2`, scope, key).Scan(&id)
	if err != nil {
		return "", mapNoRows(err)
	}
	return id, nil
}

func (t *pgTx) SaveIdempotencyKey(ctx context.Context, scope string, key string, recordID string) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO idempotency_keys (scope, key, record_id) VALUES ($1,$2,$3)`, scope, key, recordID)
	return mapWriteError(err)
}

func (t *pgTx) InsertAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func vehicleColumns(v *domain.VehicleDetails) (sql.NullString, sql.NullString, sql.NullString) {
	if v == nil {
		return sql.NullString{}, sql.NullString{}, sql.NullString{}
	}
	return sql.NullString{String: v.VehicleNumber, Valid: true},
		sql.NullString{String: v.DriverName, Valid: true},
		sql.NullString{String: v.DriverContact, Valid: true}
}

func joinClause(where string, clause string) string {
	if where == "" {
		return " WHERE " + clause
	}
	return " AND " + clause
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.ConstraintName)
		case "23514":
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
		}
	}
	return err
}

func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
	}
	return err
}

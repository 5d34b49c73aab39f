package store

import (
	"context"
	"errors"
	"time"

	"ealtrack/internal/domain"
	"ealtrack/internal/serial"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("concurrent modification, retry from fresh state")
	ErrDuplicate = errors.New("duplicate")
)

// Repository is the read side plus reference-data administration. All
// ledger writes go through RunInTx.
type Repository interface {
	ListCompanies(ctx context.Context) ([]domain.Company, error)
	CreateCompany(ctx context.Context, company domain.Company) (*domain.Company, error)
	ListPacks(ctx context.Context) ([]domain.Pack, error)
	CreatePack(ctx context.Context, pack domain.Pack) (*domain.Pack, error)
	ListItems(ctx context.Context, filter domain.ListFilter) ([]domain.Item, error)
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	ListDeliveryLocations(ctx context.Context) ([]domain.DeliveryLocation, error)
	CreateDeliveryLocation(ctx context.Context, loc domain.DeliveryLocation) (*domain.DeliveryLocation, error)

	ListIssuances(ctx context.Context, filter domain.ListFilter) ([]domain.IssuanceRecord, error)
	ListUsages(ctx context.Context, filter domain.ListFilter) ([]domain.UsageRecord, error)
	ListDispatches(ctx context.Context, filter domain.ListFilter) ([]domain.DispatchRecord, error)
	GetDispatch(ctx context.Context, id string) (*domain.DispatchRecord, error)

	// Serial lookups. An empty prefix matches every prefix.
	IssuancesContaining(ctx context.Context, prefix string, n serial.Number) ([]domain.IssuanceRecord, error)
	UsagesContaining(ctx context.Context, prefix string, n serial.Number) ([]domain.UsageRecord, error)
	DispatchesContaining(ctx context.Context, prefix string, n serial.Number) ([]domain.DispatchRecord, error)

	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error

	// RunInTx runs fn in a single serializable unit of work. If fn returns
	// an error nothing it wrote is kept.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side of one ledger operation. Getters lock the rows they
// return until the transaction ends.
type Tx interface {
	GetCompany(ctx context.Context, id string) (*domain.Company, error)
	GetPack(ctx context.Context, id string) (*domain.Pack, error)
	GetItem(ctx context.Context, id string) (*domain.Item, error)
	GetDeliveryLocation(ctx context.Context, id string) (*domain.DeliveryLocation, error)

	GetIssuance(ctx context.Context, id string) (*domain.IssuanceRecord, error)
	IssuancesOverlapping(ctx context.Context, r serial.Range) ([]domain.IssuanceRecord, error)
	InsertIssuance(ctx context.Context, rec domain.IssuanceRecord) error
	UpdateIssuanceBalance(ctx context.Context, id string, balance int64) error

	GetUsage(ctx context.Context, id string) (*domain.UsageRecord, error)
	UsagesOverlapping(ctx context.Context, r serial.Range) ([]domain.UsageRecord, error)
	InsertUsage(ctx context.Context, rec domain.UsageRecord) error
	UpdateUsageBalance(ctx context.Context, id string, balanceInCases int64) error

	GetDispatch(ctx context.Context, id string) (*domain.DispatchRecord, error)
	LinksOverlapping(ctx context.Context, r serial.Range) ([]domain.EALLink, error)
	InsertDispatch(ctx context.Context, d domain.DispatchRecord) error
	SaveDispatch(ctx context.Context, d domain.DispatchRecord) error
	DeleteDispatch(ctx context.Context, id string) error

	// Idempotency keys map (scope, key) to the record created under them.
	FindIdempotencyKey(ctx context.Context, scope string, key string) (string, error)
	SaveIdempotencyKey(ctx context.Context, scope string, key string, recordID string) error

	InsertAuditLog(ctx context.Context, entry domain.AuditLog) error
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"ealtrack/internal/apperr"
	"ealtrack/internal/domain"
	"ealtrack/internal/lock"
	"ealtrack/internal/logging"
	"ealtrack/internal/metrics"
	"ealtrack/internal/store"
	"ealtrack/internal/xid"
)

// ErrForbidden is returned when the actor lacks the role an operation needs.
var ErrForbidden = errors.New("admin role required")

const (
	scopeIssuance = "issuance"
	scopeUsage    = "usage"
	scopeDispatch = "dispatch"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	locker   lock.Locker
	metrics  *metrics.Metrics
	logger   *logrus.Logger
	validate *validator.Validate
	settings domain.Settings
	now      func() time.Time
}

// New wires a service. A nil locker falls back to in-process locks and a
// nil logger discards output; metrics may be nil.
func New(repo store.Repository, locker lock.Locker, m *metrics.Metrics, logger *logrus.Logger, settings domain.Settings) *Service {
	if locker == nil {
		locker = lock.NewLocal(15 * time.Second)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if strings.TrimSpace(settings.UnlinkConfirmationPhrase) == "" {
		settings.UnlinkConfirmationPhrase = "unlink"
	}
	return &Service{
		repo:     repo,
		locker:   locker,
		metrics:  m,
		logger:   logger,
		validate: newValidator(),
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Settings() domain.Settings {
	return s.settings
}

func (s *Service) ListCompanies(ctx context.Context) ([]domain.Company, error) {
	return s.repo.ListCompanies(ctx)
}

func (s *Service) CreateCompany(ctx context.Context, req domain.CompanyCreateRequest) (domain.Company, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Company{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validateStruct(req); err != nil {
		return domain.Company{}, err
	}
	created, err := s.repo.CreateCompany(ctx, domain.Company{ID: xid.New("cmp"), Name: req.Name, CreatedAt: s.now()})
	if err != nil {
		return domain.Company{}, err
	}
	s.logAudit(ctx, "company_create", "company", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) ListPacks(ctx context.Context) ([]domain.Pack, error) {
	return s.repo.ListPacks(ctx)
}

func (s *Service) CreatePack(ctx context.Context, req domain.PackCreateRequest) (domain.Pack, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Pack{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validateStruct(req); err != nil {
		return domain.Pack{}, err
	}
	created, err := s.repo.CreatePack(ctx, domain.Pack{
		ID:             xid.New("pck"),
		Name:           req.Name,
		BottlesPerCase: req.BottlesPerCase,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return domain.Pack{}, err
	}
	s.logAudit(ctx, "pack_create", "pack", created.ID, fmt.Sprintf("name=%s,bottlesPerCase=%d", created.Name, created.BottlesPerCase))
	return *created, nil
}

// ListItems backs the dependent item selector: items narrowed by company,
// market and pack.
func (s *Service) ListItems(ctx context.Context, filter domain.ListFilter) ([]domain.Item, error) {
	if filter.Market != "" && !filter.Market.Valid() {
		return nil, apperr.Invalid("market", "market must be one of: local, export")
	}
	return s.repo.ListItems(ctx, filter)
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Item{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validateStruct(req); err != nil {
		return domain.Item{}, err
	}
	err := s.repo.RunInTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetCompany(ctx, req.Company); err != nil {
			return notFound("company", req.Company, err)
		}
		if _, err := tx.GetPack(ctx, req.Pack); err != nil {
			return notFound("pack", req.Pack, err)
		}
		return nil
	})
	if err != nil {
		return domain.Item{}, err
	}
	created, err := s.repo.CreateItem(ctx, domain.Item{
		ID:        xid.New("itm"),
		Name:      req.Name,
		Company:   req.Company,
		Market:    domain.Market(req.Market),
		Pack:      req.Pack,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Item{}, err
	}
	s.logAudit(ctx, "item_create", "item", created.ID, fmt.Sprintf("name=%s,company=%s,market=%s,pack=%s", created.Name, created.Company, created.Market, created.Pack))
	return *created, nil
}

func (s *Service) ListDeliveryLocations(ctx context.Context) ([]domain.DeliveryLocation, error) {
	return s.repo.ListDeliveryLocations(ctx)
}

func (s *Service) CreateDeliveryLocation(ctx context.Context, req domain.DeliveryLocationCreateRequest) (domain.DeliveryLocation, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.DeliveryLocation{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Address = strings.TrimSpace(req.Address)
	if err := s.validateStruct(req); err != nil {
		return domain.DeliveryLocation{}, err
	}
	created, err := s.repo.CreateDeliveryLocation(ctx, domain.DeliveryLocation{
		ID:        xid.New("dlv"),
		Name:      req.Name,
		Address:   req.Address,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.DeliveryLocation{}, err
	}
	s.logAudit(ctx, "delivery_location_create", "delivery_location", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(date))
		if err != nil {
			return nil, apperr.Invalid("date", "date must be formatted as YYYY-MM-DD")
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

func (s *Service) auditEntry(ctx context.Context, action string, entityType string, entityID string, detail string) domain.AuditLog {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	return domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}
}

// logAudit records reference-data changes, which run outside a ledger
// transaction. A failed audit write is logged but does not fail the call.
func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	entry := s.auditEntry(ctx, action, entityType, entityID, detail)
	err := s.repo.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertAuditLog(ctx, entry)
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"module": "service",
			"action": action,
			"entity": entityType + "/" + entityID,
		}).WithError(err).Warn("failed to write audit log")
	}
}

// acquire takes the record locks for one write. An unobtainable lock is
// reported as a conflict.
func (s *Service) acquire(ctx context.Context, keys ...string) (lock.Release, error) {
	release, err := s.locker.Acquire(ctx, keys...)
	if errors.Is(err, lock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", store.ErrConflict, err.Error())
	}
	if err != nil {
		return nil, fmt.Errorf("acquire record lock: %w", err)
	}
	return release, nil
}

// observe records the outcome of one ledger write.
func (s *Service) observe(operation string, start time.Time, err error, data any) {
	result := resultOf(err)
	s.metrics.ObserveOperation(operation, result, time.Since(start))
	switch result {
	case "ok":
		return
	case "error":
		logging.LogError(s.logger, "service", operation, "ledger write failed", data, err)
	default:
		s.logger.WithFields(logrus.Fields{
			"module":   "service",
			"funcName": operation,
			"result":   result,
			"rule":     apperr.RuleOf(err),
			"data":     data,
		}).Warn(err.Error())
	}
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrValidation):
		return "validation"
	case errors.Is(err, apperr.ErrInvariant):
		return "invariant"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrDuplicate):
		return "conflict"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}

func notFound(entity string, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s %q: %w", entity, id, store.ErrNotFound)
	}
	return err
}

// replay returns the record ID stored under an idempotency key, or "".
func replay(ctx context.Context, tx store.Tx, scope string, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	id, err := tx.FindIdempotencyKey(ctx, scope, key)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	return id, err
}

func remember(ctx context.Context, tx store.Tx, scope string, key string, recordID string) error {
	if key == "" {
		return nil
	}
	return tx.SaveIdempotencyKey(ctx, scope, key, recordID)
}

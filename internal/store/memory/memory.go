package memory

import (
	"cmp"
	"context"
	"errors"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"ealtrack/internal/domain"
	"ealtrack/internal/serial"
	"ealtrack/internal/store"
	"ealtrack/internal/xid"
)

var (
	errTxClosed    = errors.New("memory store: transaction already finished")
	errInvalidUser = errors.New("memory store: username and password are required")
)

// Store keeps every ledger in process memory. Stored values are never
// mutated in place, so a shallow copy of the maps is a full snapshot.
type Store struct {
	mu              sync.RWMutex
	companies       map[string]domain.Company
	packs           map[string]domain.Pack
	items           map[string]domain.Item
	locations       map[string]domain.DeliveryLocation
	issuances       map[string]domain.IssuanceRecord
	usages          map[string]domain.UsageRecord
	dispatches      map[string]domain.DispatchRecord
	idempotency     map[string]string
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD with dev fallbacks.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	operatorPwd := envOr("SEED_OPERATOR_PASSWORD", "operator123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_OPERATOR_PASSWORD") == "" {
		logrus.WithField("module", "store").Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"operator", operatorPwd, domain.RoleOperator},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logrus.WithField("module", "store").Fatalf("failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New returns an empty store with no users.
func New() *Store {
	return &Store{
		companies:       make(map[string]domain.Company),
		packs:           make(map[string]domain.Pack),
		items:           make(map[string]domain.Item),
		locations:       make(map[string]domain.DeliveryLocation),
		issuances:       make(map[string]domain.IssuanceRecord),
		usages:          make(map[string]domain.UsageRecord),
		dispatches:      make(map[string]domain.DispatchRecord),
		idempotency:     make(map[string]string),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with demo reference data and users.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, c := range []domain.Company{
		{ID: "cmp_acme", Name: "Acme Breweries"},
		{ID: "cmp_sunrise", Name: "Sunrise Distillers"},
	} {
		c.CreatedAt = now
		s.companies[c.ID] = c
	}
	for _, p := range []domain.Pack{
		{ID: "pck_650", Name: "650 ml", BottlesPerCase: 12},
		{ID: "pck_330", Name: "330 ml", BottlesPerCase: 24},
		{ID: "pck_180", Name: "180 ml", BottlesPerCase: 48},
	} {
		p.CreatedAt = now
		s.packs[p.ID] = p
	}
	for _, it := range []domain.Item{
		{ID: "itm_acme_lager_650", Name: "Acme Lager 650 ml", Company: "cmp_acme", Market: domain.MarketLocal, Pack: "pck_650"},
		{ID: "itm_acme_strong_650", Name: "Acme Strong 650 ml", Company: "cmp_acme", Market: domain.MarketLocal, Pack: "pck_650"},
		{ID: "itm_acme_lager_330_exp", Name: "Acme Lager 330 ml (Export)", Company: "cmp_acme", Market: domain.MarketExport, Pack: "pck_330"},
		{ID: "itm_sunrise_whisky_180", Name: "Sunrise Whisky 180 ml", Company: "cmp_sunrise", Market: domain.MarketLocal, Pack: "pck_180"},
	} {
		it.CreatedAt = now
		s.items[it.ID] = it
	}
	for _, loc := range []domain.DeliveryLocation{
		{ID: "dlv_central", Name: "Central Depot", Address: "Plot 4, Industrial Area"},
		{ID: "dlv_port", Name: "Port Warehouse", Address: "Dock Road"},
	} {
		loc.CreatedAt = now
		s.locations[loc.ID] = loc
	}
	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListCompanies(_ context.Context) ([]domain.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Collect(maps.Values(s.companies))
	slices.SortFunc(out, func(a, b domain.Company) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) CreateCompany(_ context.Context, company domain.Company) (*domain.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.companies {
		if strings.EqualFold(c.Name, company.Name) {
			return nil, store.ErrDuplicate
		}
	}
	if company.ID == "" {
		company.ID = xid.New("cmp")
	}
	s.companies[company.ID] = company
	return &company, nil
}

func (s *Store) ListPacks(_ context.Context) ([]domain.Pack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Collect(maps.Values(s.packs))
	slices.SortFunc(out, func(a, b domain.Pack) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) CreatePack(_ context.Context, pack domain.Pack) (*domain.Pack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.packs {
		if strings.EqualFold(p.Name, pack.Name) {
			return nil, store.ErrDuplicate
		}
	}
	if pack.ID == "" {
		pack.ID = xid.New("pck")
	}
	s.packs[pack.ID] = pack
	return &pack, nil
}

func (s *Store) ListItems(_ context.Context, filter domain.ListFilter) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Item, 0, len(s.items))
	for _, it := range s.items {
		if filter.Company != "" && it.Company != filter.Company {
			continue
		}
		if filter.Market != "" && it.Market != filter.Market {
			continue
		}
		if filter.Pack != "" && it.Pack != filter.Pack {
			continue
		}
		out = append(out, it)
	}
	slices.SortFunc(out, func(a, b domain.Item) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies[item.Company]; !ok {
		return nil, store.ErrNotFound
	}
	if _, ok := s.packs[item.Pack]; !ok {
		return nil, store.ErrNotFound
	}
	for _, it := range s.items {
		if it.Company == item.Company && strings.EqualFold(it.Name, item.Name) {
			return nil, store.ErrDuplicate
		}
	}
	if item.ID == "" {
		item.ID = xid.New("itm")
	}
	s.items[item.ID] = item
	return &item, nil
}

func (s *Store) ListDeliveryLocations(_ context.Context) ([]domain.DeliveryLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Collect(maps.Values(s.locations))
	slices.SortFunc(out, func(a, b domain.DeliveryLocation) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) CreateDeliveryLocation(_ context.Context, loc domain.DeliveryLocation) (*domain.DeliveryLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.locations {
		if strings.EqualFold(l.Name, loc.Name) {
			return nil, store.ErrDuplicate
		}
	}
	if loc.ID == "" {
		loc.ID = xid.New("dlv")
	}
	s.locations[loc.ID] = loc
	return &loc, nil
}

func (s *Store) ListIssuances(_ context.Context, filter domain.ListFilter) ([]domain.IssuanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.IssuanceRecord, 0, len(s.issuances))
	for _, rec := range s.issuances {
		if !filter.Covers(rec.DateIssued) {
			continue
		}
		if filter.BalanceOnly && rec.BalanceQuantity <= 0 {
			continue
		}
		if filter.Company != "" && rec.Company != filter.Company {
			continue
		}
		if filter.Market != "" && rec.Market != filter.Market {
			continue
		}
		if filter.Pack != "" && rec.Pack != filter.Pack {
			continue
		}
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b domain.IssuanceRecord) int {
		return cmp.Or(b.DateIssued.Compare(a.DateIssued), b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *Store) ListUsages(_ context.Context, filter domain.ListFilter) ([]domain.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UsageRecord, 0, len(s.usages))
	for _, rec := range s.usages {
		if !filter.Covers(rec.DateUsed) {
			continue
		}
		if filter.BalanceOnly && rec.BalanceQuantityInCases <= 0 {
			continue
		}
		if filter.Company != "" && rec.Company != filter.Company {
			continue
		}
		if filter.Market != "" && rec.Market != filter.Market {
			continue
		}
		if filter.Pack != "" && rec.Pack != filter.Pack {
			continue
		}
		if filter.Item != "" && rec.Item != filter.Item {
			continue
		}
		out = append(out, cloneUsage(rec))
	}
	slices.SortFunc(out, func(a, b domain.UsageRecord) int {
		return cmp.Or(b.DateUsed.Compare(a.DateUsed), b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *Store) ListDispatches(_ context.Context, filter domain.ListFilter) ([]domain.DispatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DispatchRecord, 0, len(s.dispatches))
	for _, rec := range s.dispatches {
		if !filter.Covers(rec.DateDispatched) {
			continue
		}
		if filter.BalanceOnly && rec.EALIssuedTotalQuantity >= rec.TotalQuantity {
			continue
		}
		if filter.Company != "" && rec.Company != filter.Company {
			continue
		}
		if filter.Market != "" && rec.Market != filter.Market {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, cloneDispatch(rec))
	}
	slices.SortFunc(out, func(a, b domain.DispatchRecord) int {
		return cmp.Or(b.DateDispatched.Compare(a.DateDispatched), b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *Store) GetDispatch(_ context.Context, id string) (*domain.DispatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.dispatches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneDispatch(rec)
	return &out, nil
}

func (s *Store) IssuancesContaining(_ context.Context, prefix string, n serial.Number) ([]domain.IssuanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.IssuanceRecord, 0, 2)
	for _, rec := range s.issuances {
		if (prefix == "" || rec.Prefix == prefix) && rec.From <= n && n <= rec.To {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b domain.IssuanceRecord) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) UsagesContaining(_ context.Context, prefix string, n serial.Number) ([]domain.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UsageRecord, 0, 1)
	for _, rec := range s.usages {
		if (prefix == "" || rec.Prefix == prefix) && rec.From <= n && n <= rec.To {
			out = append(out, cloneUsage(rec))
		}
	}
	slices.SortFunc(out, func(a, b domain.UsageRecord) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) DispatchesContaining(_ context.Context, prefix string, n serial.Number) ([]domain.DispatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DispatchRecord, 0, 1)
	for _, rec := range s.dispatches {
		if dispatchHolds(rec, prefix, n) {
			out = append(out, cloneDispatch(rec))
		}
	}
	slices.SortFunc(out, func(a, b domain.DispatchRecord) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func dispatchHolds(rec domain.DispatchRecord, prefix string, n serial.Number) bool {
	for _, it := range rec.Items {
		for _, l := range it.EALLinks {
			if (prefix == "" || l.Prefix == prefix) && l.From <= n && n <= l.To {
				return true
			}
		}
	}
	return false
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return errInvalidUser
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleOperator
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := slices.Collect(maps.Values(s.usersByUsername))
	slices.SortFunc(users, func(a, b domain.UserAccount) int { return cmp.Compare(a.Username, b.Username) })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

type snapshot struct {
	issuances   map[string]domain.IssuanceRecord
	usages      map[string]domain.UsageRecord
	dispatches  map[string]domain.DispatchRecord
	idempotency map[string]string
	auditLen    int
}

// RunInTx holds the write lock for the whole of fn, which serializes every
// ledger write in the process. On error the ledgers are restored.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		issuances:   maps.Clone(s.issuances),
		usages:      maps.Clone(s.usages),
		dispatches:  maps.Clone(s.dispatches),
		idempotency: maps.Clone(s.idempotency),
		auditLen:    len(s.auditLogs),
	}
	tx := &memTx{s: s}
	err := fn(tx)
	tx.done = true
	if err != nil {
		s.issuances = snap.issuances
		s.usages = snap.usages
		s.dispatches = snap.dispatches
		s.idempotency = snap.idempotency
		s.auditLogs = s.auditLogs[:snap.auditLen]
		return err
	}
	return nil
}

// memTx runs with s.mu held by RunInTx.
type memTx struct {
	s    *Store
	done bool
}

func (t *memTx) check() error {
	if t.done {
		return errTxClosed
	}
	return nil
}

func (t *memTx) GetCompany(_ context.Context, id string) (*domain.Company, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	c, ok := t.s.companies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (t *memTx) GetPack(_ context.Context, id string) (*domain.Pack, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	p, ok := t.s.packs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (t *memTx) GetItem(_ context.Context, id string) (*domain.Item, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	it, ok := t.s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &it, nil
}

func (t *memTx) GetDeliveryLocation(_ context.Context, id string) (*domain.DeliveryLocation, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	loc, ok := t.s.locations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &loc, nil
}

func (t *memTx) GetIssuance(_ context.Context, id string) (*domain.IssuanceRecord, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	rec, ok := t.s.issuances[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (t *memTx) IssuancesOverlapping(_ context.Context, r serial.Range) ([]domain.IssuanceRecord, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	out := make([]domain.IssuanceRecord, 0, 2)
	for _, rec := range t.s.issuances {
		if rec.Range.Overlaps(r) {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b domain.IssuanceRecord) int { return cmp.Compare(a.From, b.From) })
	return out, nil
}

func (t *memTx) InsertIssuance(_ context.Context, rec domain.IssuanceRecord) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, exists := t.s.issuances[rec.ID]; exists {
		return store.ErrDuplicate
	}
	t.s.issuances[rec.ID] = rec
	return nil
}

func (t *memTx) UpdateIssuanceBalance(_ context.Context, id string, balance int64) error {
	if err := t.check(); err != nil {
		return err
	}
	rec, ok := t.s.issuances[id]
	if !ok {
		return store.ErrNotFound
	}
	if balance < 0 || balance > rec.IssuedQuantity {
		return store.ErrConflict
	}
	rec.BalanceQuantity = balance
	t.s.issuances[id] = rec
	return nil
}

func (t *memTx) GetUsage(_ context.Context, id string) (*domain.UsageRecord, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	rec, ok := t.s.usages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneUsage(rec)
	return &out, nil
}

func (t *memTx) UsagesOverlapping(_ context.Context, r serial.Range) ([]domain.UsageRecord, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	out := make([]domain.UsageRecord, 0, 2)
	for _, rec := range t.s.usages {
		if rec.Range.Overlaps(r) {
			out = append(out, cloneUsage(rec))
		}
	}
	slices.SortFunc(out, func(a, b domain.UsageRecord) int { return cmp.Compare(a.From, b.From) })
	return out, nil
}

func (t *memTx) InsertUsage(_ context.Context, rec domain.UsageRecord) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, exists := t.s.usages[rec.ID]; exists {
		return store.ErrDuplicate
	}
	t.s.usages[rec.ID] = cloneUsage(rec)
	return nil
}

func (t *memTx) UpdateUsageBalance(_ context.Context, id string, balanceInCases int64) error {
	if err := t.check(); err != nil {
		return err
	}
	rec, ok := t.s.usages[id]
	if !ok {
		return store.ErrNotFound
	}
	if balanceInCases < 0 || balanceInCases > rec.UsedQuantityInCases {
		return store.ErrConflict
	}
	rec.BalanceQuantityInCases = balanceInCases
	t.s.usages[id] = rec
	return nil
}

func (t *memTx) GetDispatch(_ context.Context, id string) (*domain.DispatchRecord, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	rec, ok := t.s.dispatches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneDispatch(rec)
	return &out, nil
}

func (t *memTx) LinksOverlapping(_ context.Context, r serial.Range) ([]domain.EALLink, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	out := make([]domain.EALLink, 0, 2)
	for _, rec := range t.s.dispatches {
		for _, it := range rec.Items {
			for _, l := range it.EALLinks {
				if l.Range.Overlaps(r) {
					out = append(out, l)
				}
			}
		}
	}
	return out, nil
}

func (t *memTx) InsertDispatch(_ context.Context, d domain.DispatchRecord) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, exists := t.s.dispatches[d.ID]; exists {
		return store.ErrDuplicate
	}
	t.s.dispatches[d.ID] = cloneDispatch(d)
	return nil
}

func (t *memTx) SaveDispatch(_ context.Context, d domain.DispatchRecord) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, exists := t.s.dispatches[d.ID]; !exists {
		return store.ErrNotFound
	}
	t.s.dispatches[d.ID] = cloneDispatch(d)
	return nil
}

func (t *memTx) DeleteDispatch(_ context.Context, id string) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, exists := t.s.dispatches[id]; !exists {
		return store.ErrNotFound
	}
	delete(t.s.dispatches, id)
	return nil
}

func (t *memTx) FindIdempotencyKey(_ context.Context, scope string, key string) (string, error) {
	if err := t.check(); err != nil {
		return "", err
	}
	id, ok := t.s.idempotency[scope+"\x00"+key]
	if !ok {
		return "", store.ErrNotFound
	}
	return id, nil
}

func (t *memTx) SaveIdempotencyKey(_ context.Context, scope string, key string, recordID string) error {
	if err := t.check(); err != nil {
		return err
	}
	k := scope + "\x00" + key
	if _, exists := t.s.idempotency[k]; exists {
		return store.ErrDuplicate
	}
	t.s.idempotency[k] = recordID
	return nil
}

func (t *memTx) InsertAuditLog(_ context.Context, entry domain.AuditLog) error {
	if err := t.check(); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	t.s.auditLogs = append(t.s.auditLogs, entry)
	return nil
}

func cloneUsage(src domain.UsageRecord) domain.UsageRecord {
	dst := src
	dst.Sources = slices.Clone(src.Sources)
	return dst
}

func cloneDispatch(src domain.DispatchRecord) domain.DispatchRecord {
	dst := src
	if src.VehicleDetails != nil {
		v := *src.VehicleDetails
		dst.VehicleDetails = &v
	}
	dst.Items = make([]domain.DispatchItem, len(src.Items))
	for i, it := range src.Items {
		it.EALLinks = slices.Clone(it.EALLinks)
		if it.EALLinks == nil {
			it.EALLinks = []domain.EALLink{}
		}
		dst.Items[i] = it
	}
	return dst
}

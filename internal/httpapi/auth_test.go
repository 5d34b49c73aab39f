package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ealtrack/internal/domain"
	"ealtrack/internal/store"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func seededStub() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	users := seededStub()
	ctx := context.Background()

	manager := NewAuthManager(ctx, "test-secret", time.Hour, users)
	if _, err := manager.Login(ctx, domain.LoginRequest{Username: "admin", Password: "admin123"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	stored, _ := users.ListUsers(ctx)
	if len(stored) != 1 {
		t.Fatalf("expected 1 user, got %d", len(stored))
	}
	if !strings.HasPrefix(stored[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", stored[0].Password)
	}
	if users.updates == 0 {
		t.Fatalf("expected the upgraded hash to be written back")
	}
}

func TestLoginRejectsWrongPasswordAndInactiveAccount(t *testing.T) {
	users := seededStub()
	users.users["retired"] = domain.UserAccount{Username: "retired", Password: "retired123", Role: domain.RoleOperator}
	ctx := context.Background()
	manager := NewAuthManager(ctx, "test-secret", time.Hour, users)

	if _, err := manager.Login(ctx, domain.LoginRequest{Username: "admin", Password: "nope"}); !errors.Is(err, errInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := manager.Login(ctx, domain.LoginRequest{Username: "retired", Password: "retired123"}); err == nil {
		t.Fatalf("expected inactive account to be refused")
	}
}

func TestTokenRoundTripCarriesRole(t *testing.T) {
	ctx := context.Background()
	manager := NewAuthManager(ctx, "test-secret", time.Hour, seededStub())

	resp, err := manager.Login(ctx, domain.LoginRequest{Username: "ADMIN ", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}

	other := NewAuthManager(ctx, "another-secret", time.Hour, seededStub())
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	ctx := context.Background()
	manager := NewAuthManager(ctx, "test-secret", time.Hour, seededStub())

	token, err := manager.sign("admin", domain.RoleAdmin, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestCreateUserStoresPasswordHash(t *testing.T) {
	users := seededStub()
	ctx := context.Background()
	manager := NewAuthManager(ctx, "test-secret", time.Hour, users)

	created, err := manager.CreateUser(ctx, domain.UserCreateRequest{Username: "Floor01", Password: "pass1234"})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if created.Username != "floor01" || created.Role != domain.RoleOperator {
		t.Fatalf("unexpected account %+v", created)
	}

	stored := users.users["floor01"]
	if stored.Password == "pass1234" || !strings.HasPrefix(stored.Password, "$2") {
		t.Fatalf("expected bcrypt hash in store, got %q", stored.Password)
	}
	if _, err := manager.Login(ctx, domain.LoginRequest{Username: "floor01", Password: "pass1234"}); err != nil {
		t.Fatalf("login as new user failed: %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	ctx := context.Background()
	manager := NewAuthManager(ctx, "test-secret", time.Hour, seededStub())

	cases := []struct {
		name string
		req  domain.UserCreateRequest
		want error
	}{
		{"short username", domain.UserCreateRequest{Username: "abc", Password: "pass1234"}, errInvalidUser},
		{"spaces", domain.UserCreateRequest{Username: "line one", Password: "pass1234"}, errInvalidUser},
		{"short password", domain.UserCreateRequest{Username: "floor02", Password: "short"}, errInvalidUser},
		{"unknown role", domain.UserCreateRequest{Username: "floor02", Password: "pass1234", Role: "auditor"}, errInvalidUser},
		{"existing", domain.UserCreateRequest{Username: "admin", Password: "pass1234"}, store.ErrDuplicate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := manager.CreateUser(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

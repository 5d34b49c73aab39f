package main

import (
	"context"
	"testing"
	"time"

	"ealtrack/internal/config"
	"ealtrack/internal/domain"
	"ealtrack/internal/httpapi"
	"ealtrack/internal/logging"
	"ealtrack/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	if err := validateSecurityConfig(config.Config{AuthSecret: "short"}); err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", SeedAdminPassword: "abc"})
	if err == nil {
		t.Fatalf("expected short seed password to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestBootstrapAdminOnlyWhenEmpty(t *testing.T) {
	ctx := context.Background()
	logger := logging.Discard()

	empty := memory.New()
	auth := httpapi.NewAuthManager(ctx, "test-secret", time.Hour, empty)
	if err := bootstrapAdmin(ctx, auth, "s3cure-pass", logger); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, err := auth.Login(ctx, domain.LoginRequest{Username: "admin", Password: "s3cure-pass"}); err != nil {
		t.Fatalf("expected seeded admin to log in: %v", err)
	}

	seeded := memory.NewSeeded()
	auth = httpapi.NewAuthManager(ctx, "test-secret", time.Hour, seeded)
	if err := bootstrapAdmin(ctx, auth, "s3cure-pass", logger); err != nil {
		t.Fatalf("bootstrap on populated store: %v", err)
	}
	if _, err := auth.Login(ctx, domain.LoginRequest{Username: "admin", Password: "s3cure-pass"}); err == nil {
		t.Fatalf("existing accounts must not be replaced")
	}
}

package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"disputeflow/errs"
)

func TestService_RegisterAndLogin(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "test-secret")

	req := RegisterRequest{
		Email:    "alice@example.com",
		Password: "supersafe",
		FullName: "Alice Freelancer",
	}

	ctx := context.Background()
	user, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}

	if user.Email != req.Email {
		t.Fatalf("expected email %q got %q", req.Email, user.Email)
	}
	if user.Role != RoleMember {
		t.Fatalf("register: expected default role %s got %s", RoleMember, user.Role)
	}

	resp, err := svc.Login(ctx, LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.User.ID != user.ID {
		t.Fatalf("login: expected user id %q got %q", user.ID, resp.User.ID)
	}

	caller, err := svc.Authenticate(resp.Token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if caller.ID != user.ID || caller.Role != string(RoleMember) {
		t.Fatalf("authenticate: got %+v", caller)
	}
	if caller != user.Caller() {
		t.Fatalf("authenticate: caller %+v differs from user %+v", caller, user.Caller())
	}
}

func TestService_RegisterValidation(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "alice@example.com",
		Password: "short",
		FullName: "Alice Freelancer",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "  ",
		Password: "strongpassword",
		FullName: "",
	}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for missing fields, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "bob@example.com",
		Password: "strongpassword",
		FullName: "Bob",
		Role:     "judge",
	}); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestService_DuplicateEmail(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "test-secret")

	req := RegisterRequest{
		Email:    "alice@example.com",
		Password: "strongpassword",
		FullName: "Alice Freelancer",
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	req.Email = " ALICE@Example.com"
	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "test-secret")

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    "unknown@example.com",
		Password: "irrelevant",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expected unauthorized kind, got %v", err)
	}
}

func TestService_TokenExpires(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(NewMemoryRepository(), "test-secret",
		WithTokenTTL(time.Hour), WithNow(func() time.Time { return now }))

	ctx := context.Background()
	if _, err := svc.Register(ctx, RegisterRequest{
		Email: "oracle@example.com", Password: "strongpassword", FullName: "Ruling Oracle", Role: RoleOracle,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	resp, err := svc.Login(ctx, LoginRequest{Email: "oracle@example.com", Password: "strongpassword"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, role, err := svc.VerifyToken(resp.Token); err != nil || role != RoleOracle {
		t.Fatalf("verify fresh token: role %s err %v", role, err)
	}

	now = now.Add(2 * time.Hour)
	if _, _, err := svc.VerifyToken(resp.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}

	other := NewService(NewMemoryRepository(), "another-secret")
	if _, err := other.Authenticate(resp.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected foreign token to fail, got %v", err)
	}
}

func TestNormalizeEmail(t *testing.T) {
	cases := map[string]string{
		"Alice@Example.COM":   "alice@example.com",
		"  bob@example.com  ": "bob@example.com",
		"ｃａｒｏｌ@example.com":   "carol@example.com",
	}
	for in, want := range cases {
		if got := NormalizeEmail(in); got != want {
			t.Fatalf("NormalizeEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

package httpapi

import (
	"strings"
	"testing"
	"time"

	"sewainaja/backend/internal/domain"
	"sewainaja/backend/internal/store/memory"
)

func TestTokenRoundTrip(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, nil)

	token, err := auth.sign("dina", "operator", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	actor, err := auth.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actor.Username != "dina" || actor.Role != "operator" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, nil)

	token, err := auth.sign("dina", "operator", time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseToken(token); err == nil {
		t.Fatalf("expired token must be rejected")
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, nil)
	other := NewAuthManager("different-secret", time.Hour, nil)

	token, err := other.sign("dina", "operator", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseToken(token); err == nil {
		t.Fatalf("token signed with another secret must be rejected")
	}
}

func TestLoginAgainstSeededStore(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, memory.NewSeeded())

	resp, err := auth.Login(domain.LoginRequest{Username: "Operator", Password: "operator123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != "operator" || resp.AccessToken == "" {
		t.Fatalf("unexpected login response: %+v", resp)
	}

	if _, err := auth.Login(domain.LoginRequest{Username: "operator", Password: "nope"}); err == nil {
		t.Fatalf("wrong password must fail")
	}
}

func TestCreateStaffValidation(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, memory.New())

	cases := []StaffCreateRequest{
		{Username: "ab", Password: "secret123"},
		{Username: "with space", Password: "secret123"},
		{Username: "validname", Password: "short"},
		{Username: "validname", Password: "secret123", Role: "superuser"},
	}
	for _, req := range cases {
		if _, err := auth.CreateStaff(req); err == nil {
			t.Fatalf("expected rejection for %+v", req)
		}
	}

	user, err := auth.CreateStaff(StaffCreateRequest{Username: "Wayan", Password: "secret123"})
	if err != nil {
		t.Fatalf("create staff: %v", err)
	}
	if user.Username != "wayan" || user.Role != "staff" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if !strings.HasPrefix(mustFindCredential(t, auth, "wayan").password, "$2") {
		t.Fatalf("stored password must be a bcrypt hash")
	}

	if _, err := auth.CreateStaff(StaffCreateRequest{Username: "wayan", Password: "secret123"}); err == nil {
		t.Fatalf("duplicate username must fail")
	}
}

func mustFindCredential(t *testing.T, auth *AuthManager, username string) credential {
	t.Helper()
	auth.mu.RLock()
	defer auth.mu.RUnlock()
	cred, ok := auth.users[username]
	if !ok {
		t.Fatalf("credential %q not cached", username)
	}
	return cred
}

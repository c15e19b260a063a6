package auth

import (
	"testing"
	"time"

	"github.com/example/food-dispatch/internal/models"
)

func TestTokenRoundTrip(t *testing.T) {
	g := NewGate("test-secret")
	tok, err := g.IssueToken("v1", models.RoleVolunteer, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	actorID, role, err := g.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if actorID != "v1" || role != models.RoleVolunteer {
		t.Fatalf("unexpected identity: %s %s", actorID, role)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	tok, err := NewGate("secret-a").IssueToken("v1", models.RoleVolunteer, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := NewGate("secret-b").Verify(tok); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	g := NewGate("test-secret")
	tok, err := g.IssueToken("v1", models.RoleVolunteer, -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := g.Verify(tok); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsUnknownRole(t *testing.T) {
	g := NewGate("test-secret")
	tok, err := g.IssueToken("v1", models.Role("superuser"), time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := g.Verify(tok); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestFromHeader(t *testing.T) {
	if tok, err := FromHeader("Bearer abc"); err != nil || tok != "abc" {
		t.Fatalf("expected abc, got %q err=%v", tok, err)
	}
	if _, err := FromHeader(""); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for empty header, got %v", err)
	}
	if _, err := FromHeader("abc"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for bare token, got %v", err)
	}
}

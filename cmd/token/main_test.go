package main

import (
	"testing"
	"time"

	"repairpos/backend/internal/httpapi"
)

func TestIssuedTokenIsAcceptedByServerAuth(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"

	issued, err := issue(secret, time.Hour, "alice", "admin")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	actor, err := httpapi.NewAuthManager(secret, time.Hour, "482913").ParseToken(issued.AccessToken)
	if err != nil {
		t.Fatalf("server rejected token: %v", err)
	}
	if actor.Username != "alice" || actor.Role != "admin" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestIssueRejectsMissingUser(t *testing.T) {
	if _, err := issue("0123456789abcdef0123456789abcdef", time.Hour, "", "admin"); err == nil {
		t.Fatalf("expected missing user to be rejected")
	}
}

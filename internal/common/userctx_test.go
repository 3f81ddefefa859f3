package common

import (
	"context"
	"testing"
)

func TestUserContext_RoundTrip(t *testing.T) {
	ctx := context.Background()

	// Absent by default
	if uc := UserContextFromContext(ctx); uc != nil {
		t.Error("Expected nil UserContext from empty context")
	}

	// Store and retrieve
	uc := &UserContext{
		UserID: "user-123",
		Email:  "owner@example.com",
		Role:   "user",
	}
	ctx = WithUserContext(ctx, uc)

	got := UserContextFromContext(ctx)
	if got == nil {
		t.Fatal("Expected non-nil UserContext")
	}
	if got.UserID != "user-123" {
		t.Errorf("Expected user-123, got %s", got.UserID)
	}
	if got.Email != "owner@example.com" {
		t.Errorf("Expected owner@example.com, got %s", got.Email)
	}
	if got.DeviceScope {
		t.Error("Expected DeviceScope false for primary credential")
	}
}

func TestUserContext_DeviceScope(t *testing.T) {
	ctx := WithUserContext(context.Background(), &UserContext{
		UserID:      "user-456",
		DeviceScope: true,
		GrantID:     "grant-abc",
	})

	got := UserContextFromContext(ctx)
	if got == nil {
		t.Fatal("Expected non-nil UserContext")
	}
	if !got.DeviceScope {
		t.Error("Expected DeviceScope true")
	}
	if got.GrantID != "grant-abc" {
		t.Errorf("Expected grant-abc, got %s", got.GrantID)
	}
}

func TestResolveUserID(t *testing.T) {
	ctx := context.Background()

	if id := ResolveUserID(ctx); id != "" {
		t.Errorf("Expected empty user ID for empty context, got %q", id)
	}

	ctx = WithUserContext(ctx, &UserContext{UserID: "user-789"})
	if id := ResolveUserID(ctx); id != "user-789" {
		t.Errorf("Expected user-789, got %q", id)
	}
}

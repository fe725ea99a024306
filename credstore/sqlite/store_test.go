package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/davrell/authgate"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndGetUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateUser(ctx, authgate.NewUser{
		Email:        "alice@example.com",
		Name:         "Alice",
		PasswordHash: "$argon2id$fake",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a generated id")
	}
	if created.EmailVerified {
		t.Fatal("new accounts must start unverified")
	}

	byEmail, err := store.GetUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if byEmail.ID != created.ID || byEmail.PasswordHash != "$argon2id$fake" {
		t.Fatalf("unexpected user %+v", byEmail)
	}

	byID, err := store.GetUserByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if byID.Email != "alice@example.com" {
		t.Fatalf("unexpected email %q", byID.Email)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, authgate.NewUser{Email: "dup@example.com", PasswordHash: "h"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := store.CreateUser(ctx, authgate.NewUser{Email: "dup@example.com", PasswordHash: "h"})
	if !errors.Is(err, authgate.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestGetUnknownUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetUserByEmail(ctx, "ghost@example.com"); !errors.Is(err, authgate.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := store.GetUserByID(ctx, "nope"); !errors.Is(err, authgate.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestMarkEmailVerified(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateUser(ctx, authgate.NewUser{Email: "bob@example.com", PasswordHash: "h"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	verified, err := store.MarkEmailVerified(ctx, created.ID)
	if err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	if !verified.EmailVerified {
		t.Fatal("flag not set")
	}

	// monotonic: marking again keeps it set
	again, err := store.MarkEmailVerified(ctx, created.ID)
	if err != nil {
		t.Fatalf("repeat mark: %v", err)
	}
	if !again.EmailVerified {
		t.Fatal("flag must stay set")
	}

	if _, err := store.MarkEmailVerified(ctx, "missing"); !errors.Is(err, authgate.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestContextCancellation(t *testing.T) {
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.GetUserByEmail(ctx, "a@example.com"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestConflictTranslatesUniqueViolations(t *testing.T) {
	err := conflict("user", &pq.Error{Code: "23505", Constraint: "usr_name_key"})

	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %T", err)
	}
	if ce.Entity != "user" || ce.Constraint != "usr_name_key" {
		t.Fatalf("unexpected conflict %+v", ce)
	}
	if !errors.Is(fmt.Errorf("wrapped: %w", err), ErrConflict) {
		t.Fatalf("expected wrapped conflict to match ErrConflict")
	}
}

func TestConflictKeepsOtherErrors(t *testing.T) {
	fk := &pq.Error{Code: "23503", Constraint: "usr_user_tag_id_fkey"}
	if got := conflict("user", fk); got != error(fk) {
		t.Fatalf("expected foreign key error unchanged, got %v", got)
	}
	plain := errors.New("connection reset")
	if got := conflict("user", plain); got != plain {
		t.Fatalf("expected plain error unchanged, got %v", got)
	}
	if conflict("user", nil) != nil {
		t.Fatalf("expected nil to stay nil")
	}
}

func TestNotFoundMatchesSentinel(t *testing.T) {
	err := notFound("user_tag", 42)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound")
	}
	if err.Error() != "user_tag 42 not found" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

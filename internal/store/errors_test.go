package store

import (
	"errors"
	"testing"
)

func TestValidationErrorUnwrapsToInvalidInput(t *testing.T) {
	err := Invalid("product_id", "is required")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "product_id" {
		t.Fatalf("expected field product_id, got %v", err)
	}
	if err.Error() != "invalid input: product_id is required" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestTxErrorKeepsCause(t *testing.T) {
	err := &TxError{Op: "set_primary_supplier", Err: ErrNotFound}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected wrapped ErrNotFound")
	}
}

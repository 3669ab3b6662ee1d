package service

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIs(t *testing.T) {
	err := newError(ErrSlotOccupied, "slot %s already has a spool mounted", "S1")
	wrapped := fmt.Errorf("mount: %w", err)

	if !errors.Is(wrapped, ErrSlotOccupied) {
		t.Fatal("expected reason match")
	}
	if !errors.Is(wrapped, ErrConflict) {
		t.Fatal("expected kind match")
	}
	if errors.Is(wrapped, ErrMachineBusy) {
		t.Fatal("different reason must not match")
	}
	if errors.Is(wrapped, ErrNotFound) {
		t.Fatal("different kind must not match")
	}
	if err.Error() != "slot S1 already has a spool mounted" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if ErrMachineBusy.Error() != "RESOURCE_CONFLICT: MACHINE_BUSY" {
		t.Fatalf("unexpected sentinel text %q", ErrMachineBusy.Error())
	}
}

func TestSpoolRefJSON(t *testing.T) {
	data, err := SpoolByLabel(" BOB-1 ").MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var ref SpoolRef
	if err := ref.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if ref.String() != "label:BOB-1" {
		t.Fatalf("unexpected ref %s", ref)
	}
	if err := ref.UnmarshalJSON([]byte(`{"by":"barcode","value":"x"}`)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !(SpoolRef{}).IsZero() {
		t.Fatal("zero ref should report IsZero")
	}
}

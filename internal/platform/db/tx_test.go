package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil tx, got %v", tx)
	}
}

func TestAfterCommit_RunsImmediatelyOutsideTx(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func(context.Context) { ran = true })
	if !ran {
		t.Error("expected hook to run without a transaction")
	}
}

func TestAfterCommit_DeferredUntilCommit(t *testing.T) {
	ctx, hooks := withAfterCommit(context.Background())

	var order []string
	AfterCommit(ctx, func(context.Context) { order = append(order, "first") })
	AfterCommit(ctx, func(context.Context) { order = append(order, "second") })
	if len(order) != 0 {
		t.Fatalf("expected hooks to wait for commit, got %v", order)
	}

	hooks.run(context.Background())
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("expected hooks in registration order, got %v", order)
	}

	hooks.run(context.Background())
	if len(order) != 2 {
		t.Errorf("expected hooks to run once, got %v", order)
	}
}

func TestAdvisoryXactLock_RequiresTx(t *testing.T) {
	err := AdvisoryXactLock(context.Background(), "appointment:patient:1")
	if !errors.Is(err, ErrNoTx) {
		t.Errorf("expected ErrNoTx, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "appointment_active_patient_doctor_key"}
	wrapped := fmt.Errorf("insert appointment: %w", pgErr)

	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{"any constraint", wrapped, "", true},
		{"matching constraint", wrapped, "appointment_active_patient_doctor_key", true},
		{"other constraint", wrapped, "appointment_active_patient_slot_key", false},
		{"other code", &pgconn.PgError{Code: "23503"}, "", false},
		{"plain error", errors.New("boom"), "", false},
		{"nil", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err, tt.constraint); got != tt.want {
				t.Errorf("IsUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

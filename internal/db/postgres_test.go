package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

type fakeBeginner struct {
	tx       *fakeTx
	err      error
	deadline bool
}

func (b *fakeBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	_, b.deadline = ctx.Deadline()
	if b.err != nil {
		return nil, b.err
	}
	return b.tx, nil
}

func TestRunInTxCommits(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	if err := RunInTx(context.Background(), b, func(ctx context.Context, tx pgx.Tx) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.tx.committed || b.tx.rolledBack {
		t.Fatalf("expected commit only, got %+v", b.tx)
	}
	if !b.deadline {
		t.Fatalf("expected a default deadline to be applied")
	}
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	boom := errors.New("boom")
	err := RunInTx(context.Background(), b, func(ctx context.Context, tx pgx.Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if b.tx.committed || !b.tx.rolledBack {
		t.Fatalf("expected rollback only, got %+v", b.tx)
	}
}

func TestRunInTxRollsBackOnPanic(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic to propagate")
		}
		if !b.tx.rolledBack {
			t.Fatalf("expected rollback on panic")
		}
	}()
	_ = RunInTx(context.Background(), b, func(ctx context.Context, tx pgx.Tx) error { panic("boom") })
}

func TestRunInTxBeginFailure(t *testing.T) {
	b := &fakeBeginner{err: errors.New("no connection")}
	if err := RunInTx(context.Background(), b, func(ctx context.Context, tx pgx.Tx) error { return nil }); err == nil {
		t.Fatalf("expected begin error")
	}
}

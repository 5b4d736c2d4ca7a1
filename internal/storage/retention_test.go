package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type pruneRecorder struct {
	memAlertStore
	cutoffs []time.Time
	err     error
	onPrune func()
}

func (p *pruneRecorder) DeleteAlertsBefore(_ context.Context, cutoff time.Time) error {
	p.cutoffs = append(p.cutoffs, cutoff)
	if p.onPrune != nil {
		p.onPrune()
	}
	return p.err
}

func TestPruneDeletesOlderThanRetention(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &pruneRecorder{onPrune: cancel}
	start := time.Now()
	if err := Prune(ctx, rec, 24*time.Hour, time.Hour, zerolog.Nop()); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(rec.cutoffs) != 1 {
		t.Fatalf("expected one prune pass, got %d", len(rec.cutoffs))
	}
	age := start.Sub(rec.cutoffs[0])
	if age < 23*time.Hour || age > 25*time.Hour {
		t.Fatalf("cutoff %s not about 24h before start", rec.cutoffs[0])
	}
}

func TestPruneFailureKeepsRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &pruneRecorder{err: errors.New("db down"), onPrune: cancel}
	if err := Prune(ctx, rec, time.Hour, time.Hour, zerolog.Nop()); err != nil {
		t.Fatalf("a failed pass should not stop pruning: %v", err)
	}
}

func TestPruneRejectsBadArguments(t *testing.T) {
	if err := Prune(context.Background(), nil, time.Hour, time.Hour, zerolog.Nop()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if err := Prune(context.Background(), &memAlertStore{}, 0, time.Hour, zerolog.Nop()); err == nil {
		t.Fatal("expected error for zero retention")
	}
}

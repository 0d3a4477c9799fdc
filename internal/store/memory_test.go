package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/weaponforge/economy-engine/internal/model"
)

func TestMemoryLive_MatchExpiresOnAccess(t *testing.T) {
	live := NewMemoryLive()
	ctx := context.Background()

	m := &model.BattleMatch{ID: "m1", ChallengerID: "u1", OpponentID: "u2"}
	if err := live.PutMatch(ctx, m, -time.Second); err != nil {
		t.Fatalf("PutMatch failed: %v", err)
	}

	if _, err := live.TakeMatch(ctx, "m1", "u1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound for expired match", err)
	}
	// The expired entry was evicted, not just rejected.
	if _, err := live.TakeMatch(ctx, "m1", "u1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after eviction", err)
	}
}

func TestMemoryLive_TakeMatchIsOwnerBound(t *testing.T) {
	live := NewMemoryLive()
	ctx := context.Background()

	m := &model.BattleMatch{ID: "m1", ChallengerID: "u1", OpponentID: "u2"}
	if err := live.PutMatch(ctx, m, time.Minute); err != nil {
		t.Fatalf("PutMatch failed: %v", err)
	}

	if _, err := live.TakeMatch(ctx, "m1", "u2"); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict for non-owner", err)
	}
	got, err := live.TakeMatch(ctx, "m1", "u1")
	if err != nil {
		t.Fatalf("owner take failed: %v", err)
	}
	if got.OpponentID != "u2" {
		t.Errorf("match = %+v, want opponent u2", got)
	}
}

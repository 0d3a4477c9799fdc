package prayer

import (
	"context"
	"sync"
	"testing"

	"github.com/weaponforge/economy-engine/internal/balance"
	"github.com/weaponforge/economy-engine/internal/model"
	"github.com/weaponforge/economy-engine/internal/store"
)

func newTestEnv(t *testing.T) (*Service, *store.MemoryLive) {
	t.Helper()
	live := store.NewMemoryLive()
	svc := NewService(store.NewMemoryStore(), live, nil)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return svc, live
}

func TestPray_GenerationBands(t *testing.T) {
	tests := []struct {
		roll float64
		want model.EffectKind
	}{
		{0.00, model.EffectPositive},
		{0.29, model.EffectPositive},
		{0.30, model.EffectNegative},
		{0.59, model.EffectNegative},
		{0.60, model.EffectNeutral},
		{0.99, model.EffectNeutral},
	}
	for _, tt := range tests {
		svc, _ := newTestEnv(t)
		svc.roll = func() float64 { return tt.roll }
		if got := svc.generateKind(); got != tt.want {
			t.Errorf("roll %.2f: kind = %s, want %s", tt.roll, got, tt.want)
		}
	}
}

func TestPray_FillsPool(t *testing.T) {
	svc, _ := newTestEnv(t)
	svc.roll = func() float64 { return 0.0 } // always positive

	for i := 1; i <= 3; i++ {
		res, err := svc.Pray(context.Background(), "u1")
		if err != nil {
			t.Fatalf("Pray failed: %v", err)
		}
		if res.PoolSize != i {
			t.Errorf("pool size after %d prayers = %d", i, res.PoolSize)
		}
	}

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Positive != 3 || stats.Negative != 0 || stats.Neutral != 0 {
		t.Errorf("stats = %+v, want 3 positive only", stats)
	}
}

func TestPray_CapDropsSilently(t *testing.T) {
	svc, _ := newTestEnv(t)
	svc.roll = func() float64 { return 0.0 } // always positive

	for i := 0; i < balance.MaxPositiveBuffs+10; i++ {
		if _, err := svc.Pray(context.Background(), "u1"); err != nil {
			t.Fatalf("Pray %d failed: %v", i, err)
		}
	}

	stats, _ := svc.Stats(context.Background())
	if stats.Positive != balance.MaxPositiveBuffs {
		t.Errorf("positive bucket = %d, want capped at %d", stats.Positive, balance.MaxPositiveBuffs)
	}
}

func TestDraw_EmptyPoolReturnsNone(t *testing.T) {
	svc, _ := newTestEnv(t)

	kind, err := svc.Draw(context.Background())
	if err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	if kind != model.EffectNone {
		t.Errorf("kind = %s, want none on empty pool", kind)
	}
}

func TestDraw_ProportionalAndDecrements(t *testing.T) {
	svc, live := newTestEnv(t)
	ctx := context.Background()

	// 2 positive, 1 negative, 1 neutral.
	for _, k := range []model.EffectKind{
		model.EffectPositive, model.EffectPositive,
		model.EffectNegative, model.EffectNeutral,
	} {
		if _, err := live.ContributeEffect(ctx, k); err != nil {
			t.Fatalf("seed contribute: %v", err)
		}
	}

	// Unit 0 and 1 are positive, 2 negative, 3 neutral.
	live.Roll = func() float64 { return 0.5 } // unit 2 of 4
	kind, err := svc.Draw(ctx)
	if err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	if kind != model.EffectNegative {
		t.Errorf("kind = %s, want negative for unit 2", kind)
	}

	stats, _ := svc.Stats(ctx)
	if stats.Negative != 0 || stats.Total != 3 {
		t.Errorf("stats after draw = %+v, want negative consumed", stats)
	}
}

func TestPool_ConcurrentPrayAndDraw(t *testing.T) {
	svc, _ := newTestEnv(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := svc.Pray(ctx, "u1"); err != nil {
					t.Errorf("Pray: %v", err)
					return
				}
				if _, err := svc.Draw(ctx); err != nil {
					t.Errorf("Draw: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Positive < 0 || stats.Negative < 0 || stats.Neutral < 0 {
		t.Errorf("negative bucket after concurrent use: %+v", stats)
	}
	if stats.Positive > balance.MaxPositiveBuffs ||
		stats.Negative > balance.MaxNegativeBuffs ||
		stats.Neutral > balance.MaxNeutrals {
		t.Errorf("bucket over cap after concurrent use: %+v", stats)
	}
}

package enhance

import (
	"testing"

	"github.com/weaponforge/economy-engine/internal/balance"
	"github.com/weaponforge/economy-engine/internal/model"
)

var allEffects = []model.EffectKind{
	model.EffectPositive,
	model.EffectNegative,
	model.EffectNeutral,
	model.EffectNone,
}

func TestComputeRates_AlwaysSumToHundred(t *testing.T) {
	for level := -1; level <= balance.MaxEnhancementLevel+1; level++ {
		for _, effect := range allEffects {
			r := ComputeRates(level, effect)
			if r.Success+r.Maintain+r.Destruction != 100 {
				t.Errorf("level %d effect %s: (%d,%d,%d) sums to %d",
					level, effect, r.Success, r.Maintain, r.Destruction,
					r.Success+r.Maintain+r.Destruction)
			}
			if r.Success < 0 || r.Maintain < 0 || r.Destruction < 0 {
				t.Errorf("level %d effect %s: negative band (%d,%d,%d)",
					level, effect, r.Success, r.Maintain, r.Destruction)
			}
			if r.Success < balance.MinSuccessRate || r.Success > balance.MaxSuccessRate {
				t.Errorf("level %d effect %s: success %d outside [%d,%d]",
					level, effect, r.Success, balance.MinSuccessRate, balance.MaxSuccessRate)
			}
			if r.Destruction < balance.MinDestructionRate || r.Destruction > balance.MaxDestructionRate {
				t.Errorf("level %d effect %s: destruction %d outside [%d,%d]",
					level, effect, r.Destruction, balance.MinDestructionRate, balance.MaxDestructionRate)
			}
		}
	}
}

func TestComputeRates_Modifiers(t *testing.T) {
	tests := []struct {
		name   string
		level  int
		effect model.EffectKind
		want   model.Rates
	}{
		{"level 0 unmodified", 0, model.EffectNone, model.Rates{Success: 70, Maintain: 28, Destruction: 2}},
		{"level 0 neutral is unmodified", 0, model.EffectNeutral, model.Rates{Success: 70, Maintain: 28, Destruction: 2}},
		{"level 0 positive shifts success", 0, model.EffectPositive, model.Rates{Success: 75, Maintain: 23, Destruction: 2}},
		{"level 0 negative shifts destruction", 0, model.EffectNegative, model.Rates{Success: 70, Maintain: 25, Destruction: 5}},
		{"level 10 positive", 10, model.EffectPositive, model.Rates{Success: 25, Maintain: 35, Destruction: 40}},
		{"level 20 clamps both bands", 20, model.EffectNone, model.Rates{Success: 5, Maintain: 30, Destruction: 65}},
		{"fallback level unmodified", 42, model.EffectNone, model.Rates{Success: 10, Maintain: 30, Destruction: 60}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeRates(tt.level, tt.effect); got != tt.want {
				t.Errorf("ComputeRates(%d, %s) = %+v, want %+v", tt.level, tt.effect, got, tt.want)
			}
		})
	}
}

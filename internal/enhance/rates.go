package enhance

import (
	"github.com/weaponforge/economy-engine/internal/balance"
	"github.com/weaponforge/economy-engine/internal/model"
)

// ComputeRates produces the final (success, maintain, destruction) bands
// for one attempt: base rates for the weapon's level, the pool effect
// applied, clamps enforced, and maintain recomputed so the triple always
// sums to exactly 100 with no negative band.
func ComputeRates(level int, effect model.EffectKind) model.Rates {
	success, _, destruction := balance.BaseRates(level)

	switch effect {
	case model.EffectPositive:
		success += balance.PositiveSuccessBonus
	case model.EffectNegative:
		destruction += balance.NegativeDestructionBonus
	}
	// neutral and none leave rates unchanged

	success = clamp(success, balance.MinSuccessRate, balance.MaxSuccessRate)
	destruction = clamp(destruction, balance.MinDestructionRate, balance.MaxDestructionRate)

	maintain := 100 - success - destruction
	if maintain < 0 {
		// Absorb the overflow out of destruction, but never below its
		// floor; with success capped at 75 and destruction floored at 1
		// the second recompute cannot go negative.
		destruction = clamp(destruction+maintain, balance.MinDestructionRate, balance.MaxDestructionRate)
		maintain = 100 - success - destruction
	}

	return model.Rates{Success: success, Maintain: maintain, Destruction: destruction}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

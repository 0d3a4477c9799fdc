// Package balance holds the game balance tables and the pure rate math for
// enhancement, prayer, and battle. Everything here is deterministic; random
// draws happen in the calling services.
package balance

// Weapon limits.
const (
	MaxEnhancementLevel = 20
)

// Prayer pool configuration.
const (
	// Generation rates for a single prayer, in percentage points.
	PrayPositiveRate = 30
	PrayNegativeRate = 30
	PrayNeutralRate  = 40

	// Pool caps per bucket. Contributions beyond a cap are dropped.
	MaxPositiveBuffs = 50
	MaxNegativeBuffs = 50
	MaxNeutrals      = 100

	// Rate deltas applied when an effect is consumed by an enhancement.
	PositiveSuccessBonus     = 5 // +5%p success
	NegativeDestructionBonus = 3 // +3%p destruction
)

// Enhancement rate clamps, in percentage points.
const (
	MinSuccessRate     = 5
	MaxSuccessRate     = 75
	MinDestructionRate = 1
	MaxDestructionRate = 65
)

// Enhancement cost curve. Gold through level goldUntilLevel-1, stones after.
const (
	goldUntilLevel   = 10
	baseGoldCost     = 100
	goldCostPerLevel = 50
	baseStoneCost    = 1
	stoneCostPerLvl  = 1
)

// Battle configuration.
const (
	BattleEntryFee     = 100
	MatchingLevelRange = 3 // opponents within ±3 levels

	winRateBase         = 50
	winRatePerLevelDiff = 8
	MinWinRate          = 5
	MaxWinRate          = 95

	WinGold           = 500
	WinPoints         = 10
	StreakBonusPoints = 2   // per win in the current streak
	LoserGoldPercent  = 10  // consolation, percent of winner's gold
)

// ratesByLevel maps current enhancement level to (success, maintain,
// destruction). Success strictly decreases and destruction strictly
// increases with level; every row sums to 100.
var ratesByLevel = [MaxEnhancementLevel + 1][3]int{
	0:  {70, 28, 2},
	1:  {65, 32, 3},
	2:  {60, 35, 5},
	3:  {55, 37, 8},
	4:  {50, 38, 12},
	5:  {45, 40, 15},
	6:  {40, 42, 18},
	7:  {35, 43, 22},
	8:  {30, 43, 27},
	9:  {25, 42, 33},
	10: {20, 40, 40},
	11: {18, 37, 45},
	12: {15, 35, 50},
	13: {12, 33, 55},
	14: {10, 30, 60},
	15: {9, 29, 62},
	16: {8, 27, 65},
	17: {6, 24, 70},
	18: {4, 21, 75},
	19: {2, 18, 80},
	20: {1, 14, 85},
}

// streakGoldBonus maps a winner's new streak length to extra gold. Only the
// exact milestone pays; streak 4 earns no milestone bonus.
var streakGoldBonus = map[int]int64{
	3:  200,
	5:  500,
	10: 1500,
	20: 5000,
}

// BaseRates returns the (success, maintain, destruction) triple for the
// given enhancement level. Levels outside the table fall back to (10,30,60).
func BaseRates(level int) (success, maintain, destruction int) {
	if level < 0 || level > MaxEnhancementLevel {
		return 10, 30, 60
	}
	r := ratesByLevel[level]
	return r[0], r[1], r[2]
}

// EnhancementCost returns the gold and stone cost of attempting an
// enhancement from the given level. Low levels cost gold, high levels
// cost stones; never both.
func EnhancementCost(level int) (gold, stones int64) {
	if level < goldUntilLevel {
		return int64(baseGoldCost + level*goldCostPerLevel), 0
	}
	return 0, int64(baseStoneCost + (level-goldUntilLevel)*stoneCostPerLvl)
}

// WinRate computes the challenger's win percentage against an opponent,
// clamped into [MinWinRate, MaxWinRate] so no matchup is ever certain.
func WinRate(myLevel, opponentLevel int) int {
	rate := winRateBase + winRatePerLevelDiff*(myLevel-opponentLevel)
	if rate < MinWinRate {
		return MinWinRate
	}
	if rate > MaxWinRate {
		return MaxWinRate
	}
	return rate
}

// OpponentWeight returns the matchmaking roulette weight for a candidate
// at the given absolute level difference. Closer levels weigh more, but
// every candidate inside the matching range stays reachable.
func OpponentWeight(levelDiff int) int {
	if levelDiff < 0 {
		levelDiff = -levelDiff
	}
	w := 4 - levelDiff
	if w < 1 {
		return 1
	}
	return w
}

// WinnerRewards returns the gold and points awarded to a battle winner at
// the given new streak length, including milestone gold bonuses and the
// per-streak point bonus.
func WinnerRewards(streak int) (gold int64, points int) {
	gold = WinGold
	if bonus, ok := streakGoldBonus[streak]; ok {
		gold += bonus
	}
	points = WinPoints + streak*StreakBonusPoints
	return gold, points
}

// LoserConsolation returns the loser's consolation gold: a fixed fraction
// of the winner's base gold. Milestone bonuses do not raise it.
func LoserConsolation(winnerGold int64) int64 {
	return winnerGold * LoserGoldPercent / 100
}

// Package model defines the core domain types shared across the economy
// engine. All currency amounts are integral gold/stone counters and all
// probabilities are integer percentage points.
package model

import "time"

// EffectKind is a prayer effect drawn from the global pool.
type EffectKind string

const (
	EffectPositive EffectKind = "positive" // boosts enhancement success rate
	EffectNegative EffectKind = "negative" // raises enhancement destruction rate
	EffectNeutral  EffectKind = "neutral"  // no rate change
	EffectNone     EffectKind = "none"     // pool was empty; no modifier applied
)

// Rarity is a weapon template rarity tier.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// User holds the currency balances this engine debits and credits.
// Account identity and session handling live outside the engine.
type User struct {
	ID       string `json:"id" db:"id"`
	Username string `json:"username" db:"username"`
	Gold     int64  `json:"gold" db:"gold"`
	Stones   int64  `json:"stones" db:"stones"` // enhancement stones
}

// WeaponTemplate is immutable reference data for a weapon type.
type WeaponTemplate struct {
	ID             int64  `json:"id" db:"id"`
	Name           string `json:"name" db:"name"`
	Rarity         Rarity `json:"rarity" db:"rarity"`
	BaseAttack     int    `json:"base_attack" db:"base_attack"`
	DoubleJump     bool   `json:"double_jump" db:"double_jump"`           // eligible for a +2 level jump on success
	DoubleJumpRate int    `json:"double_jump_rate" db:"double_jump_rate"` // percent chance, rolled independently
}

// Weapon is a player-owned weapon instance. Once Destroyed is set the
// instance is excluded from enhancement, equipping, and battle entry.
type Weapon struct {
	ID          string     `json:"id" db:"id"`
	UserID      string     `json:"user_id" db:"user_id"`
	TemplateID  int64      `json:"template_id" db:"template_id"`
	Level       int        `json:"level" db:"level"` // enhancement level, 0..20
	Equipped    bool       `json:"equipped" db:"equipped"`
	Destroyed   bool       `json:"destroyed" db:"destroyed"`
	DestroyedAt *time.Time `json:"destroyed_at,omitempty" db:"destroyed_at"`
}

// PoolStats is a snapshot of the global prayer pool counters.
type PoolStats struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
	Total    int `json:"total"`
}

// PrayerRecord is an append-only record of one prayer contribution.
type PrayerRecord struct {
	ID        string     `json:"id" db:"id"`
	UserID    string     `json:"user_id" db:"user_id"`
	Kind      EffectKind `json:"kind" db:"kind"`
	Consumed  bool       `json:"consumed" db:"consumed"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// EnhanceResult is the outcome tag of one enhancement attempt.
type EnhanceResult string

const (
	EnhanceSuccess   EnhanceResult = "success"
	EnhanceMaintain  EnhanceResult = "maintain"
	EnhanceDestroyed EnhanceResult = "destroyed"
)

// Rates are the percentage bands one enhancement attempt is rolled against.
// Invariant: Success + Maintain + Destruction == 100, each >= 0.
type Rates struct {
	Success     int `json:"success"`
	Maintain    int `json:"maintain"`
	Destruction int `json:"destruction"`
}

// EnhancementRecord is an append-only record of one enhancement attempt.
// Written once per attempt, never mutated. ToLevel is nil when the weapon
// was destroyed.
type EnhancementRecord struct {
	ID        string        `json:"id" db:"id"`
	WeaponID  string        `json:"weapon_id" db:"weapon_id"`
	UserID    string        `json:"user_id" db:"user_id"`
	FromLevel int           `json:"from_level" db:"from_level"`
	ToLevel   *int          `json:"to_level" db:"to_level"`
	Result    EnhanceResult `json:"result" db:"result"`
	Rates     Rates         `json:"rates"`
	Effect    EffectKind    `json:"effect" db:"effect"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// BattleMatch is the ephemeral state created by entering battle. It lives
// in the fast store under a 5-minute TTL and is consumed exactly once.
type BattleMatch struct {
	ID               string `json:"id"`
	ChallengerID     string `json:"challenger_id"`
	OpponentID       string `json:"opponent_id"`
	ChallengerWeapon string `json:"challenger_weapon"`
	OpponentWeapon   string `json:"opponent_weapon"`
	ChallengerLevel  int    `json:"challenger_level"`
	OpponentLevel    int    `json:"opponent_level"`
	WinRate          int    `json:"win_rate"` // challenger's win percentage, 5..95
}

// BattleRecord is the durable, append-only record of a resolved battle.
type BattleRecord struct {
	ID                string    `json:"id" db:"id"`
	SeasonID          int64     `json:"season_id" db:"season_id"`
	WinnerID          string    `json:"winner_id" db:"winner_id"`
	LoserID           string    `json:"loser_id" db:"loser_id"`
	WinnerWeaponID    string    `json:"winner_weapon_id" db:"winner_weapon_id"`
	LoserWeaponID     string    `json:"loser_weapon_id" db:"loser_weapon_id"`
	WinnerWeaponLevel int       `json:"winner_weapon_level" db:"winner_weapon_level"`
	LoserWeaponLevel  int       `json:"loser_weapon_level" db:"loser_weapon_level"`
	WinRate           int       `json:"win_rate" db:"win_rate"` // winner's rate at resolution time
	WinnerPoints      int       `json:"winner_points" db:"winner_points"`
	WinnerGold        int64     `json:"winner_gold" db:"winner_gold"`
	LoserGold         int64     `json:"loser_gold" db:"loser_gold"`
	WinnerStreak      int       `json:"winner_streak" db:"winner_streak"`
	FoughtAt          time.Time `json:"fought_at" db:"fought_at"`
}

// SeasonStatus is the season lifecycle state. Transitions only move
// forward: upcoming -> active -> settling -> completed.
type SeasonStatus string

const (
	SeasonUpcoming  SeasonStatus = "upcoming"
	SeasonActive    SeasonStatus = "active"
	SeasonSettling  SeasonStatus = "settling"
	SeasonCompleted SeasonStatus = "completed"
)

// Season is one bounded competition window with its own leaderboard.
type Season struct {
	ID               int64        `json:"id" db:"id"`
	Number           int          `json:"number" db:"number"`
	StartAt          time.Time    `json:"start_at" db:"start_at"`
	EndAt            time.Time    `json:"end_at" db:"end_at"`
	Status           SeasonStatus `json:"status" db:"status"`
	RewardTemplateID *int64       `json:"reward_template_id,omitempty" db:"reward_template_id"`
}

// RankMetric selects the leaderboard a ranking query is sorted by.
type RankMetric string

const (
	RankByPoints   RankMetric = "points"
	RankByMaxLevel RankMetric = "maxEnhancementLevel"
)

// RankingEntry is one user's live (or settled) standing in a season.
type RankingEntry struct {
	SeasonID      int64  `json:"season_id" db:"season_id"`
	UserID        string `json:"user_id" db:"user_id"`
	Points        int    `json:"points" db:"points"`
	Wins          int    `json:"wins" db:"wins"`
	Losses        int    `json:"losses" db:"losses"`
	CurrentStreak int    `json:"current_streak" db:"current_streak"`
	BestStreak    int    `json:"best_streak" db:"best_streak"`
	MaxLevel      int    `json:"max_level" db:"max_level"` // highest enhancement level reached this season
}

// MailReward is a weapon reward delivered to a user's inbox by the mail
// collaborator. The engine only writes these; claiming happens elsewhere.
type MailReward struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	Title      string    `json:"title" db:"title"`
	Body       string    `json:"body" db:"body"`
	TemplateID int64     `json:"template_id" db:"template_id"`
	ExpiresAt  time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

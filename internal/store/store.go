// Package store defines the persistence interfaces for the economy engine.
// PostgreSQL is the source of truth for users, weapons, seasons, and the
// append-only history tables; Redis holds the live shared state (prayer
// pool, season leaderboards, battle matches). In-memory implementations of
// both exist for testing and development.
package store

import (
	"context"
	"time"

	"github.com/weaponforge/economy-engine/internal/model"
)

// Candidate is a potential battle opponent: a user with an equipped,
// non-destroyed weapon inside the matching level range.
type Candidate struct {
	UserID   string
	Username string
	WeaponID string
	Level    int
}

// Store is the durable persistence interface, backed by PostgreSQL.
type Store interface {
	// --- Users (external account collaborator's narrow contract) ---

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// DebitBalance atomically subtracts gold and stones from a user's
	// balances. Returns model.ErrInsufficientFunds if either balance is
	// below the requested amount; no partial debit ever happens.
	DebitBalance(ctx context.Context, userID string, gold, stones int64) error

	// CreditGold adds gold to a user's balance.
	CreditGold(ctx context.Context, userID string, gold int64) error

	// --- Weapons (external inventory collaborator's narrow contract) ---

	// GetWeapon retrieves a weapon by ID scoped to its owner.
	GetWeapon(ctx context.Context, id, userID string) (*model.Weapon, error)

	// GetEquippedWeapon retrieves a user's equipped, non-destroyed weapon.
	GetEquippedWeapon(ctx context.Context, userID string) (*model.Weapon, error)

	// GetTemplate retrieves immutable weapon template data.
	GetTemplate(ctx context.Context, id int64) (*model.WeaponTemplate, error)

	// SetWeaponLevel applies an enhancement result to a weapon.
	SetWeaponLevel(ctx context.Context, id string, level int) error

	// DestroyWeapon marks a weapon destroyed and clears its equipped flag.
	DestroyWeapon(ctx context.Context, id string, at time.Time) error

	// ListBattleCandidates returns users other than excludeUser whose
	// equipped, non-destroyed weapon level lies in [minLevel, maxLevel].
	ListBattleCandidates(ctx context.Context, excludeUser string, minLevel, maxLevel int) ([]Candidate, error)

	// --- Append-only history ---

	InsertPrayerRecord(ctx context.Context, rec *model.PrayerRecord) error
	InsertEnhancementRecord(ctx context.Context, rec *model.EnhancementRecord) error
	InsertBattleRecord(ctx context.Context, rec *model.BattleRecord) error

	// ListEnhancementHistory returns a user's most recent attempts.
	ListEnhancementHistory(ctx context.Context, userID string, limit int) ([]model.EnhancementRecord, error)

	// ListBattleHistory returns a user's most recent battles, won or lost.
	ListBattleHistory(ctx context.Context, userID string, limit int) ([]model.BattleRecord, error)

	// --- Seasons ---

	// CreateSeason persists a new season in the upcoming state.
	CreateSeason(ctx context.Context, s *model.Season) error

	// GetSeason retrieves a season by ID.
	GetSeason(ctx context.Context, id int64) (*model.Season, error)

	// ListSeasonsByStatus returns seasons currently in the given status.
	ListSeasonsByStatus(ctx context.Context, status model.SeasonStatus) ([]model.Season, error)

	// TransitionSeason moves a season from one status to another only if
	// it is still in the from status. Returns false when the guard fails,
	// which callers treat as "someone else already transitioned it".
	TransitionSeason(ctx context.Context, id int64, from, to model.SeasonStatus) (bool, error)

	// SnapshotRanking copies one live leaderboard entry into durable
	// storage at settlement.
	SnapshotRanking(ctx context.Context, entry *model.RankingEntry) error

	// --- Mail (external mail collaborator's narrow contract) ---

	// DeliverMailReward appends a weapon reward to a user's inbox.
	DeliverMailReward(ctx context.Context, m *model.MailReward) error
}

// Live is the fast shared-state interface, backed by Redis. Every
// read-modify-write here is atomic on the server side: the prayer pool
// draw, the in-match check-and-set, the streak and stat updates, and the
// match take all run as single Redis commands or Lua scripts so that no
// two concurrent requests can consume the same logical unit.
type Live interface {
	// --- Prayer pool ---

	// InitPool ensures the pool hash exists with all buckets at least
	// present. Idempotent; safe to call on every process start.
	InitPool(ctx context.Context) error

	// ContributeEffect increments the bucket for kind if it is below its
	// cap. Returns false when the contribution was dropped at the cap.
	ContributeEffect(ctx context.Context, kind model.EffectKind) (bool, error)

	// DrawEffect atomically picks one unit from the pool, proportionally
	// to current bucket sizes, and decrements that bucket. Returns
	// model.EffectNone when the pool is empty.
	DrawEffect(ctx context.Context) (model.EffectKind, error)

	// PoolStats returns a snapshot of the pool counters.
	PoolStats(ctx context.Context) (model.PoolStats, error)

	// --- Battle matches ---

	// MarkInMatch atomically adds a user to the in-match set. Returns
	// false if the user was already in it.
	MarkInMatch(ctx context.Context, userID string) (bool, error)

	// ClearInMatch removes a user from the in-match set.
	ClearInMatch(ctx context.Context, userID string) error

	// PutMatch stores a pending match under the given TTL.
	PutMatch(ctx context.Context, m *model.BattleMatch, ttl time.Duration) error

	// TakeMatch atomically fetches and deletes a match, but only when it
	// belongs to challengerID. Returns model.ErrNotFound for a missing or
	// expired match and model.ErrConflict for an owner mismatch; on
	// conflict the match is left in place.
	TakeMatch(ctx context.Context, matchID, challengerID string) (*model.BattleMatch, error)

	// --- Season leaderboards and stats ---

	// AddPoints adds battle points to a user's season score and returns
	// the new total.
	AddPoints(ctx context.Context, seasonID int64, userID string, points int) (int, error)

	// EnsureRanked registers a user on the points leaderboard with zero
	// points if absent, so losers still appear in rankings.
	EnsureRanked(ctx context.Context, seasonID int64, userID string) error

	// IncrementStreak bumps a user's win streak, raises the best-streak
	// watermark if surpassed, and returns the new streak.
	IncrementStreak(ctx context.Context, seasonID int64, userID string) (int, error)

	// ResetStreak sets a user's current streak to zero.
	ResetStreak(ctx context.Context, seasonID int64, userID string) error

	// GetStreak returns a user's current win streak.
	GetStreak(ctx context.Context, seasonID int64, userID string) (int, error)

	// RecordBattleStat increments a user's season win or loss counter.
	RecordBattleStat(ctx context.Context, seasonID int64, userID string, win bool) error

	// ObserveMaxLevel raises a user's season max-enhancement-level
	// watermark and the secondary leaderboard when level exceeds the
	// previous maximum. Returns true when a new maximum was set.
	ObserveMaxLevel(ctx context.Context, seasonID int64, userID string, level int) (bool, error)

	// TopRankings returns the top limit season entries sorted descending
	// by the chosen metric, with full per-user stats attached.
	TopRankings(ctx context.Context, seasonID int64, limit int, by model.RankMetric) ([]model.RankingEntry, error)
}

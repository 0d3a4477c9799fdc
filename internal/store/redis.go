package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weaponforge/economy-engine/internal/balance"
	"github.com/weaponforge/economy-engine/internal/model"
)

// RedisLive implements Live on Redis. Every read-modify-write runs as a
// single command or Lua script, so concurrent requests can never consume
// the same pool unit, double-enter a match, or lose a streak update —
// the races a naive read-then-write layering would have.
type RedisLive struct {
	rdb *redis.Client

	// Roll provides the uniform [0,1) value fed to the proportional pool
	// draw script. Defaults to math/rand/v2; tests inject scripted values.
	Roll func() float64
}

// NewRedisLive creates a Redis-backed live store.
func NewRedisLive(rdb *redis.Client) *RedisLive {
	return &RedisLive{rdb: rdb, Roll: rand.Float64}
}

const (
	poolKey    = "global:prayer:pool"
	inMatchKey = "battle:in_match"
)

func matchKey(id string) string          { return "battle:match:" + id }
func rankingKey(seasonID int64) string   { return fmt.Sprintf("season:%d:ranking", seasonID) }
func levelRankKey(seasonID int64) string { return fmt.Sprintf("season:%d:enhancement_ranking", seasonID) }
func streaksKey(seasonID int64) string   { return fmt.Sprintf("season:%d:streaks", seasonID) }
func statsKey(seasonID int64) string     { return fmt.Sprintf("season:%d:stats", seasonID) }

// contributeScript increments a pool bucket only while it is under its cap.
var contributeScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
if cur >= tonumber(ARGV[2]) then
	return 0
end
redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
return 1
`)

// drawScript picks one unit proportionally to bucket sizes and decrements
// the chosen bucket, all inside one script execution. ARGV[1] is a uniform
// [0,1) float supplied by the caller; Lua's own math.random is avoided so
// the draw stays reproducible in tests and consistent across replicas.
var drawScript = redis.NewScript(`
local p = tonumber(redis.call('HGET', KEYS[1], 'positive') or '0')
local n = tonumber(redis.call('HGET', KEYS[1], 'negative') or '0')
local u = tonumber(redis.call('HGET', KEYS[1], 'neutral') or '0')
local total = p + n + u
if total <= 0 then
	return 'none'
end
local pick = math.floor(tonumber(ARGV[1]) * total)
if pick >= total then
	pick = total - 1
end
if pick < p then
	redis.call('HINCRBY', KEYS[1], 'positive', -1)
	return 'positive'
elseif pick < p + n then
	redis.call('HINCRBY', KEYS[1], 'negative', -1)
	return 'negative'
else
	redis.call('HINCRBY', KEYS[1], 'neutral', -1)
	return 'neutral'
end
`)

// takeMatchScript deletes and returns a match only when it belongs to the
// caller, making consumption exactly-once.
var takeMatchScript = redis.NewScript(`
local owner = redis.call('HGET', KEYS[1], 'challenger')
if not owner then
	return false
end
if owner ~= ARGV[1] then
	return 'conflict'
end
local data = redis.call('HGET', KEYS[1], 'data')
redis.call('DEL', KEYS[1])
return data
`)

// incrStreakScript bumps the current streak and raises the best-streak
// watermark in the same execution.
var incrStreakScript = redis.NewScript(`
local streak = redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
local best = tonumber(redis.call('HGET', KEYS[2], ARGV[2]) or '0')
if streak > best then
	redis.call('HSET', KEYS[2], ARGV[2], streak)
end
return streak
`)

// observeLevelScript raises the per-user max-level watermark and the
// secondary leaderboard only when the new level beats the old maximum.
var observeLevelScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local lvl = tonumber(ARGV[2])
if lvl <= cur then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], lvl)
redis.call('ZADD', KEYS[2], 'GT', lvl, ARGV[3])
return 1
`)

func (l *RedisLive) InitPool(ctx context.Context) error {
	for _, field := range []string{"positive", "negative", "neutral"} {
		if err := l.rdb.HSetNX(ctx, poolKey, field, 0).Err(); err != nil {
			return fmt.Errorf("init pool: %w", err)
		}
	}
	return nil
}

func (l *RedisLive) ContributeEffect(ctx context.Context, kind model.EffectKind) (bool, error) {
	var limit int
	switch kind {
	case model.EffectPositive:
		limit = balance.MaxPositiveBuffs
	case model.EffectNegative:
		limit = balance.MaxNegativeBuffs
	case model.EffectNeutral:
		limit = balance.MaxNeutrals
	default:
		return false, fmt.Errorf("contribute: unknown effect kind %q", kind)
	}

	added, err := contributeScript.Run(ctx, l.rdb, []string{poolKey}, string(kind), limit).Int()
	if err != nil {
		return false, fmt.Errorf("contribute %s: %w", kind, err)
	}
	return added == 1, nil
}

func (l *RedisLive) DrawEffect(ctx context.Context) (model.EffectKind, error) {
	res, err := drawScript.Run(ctx, l.rdb, []string{poolKey}, l.Roll()).Text()
	if err != nil {
		return model.EffectNone, fmt.Errorf("draw effect: %w", err)
	}
	return model.EffectKind(res), nil
}

func (l *RedisLive) PoolStats(ctx context.Context) (model.PoolStats, error) {
	vals, err := l.rdb.HMGet(ctx, poolKey, "positive", "negative", "neutral").Result()
	if err != nil {
		return model.PoolStats{}, fmt.Errorf("pool stats: %w", err)
	}

	st := model.PoolStats{
		Positive: hashInt(vals[0]),
		Negative: hashInt(vals[1]),
		Neutral:  hashInt(vals[2]),
	}
	st.Total = st.Positive + st.Negative + st.Neutral
	return st, nil
}

func (l *RedisLive) MarkInMatch(ctx context.Context, userID string) (bool, error) {
	added, err := l.rdb.SAdd(ctx, inMatchKey, userID).Result()
	if err != nil {
		return false, fmt.Errorf("mark in-match: %w", err)
	}
	return added == 1, nil
}

func (l *RedisLive) ClearInMatch(ctx context.Context, userID string) error {
	return l.rdb.SRem(ctx, inMatchKey, userID).Err()
}

func (l *RedisLive) PutMatch(ctx context.Context, m *model.BattleMatch, ttl time.Duration) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	key := matchKey(m.ID)
	pipe := l.rdb.TxPipeline()
	pipe.HSet(ctx, key, "challenger", m.ChallengerID, "data", data)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put match %s: %w", m.ID, err)
	}
	return nil
}

func (l *RedisLive) TakeMatch(ctx context.Context, matchID, challengerID string) (*model.BattleMatch, error) {
	res, err := takeMatchScript.Run(ctx, l.rdb, []string{matchKey(matchID)}, challengerID).Text()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: match %s", model.ErrNotFound, matchID)
	}
	if err != nil {
		return nil, fmt.Errorf("take match %s: %w", matchID, err)
	}
	if res == "conflict" {
		return nil, fmt.Errorf("%w: match %s belongs to another user", model.ErrConflict, matchID)
	}

	var m model.BattleMatch
	if err := json.Unmarshal([]byte(res), &m); err != nil {
		return nil, fmt.Errorf("take match %s: %w", matchID, err)
	}
	return &m, nil
}

func (l *RedisLive) AddPoints(ctx context.Context, seasonID int64, userID string, points int) (int, error) {
	total, err := l.rdb.ZIncrBy(ctx, rankingKey(seasonID), float64(points), userID).Result()
	if err != nil {
		return 0, fmt.Errorf("add points: %w", err)
	}
	return int(total), nil
}

func (l *RedisLive) EnsureRanked(ctx context.Context, seasonID int64, userID string) error {
	return l.rdb.ZAddNX(ctx, rankingKey(seasonID), redis.Z{Score: 0, Member: userID}).Err()
}

func (l *RedisLive) IncrementStreak(ctx context.Context, seasonID int64, userID string) (int, error) {
	streak, err := incrStreakScript.Run(ctx, l.rdb,
		[]string{streaksKey(seasonID), statsKey(seasonID)},
		userID, userID+":best").Int()
	if err != nil {
		return 0, fmt.Errorf("increment streak: %w", err)
	}
	return streak, nil
}

func (l *RedisLive) ResetStreak(ctx context.Context, seasonID int64, userID string) error {
	return l.rdb.HSet(ctx, streaksKey(seasonID), userID, 0).Err()
}

func (l *RedisLive) GetStreak(ctx context.Context, seasonID int64, userID string) (int, error) {
	streak, err := l.rdb.HGet(ctx, streaksKey(seasonID), userID).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get streak: %w", err)
	}
	return streak, nil
}

func (l *RedisLive) RecordBattleStat(ctx context.Context, seasonID int64, userID string, win bool) error {
	field := userID + ":losses"
	if win {
		field = userID + ":wins"
	}
	return l.rdb.HIncrBy(ctx, statsKey(seasonID), field, 1).Err()
}

func (l *RedisLive) ObserveMaxLevel(ctx context.Context, seasonID int64, userID string, level int) (bool, error) {
	raised, err := observeLevelScript.Run(ctx, l.rdb,
		[]string{statsKey(seasonID), levelRankKey(seasonID)},
		userID+":max_level", level, userID).Int()
	if err != nil {
		return false, fmt.Errorf("observe max level: %w", err)
	}
	return raised == 1, nil
}

func (l *RedisLive) TopRankings(ctx context.Context, seasonID int64, limit int, by model.RankMetric) ([]model.RankingEntry, error) {
	key := rankingKey(seasonID)
	if by == model.RankByMaxLevel {
		key = levelRankKey(seasonID)
	}

	top, err := l.rdb.ZRevRangeWithScores(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("top rankings: %w", err)
	}

	entries := make([]model.RankingEntry, 0, len(top))
	for _, z := range top {
		userID, _ := z.Member.(string)
		e := model.RankingEntry{SeasonID: seasonID, UserID: userID}

		if by == model.RankByMaxLevel {
			e.MaxLevel = int(z.Score)
			points, err := l.rdb.ZScore(ctx, rankingKey(seasonID), userID).Result()
			if err != nil && err != redis.Nil {
				return nil, fmt.Errorf("top rankings: %w", err)
			}
			e.Points = int(points)
		} else {
			e.Points = int(z.Score)
		}

		streak, err := l.GetStreak(ctx, seasonID, userID)
		if err != nil {
			return nil, err
		}
		e.CurrentStreak = streak

		fields, err := l.rdb.HMGet(ctx, statsKey(seasonID),
			userID+":wins", userID+":losses", userID+":best", userID+":max_level").Result()
		if err != nil {
			return nil, fmt.Errorf("top rankings: %w", err)
		}
		e.Wins = hashInt(fields[0])
		e.Losses = hashInt(fields[1])
		e.BestStreak = hashInt(fields[2])
		if by != model.RankByMaxLevel {
			e.MaxLevel = hashInt(fields[3])
		}

		entries = append(entries, e)
	}
	return entries, nil
}

func hashInt(v interface{}) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}

package store

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/weaponforge/economy-engine/internal/balance"
	"github.com/weaponforge/economy-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	users        map[string]*model.User
	weapons      map[string]*model.Weapon
	templates    map[int64]*model.WeaponTemplate
	seasons      map[int64]*model.Season
	nextSeasonID int64
	prayers      []model.PrayerRecord
	attempts     []model.EnhancementRecord
	battles      []model.BattleRecord
	snapshots    []model.RankingEntry
	mail         []model.MailReward
}

// NewMemoryStore creates a new in-memory durable store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*model.User),
		weapons:   make(map[string]*model.Weapon),
		templates: make(map[int64]*model.WeaponTemplate),
		seasons:   make(map[int64]*model.Season),
	}
}

// PutUser seeds a user. Test/dev helper; production users come from the
// account collaborator's schema.
func (s *MemoryStore) PutUser(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

// PutWeapon seeds a weapon instance.
func (s *MemoryStore) PutWeapon(w *model.Weapon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.weapons[w.ID] = &cp
}

// PutTemplate seeds a weapon template.
func (s *MemoryStore) PutTemplate(t *model.WeaponTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.templates[t.ID] = &cp
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", model.ErrNotFound, id)
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) DebitBalance(_ context.Context, userID string, gold, stones int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", model.ErrNotFound, userID)
	}
	if u.Gold < gold || u.Stones < stones {
		return fmt.Errorf("%w: need %d gold and %d stones", model.ErrInsufficientFunds, gold, stones)
	}
	u.Gold -= gold
	u.Stones -= stones
	return nil
}

func (s *MemoryStore) CreditGold(_ context.Context, userID string, gold int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", model.ErrNotFound, userID)
	}
	u.Gold += gold
	return nil
}

func (s *MemoryStore) GetWeapon(_ context.Context, id, userID string) (*model.Weapon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.weapons[id]
	if !ok || w.UserID != userID {
		return nil, fmt.Errorf("%w: weapon %s", model.ErrNotFound, id)
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) GetEquippedWeapon(_ context.Context, userID string) (*model.Weapon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, w := range s.weapons {
		if w.UserID == userID && w.Equipped && !w.Destroyed {
			cp := *w
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: no weapon equipped for user %s", model.ErrNotFound, userID)
}

func (s *MemoryStore) GetTemplate(_ context.Context, id int64) (*model.WeaponTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: template %d", model.ErrNotFound, id)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) SetWeaponLevel(_ context.Context, id string, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.weapons[id]
	if !ok {
		return fmt.Errorf("%w: weapon %s", model.ErrNotFound, id)
	}
	w.Level = level
	return nil
}

func (s *MemoryStore) DestroyWeapon(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.weapons[id]
	if !ok {
		return fmt.Errorf("%w: weapon %s", model.ErrNotFound, id)
	}
	w.Destroyed = true
	w.Equipped = false
	w.DestroyedAt = &at
	return nil
}

func (s *MemoryStore) ListBattleCandidates(_ context.Context, excludeUser string, minLevel, maxLevel int) ([]Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Candidate
	for _, w := range s.weapons {
		if w.UserID == excludeUser || !w.Equipped || w.Destroyed {
			continue
		}
		if w.Level < minLevel || w.Level > maxLevel {
			continue
		}
		name := ""
		if u, ok := s.users[w.UserID]; ok {
			name = u.Username
		}
		out = append(out, Candidate{
			UserID:   w.UserID,
			Username: name,
			WeaponID: w.ID,
			Level:    w.Level,
		})
	}
	// Stable order so weighted selection is reproducible in tests.
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) InsertPrayerRecord(_ context.Context, rec *model.PrayerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prayers = append(s.prayers, *rec)
	return nil
}

func (s *MemoryStore) InsertEnhancementRecord(_ context.Context, rec *model.EnhancementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, *rec)
	return nil
}

func (s *MemoryStore) InsertBattleRecord(_ context.Context, rec *model.BattleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.battles = append(s.battles, *rec)
	return nil
}

func (s *MemoryStore) ListEnhancementHistory(_ context.Context, userID string, limit int) ([]model.EnhancementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.EnhancementRecord
	for i := len(s.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		if s.attempts[i].UserID == userID {
			out = append(out, s.attempts[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) ListBattleHistory(_ context.Context, userID string, limit int) ([]model.BattleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.BattleRecord
	for i := len(s.battles) - 1; i >= 0 && len(out) < limit; i-- {
		if s.battles[i].WinnerID == userID || s.battles[i].LoserID == userID {
			out = append(out, s.battles[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateSeason(_ context.Context, season *model.Season) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.seasons {
		if existing.Number == season.Number {
			return fmt.Errorf("%w: season number %d already exists", model.ErrConflict, season.Number)
		}
	}
	s.nextSeasonID++
	season.ID = s.nextSeasonID
	cp := *season
	s.seasons[season.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSeason(_ context.Context, id int64) (*model.Season, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	season, ok := s.seasons[id]
	if !ok {
		return nil, fmt.Errorf("%w: season %d", model.ErrNotFound, id)
	}
	cp := *season
	return &cp, nil
}

func (s *MemoryStore) ListSeasonsByStatus(_ context.Context, status model.SeasonStatus) ([]model.Season, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Season
	for _, season := range s.seasons {
		if season.Status == status {
			out = append(out, *season)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *MemoryStore) TransitionSeason(_ context.Context, id int64, from, to model.SeasonStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	season, ok := s.seasons[id]
	if !ok {
		return false, fmt.Errorf("%w: season %d", model.ErrNotFound, id)
	}
	if season.Status != from {
		return false, nil
	}
	season.Status = to
	return true, nil
}

func (s *MemoryStore) SnapshotRanking(_ context.Context, entry *model.RankingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, *entry)
	return nil
}

// RankingSnapshots returns the settled leaderboard entries for a season.
// Test helper.
func (s *MemoryStore) RankingSnapshots(seasonID int64) []model.RankingEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.RankingEntry
	for _, e := range s.snapshots {
		if e.SeasonID == seasonID {
			out = append(out, e)
		}
	}
	return out
}

func (s *MemoryStore) DeliverMailReward(_ context.Context, m *model.MailReward) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mail = append(s.mail, *m)
	return nil
}

// MailFor returns rewards delivered to a user. Test helper.
func (s *MemoryStore) MailFor(userID string) []model.MailReward {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.MailReward
	for _, m := range s.mail {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out
}

// --- Live state ---

type memMatch struct {
	match     model.BattleMatch
	expiresAt time.Time
}

type memStats struct {
	wins       int
	losses     int
	bestStreak int
	maxLevel   int
}

type memSeasonState struct {
	points  map[string]int
	streaks map[string]int
	stats   map[string]*memStats
}

// MemoryLive implements Live with in-memory state guarded by a single
// mutex, which serializes every read-modify-write the same way the Redis
// implementation's server-side scripts do.
type MemoryLive struct {
	mu      sync.Mutex
	pool    model.PoolStats
	inMatch map[string]bool
	matches map[string]memMatch
	seasons map[int64]*memSeasonState

	// Roll overrides the uniform source for the proportional pool draw.
	// Tests set it to script draws; nil means math/rand/v2.
	Roll func() float64
}

// NewMemoryLive creates a new in-memory live store.
func NewMemoryLive() *MemoryLive {
	return &MemoryLive{
		inMatch: make(map[string]bool),
		matches: make(map[string]memMatch),
		seasons: make(map[int64]*memSeasonState),
	}
}

func (l *MemoryLive) season(id int64) *memSeasonState {
	st, ok := l.seasons[id]
	if !ok {
		st = &memSeasonState{
			points:  make(map[string]int),
			streaks: make(map[string]int),
			stats:   make(map[string]*memStats),
		}
		l.seasons[id] = st
	}
	return st
}

func (l *MemoryLive) userStats(seasonID int64, userID string) *memStats {
	st := l.season(seasonID)
	us, ok := st.stats[userID]
	if !ok {
		us = &memStats{}
		st.stats[userID] = us
	}
	return us
}

func (l *MemoryLive) InitPool(_ context.Context) error {
	// Buckets zero-value to empty; nothing to do beyond existing.
	return nil
}

func (l *MemoryLive) ContributeEffect(_ context.Context, kind model.EffectKind) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch kind {
	case model.EffectPositive:
		if l.pool.Positive >= balance.MaxPositiveBuffs {
			return false, nil
		}
		l.pool.Positive++
	case model.EffectNegative:
		if l.pool.Negative >= balance.MaxNegativeBuffs {
			return false, nil
		}
		l.pool.Negative++
	case model.EffectNeutral:
		if l.pool.Neutral >= balance.MaxNeutrals {
			return false, nil
		}
		l.pool.Neutral++
	default:
		return false, fmt.Errorf("contribute: unknown effect kind %q", kind)
	}
	return true, nil
}

func (l *MemoryLive) DrawEffect(_ context.Context) (model.EffectKind, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := l.pool.Positive + l.pool.Negative + l.pool.Neutral
	if total <= 0 {
		return model.EffectNone, nil
	}

	roll := l.Roll
	if roll == nil {
		roll = rand.Float64
	}
	pick := int(roll() * float64(total))
	if pick >= total {
		pick = total - 1
	}

	switch {
	case pick < l.pool.Positive:
		l.pool.Positive--
		return model.EffectPositive, nil
	case pick < l.pool.Positive+l.pool.Negative:
		l.pool.Negative--
		return model.EffectNegative, nil
	default:
		l.pool.Neutral--
		return model.EffectNeutral, nil
	}
}

func (l *MemoryLive) PoolStats(_ context.Context) (model.PoolStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.pool
	st.Total = st.Positive + st.Negative + st.Neutral
	return st, nil
}

func (l *MemoryLive) MarkInMatch(_ context.Context, userID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inMatch[userID] {
		return false, nil
	}
	l.inMatch[userID] = true
	return true, nil
}

func (l *MemoryLive) ClearInMatch(_ context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inMatch, userID)
	return nil
}

func (l *MemoryLive) PutMatch(_ context.Context, m *model.BattleMatch, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.matches[m.ID] = memMatch{match: *m, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (l *MemoryLive) TakeMatch(_ context.Context, matchID, challengerID string) (*model.BattleMatch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	mm, ok := l.matches[matchID]
	if !ok {
		return nil, fmt.Errorf("%w: match %s", model.ErrNotFound, matchID)
	}
	if time.Now().After(mm.expiresAt) {
		// Expired matches become unusable on access; evict here rather
		// than relying on a background sweep.
		delete(l.matches, matchID)
		return nil, fmt.Errorf("%w: match %s expired", model.ErrNotFound, matchID)
	}
	if mm.match.ChallengerID != challengerID {
		return nil, fmt.Errorf("%w: match %s belongs to another user", model.ErrConflict, matchID)
	}
	delete(l.matches, matchID)
	cp := mm.match
	return &cp, nil
}

func (l *MemoryLive) AddPoints(_ context.Context, seasonID int64, userID string, points int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.season(seasonID)
	st.points[userID] += points
	return st.points[userID], nil
}

func (l *MemoryLive) EnsureRanked(_ context.Context, seasonID int64, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.season(seasonID)
	if _, ok := st.points[userID]; !ok {
		st.points[userID] = 0
	}
	return nil
}

func (l *MemoryLive) IncrementStreak(_ context.Context, seasonID int64, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.season(seasonID)
	st.streaks[userID]++
	streak := st.streaks[userID]

	us := l.userStats(seasonID, userID)
	if streak > us.bestStreak {
		us.bestStreak = streak
	}
	return streak, nil
}

func (l *MemoryLive) ResetStreak(_ context.Context, seasonID int64, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.season(seasonID).streaks[userID] = 0
	return nil
}

func (l *MemoryLive) GetStreak(_ context.Context, seasonID int64, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.season(seasonID).streaks[userID], nil
}

func (l *MemoryLive) RecordBattleStat(_ context.Context, seasonID int64, userID string, win bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	us := l.userStats(seasonID, userID)
	if win {
		us.wins++
	} else {
		us.losses++
	}
	return nil
}

func (l *MemoryLive) ObserveMaxLevel(_ context.Context, seasonID int64, userID string, level int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	us := l.userStats(seasonID, userID)
	if level <= us.maxLevel {
		return false, nil
	}
	us.maxLevel = level
	return true, nil
}

func (l *MemoryLive) TopRankings(_ context.Context, seasonID int64, limit int, by model.RankMetric) ([]model.RankingEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.season(seasonID)

	// Collect every user seen on either leaderboard.
	seen := make(map[string]bool)
	for u := range st.points {
		seen[u] = true
	}
	for u := range st.stats {
		seen[u] = true
	}

	entries := make([]model.RankingEntry, 0, len(seen))
	for u := range seen {
		e := model.RankingEntry{
			SeasonID:      seasonID,
			UserID:        u,
			Points:        st.points[u],
			CurrentStreak: st.streaks[u],
		}
		if us, ok := st.stats[u]; ok {
			e.Wins = us.wins
			e.Losses = us.losses
			e.BestStreak = us.bestStreak
			e.MaxLevel = us.maxLevel
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if by == model.RankByMaxLevel {
			if entries[i].MaxLevel != entries[j].MaxLevel {
				return entries[i].MaxLevel > entries[j].MaxLevel
			}
		} else if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		return entries[i].UserID < entries[j].UserID
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

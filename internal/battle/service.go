// Package battle coordinates the two-phase battle flow: enter (pay the
// fee, get matched, receive a pending match with a win rate) and execute
// (resolve the outcome, pay rewards, update the season ledger). A pending
// match is single-use and owner-bound; the take is atomic so two execute
// calls for the same match resolve it exactly once.
package battle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/weaponforge/economy-engine/internal/balance"
	"github.com/weaponforge/economy-engine/internal/feed"
	"github.com/weaponforge/economy-engine/internal/httpx"
	"github.com/weaponforge/economy-engine/internal/metrics"
	"github.com/weaponforge/economy-engine/internal/model"
	"github.com/weaponforge/economy-engine/internal/season"
	"github.com/weaponforge/economy-engine/internal/store"
)

const (
	matchTTL = 5 * time.Minute

	// rewardAttempts bounds the retry loop around post-battle reward and
	// ledger writes. A write that still fails after this is logged for
	// manual reconciliation; the battle outcome itself is already final
	// at that point.
	rewardAttempts = 3
)

// SeasonLedger is the season-scoped state the coordinator reads and
// writes. Implemented by the season service.
type SeasonLedger interface {
	CurrentSeason(ctx context.Context) (*model.Season, error)
	RecordWin(ctx context.Context, seasonID int64, userID string) (int, error)
	RecordLoss(ctx context.Context, seasonID int64, userID string) error
	AwardPoints(ctx context.Context, seasonID int64, userID string, points int) (int, error)
	EnsureRanked(ctx context.Context, seasonID int64, userID string) error
}

// Service is the battle coordinator.
type Service struct {
	store  store.Store
	live   store.Live
	ledger SeasonLedger
	hub    *feed.Hub

	// roll yields uniform [0,1) values; one draw picks the opponent and
	// another resolves the outcome. Tests script it.
	roll func() float64
	now  func() time.Time
}

// NewService creates a battle coordinator. hub may be nil.
func NewService(st store.Store, live store.Live, ledger SeasonLedger, hub *feed.Hub) *Service {
	return &Service{
		store:  st,
		live:   live,
		ledger: ledger,
		hub:    hub,
		roll:   rand.Float64,
		now:    time.Now,
	}
}

// Outcome is the resolved result of an executed battle, from the
// challenger's point of view.
type Outcome struct {
	Won          bool   `json:"won"`
	WinnerID     string `json:"winner_id"`
	OpponentID   string `json:"opponent_id"`
	WinRate      int    `json:"win_rate"`
	GoldEarned   int64  `json:"gold_earned"`
	PointsEarned int    `json:"points_earned"`
	Streak       int    `json:"streak"`
}

// Enter matches a user against an opponent within the allowed level range
// and returns a pending match. The entry fee is debited up front and
// refunded only when no opponent exists. The caller stays flagged
// in-match until the match is executed or expires.
func (s *Service) Enter(ctx context.Context, userID string) (*model.BattleMatch, error) {
	if season.InSettlementWindow(s.now()) {
		return nil, fmt.Errorf("%w: season settlement in progress, battles are closed", model.ErrInvalidState)
	}
	current, err := s.ledger.CurrentSeason(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil || current.Status != model.SeasonActive {
		return nil, fmt.Errorf("%w: no active season", model.ErrInvalidState)
	}

	weapon, err := s.store.GetEquippedWeapon(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%w: no equipped weapon", model.ErrInvalidState)
		}
		return nil, err
	}

	ok, err := s.live.MarkInMatch(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: already in a pending match", model.ErrInvalidState)
	}

	match, err := s.enterLocked(ctx, userID, weapon)
	if err != nil {
		if clearErr := s.live.ClearInMatch(ctx, userID); clearErr != nil {
			slog.Error("failed to clear in-match flag", "user", userID, "err", clearErr)
		}
		return nil, err
	}
	return match, nil
}

// enterLocked runs the fee debit and matchmaking with the in-match flag
// already held. The caller releases the flag on error.
func (s *Service) enterLocked(ctx context.Context, userID string, weapon *model.Weapon) (*model.BattleMatch, error) {
	if err := s.store.DebitBalance(ctx, userID, balance.BattleEntryFee, 0); err != nil {
		return nil, err
	}

	minLevel := weapon.Level - balance.MatchingLevelRange
	if minLevel < 0 {
		minLevel = 0
	}
	maxLevel := weapon.Level + balance.MatchingLevelRange
	candidates, err := s.store.ListBattleCandidates(ctx, userID, minLevel, maxLevel)
	if err != nil {
		s.refundEntryFee(ctx, userID)
		return nil, err
	}
	if len(candidates) == 0 {
		s.refundEntryFee(ctx, userID)
		return nil, fmt.Errorf("%w: no opponent within level range", model.ErrNotFound)
	}

	opponent := s.pickOpponent(candidates, weapon.Level)

	match := &model.BattleMatch{
		ID:               uuid.New().String(),
		ChallengerID:     userID,
		OpponentID:       opponent.UserID,
		ChallengerWeapon: weapon.ID,
		OpponentWeapon:   opponent.WeaponID,
		ChallengerLevel:  weapon.Level,
		OpponentLevel:    opponent.Level,
		WinRate:          balance.WinRate(weapon.Level, opponent.Level),
	}
	if err := s.live.PutMatch(ctx, match, matchTTL); err != nil {
		s.refundEntryFee(ctx, userID)
		return nil, err
	}

	metrics.MatchesOpen.Inc()
	slog.Info("battle entered",
		"match", match.ID, "challenger", userID, "opponent", opponent.UserID,
		"levels", fmt.Sprintf("%d vs %d", weapon.Level, opponent.Level),
		"win_rate", match.WinRate)
	return match, nil
}

// pickOpponent runs a weighted roulette over the candidates. Weight
// decays with level distance, so close matchups are favored without ever
// excluding an in-range candidate.
func (s *Service) pickOpponent(candidates []store.Candidate, myLevel int) store.Candidate {
	total := 0
	for _, c := range candidates {
		total += balance.OpponentWeight(c.Level - myLevel)
	}
	r := int(s.roll() * float64(total))
	for _, c := range candidates {
		r -= balance.OpponentWeight(c.Level - myLevel)
		if r < 0 {
			return c
		}
	}
	return candidates[len(candidates)-1]
}

func (s *Service) refundEntryFee(ctx context.Context, userID string) {
	if err := s.creditWithRetry(ctx, userID, balance.BattleEntryFee); err != nil {
		slog.Error("entry fee refund failed, needs manual reconciliation",
			"user", userID, "gold", balance.BattleEntryFee, "err", err)
	}
}

// Execute resolves a pending match. The match is consumed atomically and
// only by its challenger, so the outcome is decided exactly once. Once
// the outcome roll lands it is authoritative: reward bookkeeping failures
// are retried and logged, never allowed to flip or void the result.
func (s *Service) Execute(ctx context.Context, userID, matchID string) (*Outcome, error) {
	match, err := s.live.TakeMatch(ctx, matchID, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%w: match not found or expired", model.ErrNotFound)
		}
		return nil, err
	}
	defer func() {
		if err := s.live.ClearInMatch(ctx, userID); err != nil {
			slog.Error("failed to clear in-match flag", "user", userID, "err", err)
		}
	}()
	metrics.MatchesOpen.Dec()

	won := s.roll()*100 < float64(match.WinRate)

	var seasonID int64
	if current, err := s.ledger.CurrentSeason(ctx); err != nil {
		slog.Error("season lookup failed at battle resolution", "match", matchID, "err", err)
	} else if current != nil {
		seasonID = current.ID
	}

	outcome := s.settle(ctx, match, won, seasonID)

	if seasonID != 0 {
		s.recordBattle(ctx, match, outcome, seasonID)
	}

	label := "loss"
	if won {
		label = "win"
	}
	metrics.BattlesTotal.WithLabelValues(label).Inc()
	s.hub.Broadcast(feed.Event{
		Type:     "battle_result",
		UserID:   userID,
		SeasonID: seasonID,
		WinnerID: outcome.WinnerID,
		Streak:   outcome.Streak,
	})
	slog.Info("battle resolved",
		"match", matchID, "winner", outcome.WinnerID,
		"win_rate", match.WinRate, "streak", outcome.Streak)
	return outcome, nil
}

// settle applies rewards and ledger updates for a decided battle.
func (s *Service) settle(ctx context.Context, match *model.BattleMatch, won bool, seasonID int64) *Outcome {
	winnerID, loserID := match.OpponentID, match.ChallengerID
	if won {
		winnerID, loserID = match.ChallengerID, match.OpponentID
	}

	streak := 0
	if seasonID != 0 {
		err := s.withRetry(func() error {
			var e error
			streak, e = s.ledger.RecordWin(ctx, seasonID, winnerID)
			return e
		})
		if err != nil {
			slog.Error("win record failed, needs manual reconciliation",
				"season", seasonID, "user", winnerID, "err", err)
		}
		if err := s.withRetry(func() error {
			return s.ledger.RecordLoss(ctx, seasonID, loserID)
		}); err != nil {
			slog.Error("loss record failed, needs manual reconciliation",
				"season", seasonID, "user", loserID, "err", err)
		}
		if err := s.withRetry(func() error {
			return s.ledger.EnsureRanked(ctx, seasonID, loserID)
		}); err != nil {
			slog.Error("rank registration failed, needs manual reconciliation",
				"season", seasonID, "user", loserID, "err", err)
		}
	}

	winnerGold, winnerPoints := balance.WinnerRewards(streak)
	loserGold := balance.LoserConsolation(balance.WinGold)

	if seasonID != 0 {
		if err := s.withRetry(func() error {
			_, e := s.ledger.AwardPoints(ctx, seasonID, winnerID, winnerPoints)
			return e
		}); err != nil {
			slog.Error("point award failed, needs manual reconciliation",
				"season", seasonID, "user", winnerID, "points", winnerPoints, "err", err)
		}
	}
	if err := s.creditWithRetry(ctx, winnerID, winnerGold); err != nil {
		slog.Error("winner gold credit failed, needs manual reconciliation",
			"user", winnerID, "gold", winnerGold, "err", err)
	}
	if err := s.creditWithRetry(ctx, loserID, loserGold); err != nil {
		slog.Error("loser gold credit failed, needs manual reconciliation",
			"user", loserID, "gold", loserGold, "err", err)
	}

	outcome := &Outcome{
		Won:        won,
		WinnerID:   winnerID,
		OpponentID: match.OpponentID,
		WinRate:    match.WinRate,
		Streak:     streak,
	}
	if won {
		outcome.GoldEarned = winnerGold
		outcome.PointsEarned = winnerPoints
	} else {
		outcome.GoldEarned = loserGold
	}
	return outcome
}

// withRetry runs a reward or ledger write, retrying transient failures.
// The attempt count is small; anything that survives it goes to the log
// for reconciliation.
func (s *Service) withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < rewardAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		metrics.RewardRetries.Inc()
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return err
}

func (s *Service) creditWithRetry(ctx context.Context, userID string, gold int64) error {
	return s.withRetry(func() error {
		return s.store.CreditGold(ctx, userID, gold)
	})
}

func (s *Service) recordBattle(ctx context.Context, match *model.BattleMatch, outcome *Outcome, seasonID int64) {
	winnerWeapon, winnerLevel := match.ChallengerWeapon, match.ChallengerLevel
	loserWeapon, loserLevel := match.OpponentWeapon, match.OpponentLevel
	loserID := match.OpponentID
	winRate := match.WinRate
	if !outcome.Won {
		winnerWeapon, winnerLevel = match.OpponentWeapon, match.OpponentLevel
		loserWeapon, loserLevel = match.ChallengerWeapon, match.ChallengerLevel
		loserID = match.ChallengerID
		winRate = 100 - match.WinRate
	}
	winnerGold, winnerPoints := balance.WinnerRewards(outcome.Streak)
	rec := &model.BattleRecord{
		ID:                uuid.New().String(),
		SeasonID:          seasonID,
		WinnerID:          outcome.WinnerID,
		LoserID:           loserID,
		WinnerWeaponID:    winnerWeapon,
		LoserWeaponID:     loserWeapon,
		WinnerWeaponLevel: winnerLevel,
		LoserWeaponLevel:  loserLevel,
		WinRate:           winRate,
		WinnerPoints:      winnerPoints,
		WinnerGold:        winnerGold,
		LoserGold:         balance.LoserConsolation(balance.WinGold),
		WinnerStreak:      outcome.Streak,
		FoughtAt:          s.now().UTC(),
	}
	if err := s.store.InsertBattleRecord(ctx, rec); err != nil {
		slog.Error("battle record insert failed", "match", match.ID, "err", err)
	}
}

// History returns a user's most recent battles.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]model.BattleRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	return s.store.ListBattleHistory(ctx, userID, limit)
}

// --- HTTP Handlers ---

type enterRequest struct {
	UserID string `json:"user_id"`
}

// HandleEnter handles POST /api/v1/battle/enter
func (s *Service) HandleEnter(w http.ResponseWriter, r *http.Request) {
	var req enterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		httpx.WriteError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	match, err := s.Enter(r.Context(), req.UserID)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, match)
}

// HandleExecute handles POST /api/v1/battle/{matchID}/execute
func (s *Service) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req enterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		httpx.WriteError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	outcome, err := s.Execute(r.Context(), req.UserID, chi.URLParam(r, "matchID"))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, outcome)
}

// HandleHistory handles GET /api/v1/battle/history?user_id=&limit=
func (s *Service) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		httpx.WriteError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.History(r.Context(), userID, limit)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	if records == nil {
		records = []model.BattleRecord{}
	}
	httpx.WriteJSON(w, http.StatusOK, records)
}

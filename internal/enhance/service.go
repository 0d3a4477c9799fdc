// Package enhance implements the enhancement resolver: one attempt debits
// the level's cost, consumes one effect from the global prayer pool,
// computes the rate bands, rolls the outcome, and mutates the weapon.
package enhance

import (
	"context"
	"encoding/json"
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
	"github.com/weaponforge/economy-engine/internal/store"
)

// EffectSource supplies one pool effect per attempt. Implemented by the
// prayer service.
type EffectSource interface {
	Draw(ctx context.Context) (model.EffectKind, error)
}

// SeasonLedger receives max-enhancement-level notifications for the
// season's secondary leaderboard. Implemented by the season service.
type SeasonLedger interface {
	CurrentSeason(ctx context.Context) (*model.Season, error)
	ObserveMaxLevel(ctx context.Context, seasonID int64, userID string, level int) error
}

// Service resolves enhancement attempts.
type Service struct {
	store  store.Store
	pool   EffectSource
	ledger SeasonLedger
	hub    *feed.Hub

	// roll yields uniform [0,1) values. The outcome roll and the double
	// jump roll are independent draws from it. Unpredictability comes
	// from the process-wide generator; tests script this instead.
	roll func() float64
}

// NewService creates an enhancement service. ledger and hub may be nil
// when season tracking or broadcasting is not wired up.
func NewService(st store.Store, pool EffectSource, ledger SeasonLedger, hub *feed.Hub) *Service {
	return &Service{
		store:  st,
		pool:   pool,
		ledger: ledger,
		hub:    hub,
		roll:   rand.Float64,
	}
}

// Result is the outcome of one enhancement attempt. NewLevel is nil when
// the weapon was destroyed.
type Result struct {
	Result    model.EnhanceResult `json:"result"`
	NewLevel  *int                `json:"new_level"`
	FromLevel int                 `json:"from_level"`
	Rates     model.Rates         `json:"rates"`
	Effect    model.EffectKind    `json:"effect"`
	GoldCost  int64               `json:"gold_cost"`
	StoneCost int64               `json:"stone_cost"`
}

// Attempt resolves one enhancement attempt for the given user and weapon.
func (s *Service) Attempt(ctx context.Context, userID, weaponID string) (*Result, error) {
	weapon, err := s.store.GetWeapon(ctx, weaponID, userID)
	if err != nil {
		return nil, err
	}
	if weapon.Destroyed {
		return nil, fmt.Errorf("%w: weapon %s is destroyed", model.ErrInvalidState, weaponID)
	}
	if weapon.Level >= balance.MaxEnhancementLevel {
		return nil, fmt.Errorf("%w: weapon %s is already at max level", model.ErrInvalidState, weaponID)
	}

	// Charge the attempt up front; the debit is conditional in the store,
	// so an underfunded user fails here with nothing consumed.
	goldCost, stoneCost := balance.EnhancementCost(weapon.Level)
	if err := s.store.DebitBalance(ctx, userID, goldCost, stoneCost); err != nil {
		return nil, err
	}

	effect, err := s.pool.Draw(ctx)
	if err != nil {
		// The attempt is already paid for; proceed without a modifier
		// rather than stranding the player's gold.
		slog.Error("pool draw failed, attempting unmodified", "user", userID, "err", err)
		effect = model.EffectNone
	}

	rates := ComputeRates(weapon.Level, effect)
	outcome := s.classify(rates)

	fromLevel := weapon.Level
	var newLevel *int

	switch outcome {
	case model.EnhanceSuccess:
		level := fromLevel + 1
		if s.doubleJump(ctx, weapon) && level+1 <= balance.MaxEnhancementLevel {
			level++
		}
		if err := s.store.SetWeaponLevel(ctx, weapon.ID, level); err != nil {
			return nil, err
		}
		newLevel = &level
		s.notifySeason(ctx, userID, level)

	case model.EnhanceMaintain:
		level := fromLevel
		newLevel = &level

	case model.EnhanceDestroyed:
		if err := s.store.DestroyWeapon(ctx, weapon.ID, time.Now().UTC()); err != nil {
			return nil, err
		}
		metrics.WeaponsDestroyed.Inc()
	}

	metrics.EnhancementsTotal.WithLabelValues(string(outcome), string(effect)).Inc()

	rec := &model.EnhancementRecord{
		ID:        uuid.New().String(),
		WeaponID:  weapon.ID,
		UserID:    userID,
		FromLevel: fromLevel,
		ToLevel:   newLevel,
		Result:    outcome,
		Rates:     rates,
		Effect:    effect,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertEnhancementRecord(ctx, rec); err != nil {
		// Best-effort audit trail; the weapon mutation already happened.
		slog.Error("enhancement history write failed", "user", userID, "weapon", weapon.ID, "err", err)
	}

	slog.Info("enhancement resolved",
		"user", userID,
		"weapon", weapon.ID,
		"from_level", fromLevel,
		"result", outcome,
		"effect", effect,
		"success_rate", rates.Success,
		"destruction_rate", rates.Destruction,
	)

	s.hub.Broadcast(feed.Event{
		Type:     "enhance_result",
		UserID:   userID,
		Result:   string(outcome),
		NewLevel: newLevel,
	})

	return &Result{
		Result:    outcome,
		NewLevel:  newLevel,
		FromLevel: fromLevel,
		Rates:     rates,
		Effect:    effect,
		GoldCost:  goldCost,
		StoneCost: stoneCost,
	}, nil
}

// History returns a user's most recent enhancement attempts.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]model.EnhancementRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListEnhancementHistory(ctx, userID, limit)
}

// classify rolls [0,100) against the cumulative bands.
func (s *Service) classify(rates model.Rates) model.EnhanceResult {
	roll := s.roll() * 100
	switch {
	case roll < float64(rates.Success):
		return model.EnhanceSuccess
	case roll < float64(rates.Success+rates.Maintain):
		return model.EnhanceMaintain
	default:
		return model.EnhanceDestroyed
	}
}

// doubleJump rolls the template's bonus chance for a +2 level jump.
// Independent of the outcome roll; only eligible templates ever roll.
func (s *Service) doubleJump(ctx context.Context, weapon *model.Weapon) bool {
	tpl, err := s.store.GetTemplate(ctx, weapon.TemplateID)
	if err != nil {
		slog.Warn("template lookup failed, skipping double jump", "weapon", weapon.ID, "err", err)
		return false
	}
	if !tpl.DoubleJump {
		return false
	}
	return s.roll()*100 < float64(tpl.DoubleJumpRate)
}

// notifySeason pushes a new level to the season's max-level leaderboard
// when a season is active. Losing the notification would only stale the
// secondary leaderboard, so failures are logged, not returned.
func (s *Service) notifySeason(ctx context.Context, userID string, level int) {
	if s.ledger == nil {
		return
	}
	season, err := s.ledger.CurrentSeason(ctx)
	if err != nil || season == nil {
		return
	}
	if err := s.ledger.ObserveMaxLevel(ctx, season.ID, userID, level); err != nil {
		slog.Error("max level notification failed", "user", userID, "level", level, "err", err)
	}
}

// --- HTTP Handlers ---

type attemptRequest struct {
	UserID string `json:"user_id"`
}

// HandleAttempt handles POST /api/v1/enhance/{weaponID}
func (s *Service) HandleAttempt(w http.ResponseWriter, r *http.Request) {
	weaponID := chi.URLParam(r, "weaponID")

	var req attemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		httpx.WriteError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	res, err := s.Attempt(r.Context(), req.UserID, weaponID)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandleHistory handles GET /api/v1/enhance/history?user_id=&limit=
func (s *Service) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		httpx.WriteError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	history, err := s.History(r.Context(), userID, limit)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	if history == nil {
		history = []model.EnhancementRecord{}
	}
	httpx.WriteJSON(w, http.StatusOK, history)
}

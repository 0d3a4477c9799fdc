// Package prayer implements the shared effect pool: players pray to feed a
// global three-bucket counter, and enhancement attempts draw one unit from
// it to bias their rates. The pool itself lives in the live store; all
// bucket arithmetic there is atomic, so this service only rolls which kind
// a prayer generates and records history.
package prayer

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/weaponforge/economy-engine/internal/balance"
	"github.com/weaponforge/economy-engine/internal/feed"
	"github.com/weaponforge/economy-engine/internal/httpx"
	"github.com/weaponforge/economy-engine/internal/metrics"
	"github.com/weaponforge/economy-engine/internal/model"
	"github.com/weaponforge/economy-engine/internal/store"
)

// Service handles prayer contributions and pool draws.
type Service struct {
	store store.Store
	live  store.Live
	hub   *feed.Hub

	// roll yields uniform [0,1) values for the generation roll. Tests
	// replace it to script outcomes.
	roll func() float64
}

// NewService creates a prayer service. Pass nil for hub if live
// broadcasting is not needed.
func NewService(st store.Store, live store.Live, hub *feed.Hub) *Service {
	return &Service{
		store: st,
		live:  live,
		hub:   hub,
		roll:  rand.Float64,
	}
}

// Init makes sure the pool exists. Idempotent; called on every start.
func (s *Service) Init(ctx context.Context) error {
	return s.live.InitPool(ctx)
}

// PrayResult is returned from a prayer contribution. The generated kind is
// deliberately not revealed to the player; only the pool size is.
type PrayResult struct {
	Message  string `json:"message"`
	PoolSize int    `json:"pool_size"`
}

// Pray rolls a contribution kind (30% positive, 30% negative, 40% neutral),
// adds it to the global pool unless that bucket is at its cap, and records
// the contribution. A capped drop is silent: the prayer still "happened"
// from the player's point of view.
func (s *Service) Pray(ctx context.Context, userID string) (*PrayResult, error) {
	kind := s.generateKind()

	accepted, err := s.live.ContributeEffect(ctx, kind)
	if err != nil {
		return nil, err
	}
	metrics.PrayersTotal.WithLabelValues(string(kind), strconv.FormatBool(accepted)).Inc()

	rec := &model.PrayerRecord{
		ID:        uuid.New().String(),
		UserID:    userID,
		Kind:      kind,
		Consumed:  false,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertPrayerRecord(ctx, rec); err != nil {
		// History is a best-effort audit trail; the contribution already
		// landed in the pool, so report it and keep going.
		slog.Error("prayer history write failed", "user", userID, "err", err)
	}

	stats, err := s.live.PoolStats(ctx)
	if err != nil {
		return nil, err
	}
	s.publishPool(stats)

	slog.Info("prayer offered", "user", userID, "kind", kind, "accepted", accepted, "pool_total", stats.Total)

	return &PrayResult{
		Message:  "Your prayer rises into the pool...",
		PoolSize: stats.Total,
	}, nil
}

// Draw consumes one effect from the pool for an enhancement attempt.
// Returns EffectNone on an empty pool; callers treat that as "no modifier",
// never as an error.
func (s *Service) Draw(ctx context.Context) (model.EffectKind, error) {
	kind, err := s.live.DrawEffect(ctx)
	if err != nil {
		return model.EffectNone, err
	}
	if kind != model.EffectNone {
		if stats, err := s.live.PoolStats(ctx); err == nil {
			s.publishPool(stats)
		}
	}
	return kind, nil
}

// Stats returns the current pool counters.
func (s *Service) Stats(ctx context.Context) (model.PoolStats, error) {
	return s.live.PoolStats(ctx)
}

func (s *Service) generateKind() model.EffectKind {
	roll := s.roll() * 100
	switch {
	case roll < balance.PrayPositiveRate:
		return model.EffectPositive
	case roll < balance.PrayPositiveRate+balance.PrayNegativeRate:
		return model.EffectNegative
	default:
		return model.EffectNeutral
	}
}

func (s *Service) publishPool(stats model.PoolStats) {
	metrics.PoolSize.WithLabelValues("positive").Set(float64(stats.Positive))
	metrics.PoolSize.WithLabelValues("negative").Set(float64(stats.Negative))
	metrics.PoolSize.WithLabelValues("neutral").Set(float64(stats.Neutral))

	s.hub.Broadcast(feed.Event{
		Type:         "pool_update",
		PoolPositive: stats.Positive,
		PoolNegative: stats.Negative,
		PoolNeutral:  stats.Neutral,
		PoolTotal:    stats.Total,
	})
}

// --- HTTP Handlers ---

type prayRequest struct {
	UserID string `json:"user_id"`
}

// HandlePray handles POST /api/v1/pray
func (s *Service) HandlePray(w http.ResponseWriter, r *http.Request) {
	var req prayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		httpx.WriteError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	res, err := s.Pray(r.Context(), req.UserID)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandlePoolStats handles GET /api/v1/pool
func (s *Service) HandlePoolStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Stats(r.Context())
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}

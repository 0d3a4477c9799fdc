// Package season owns the season lifecycle, the live per-season
// leaderboards, and settlement. Seasons move strictly forward through
// upcoming -> active -> settling -> completed; every transition is a
// compare-and-swap in the durable store, which is what makes settlement
// idempotent under concurrent invocation.
package season

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/weaponforge/economy-engine/internal/feed"
	"github.com/weaponforge/economy-engine/internal/httpx"
	"github.com/weaponforge/economy-engine/internal/metrics"
	"github.com/weaponforge/economy-engine/internal/model"
	"github.com/weaponforge/economy-engine/internal/store"
)

const (
	// Settlement window: Monday 00:00-07:59 local time. Battles are
	// blocked during this window no matter what state any season is in.
	settlementWeekday   = time.Monday
	settlementEndHour   = 8 // exclusive
	snapshotLimit       = 100
	settlementCheckSpan = time.Minute
)

// Service is the season and ranking ledger.
type Service struct {
	store store.Store
	live  store.Live
	hub   *feed.Hub

	// now is the clock; tests freeze it.
	now func() time.Time
}

// NewService creates a season service. Pass nil for hub if live
// broadcasting is not needed.
func NewService(st store.Store, live store.Live, hub *feed.Hub) *Service {
	return &Service{
		store: st,
		live:  live,
		hub:   hub,
		now:   time.Now,
	}
}

// StartChecker registers the per-minute transition check on a gocron
// scheduler and starts it. The returned scheduler should be shut down on
// process exit.
func (s *Service) StartChecker() (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(settlementCheckSpan),
		gocron.NewTask(func() {
			if err := s.CheckTransitions(context.Background()); err != nil {
				slog.Error("season transition check failed", "err", err)
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	sched.Start()
	return sched, nil
}

// CheckTransitions promotes upcoming seasons whose window has opened and
// settles active seasons whose window has closed. Driven by the periodic
// checker; safe to run concurrently because every transition is guarded.
func (s *Service) CheckTransitions(ctx context.Context) error {
	now := s.now()

	upcoming, err := s.store.ListSeasonsByStatus(ctx, model.SeasonUpcoming)
	if err != nil {
		return err
	}
	for _, season := range upcoming {
		if now.Before(season.StartAt) || now.After(season.EndAt) {
			continue
		}
		ok, err := s.store.TransitionSeason(ctx, season.ID, model.SeasonUpcoming, model.SeasonActive)
		if err != nil {
			return err
		}
		if ok {
			slog.Info("season activated", "season", season.Number, "id", season.ID)
			metrics.ActiveSeason.Set(float64(season.Number))
			s.hub.Broadcast(feed.Event{Type: "season_update", SeasonID: season.ID, SeasonStatus: string(model.SeasonActive)})
		}
	}

	active, err := s.store.ListSeasonsByStatus(ctx, model.SeasonActive)
	if err != nil {
		return err
	}
	for _, season := range active {
		if now.Before(season.EndAt) {
			continue
		}
		if err := s.Settle(ctx, season.ID); err != nil {
			slog.Error("season settlement failed", "season", season.Number, "err", err)
		}
	}
	return nil
}

// InSettlementWindow reports whether t falls inside the weekly settlement
// window (Monday 00:00-07:59 local).
func InSettlementWindow(t time.Time) bool {
	return t.Weekday() == settlementWeekday && t.Hour() < settlementEndHour
}

// CurrentSeason returns the season battles and enhancements should be
// scored against right now: the settling season during the settlement
// window, otherwise the active one. Returns (nil, nil) when no season
// applies.
func (s *Service) CurrentSeason(ctx context.Context) (*model.Season, error) {
	if InSettlementWindow(s.now()) {
		settling, err := s.store.ListSeasonsByStatus(ctx, model.SeasonSettling)
		if err != nil {
			return nil, err
		}
		if len(settling) > 0 {
			last := settling[len(settling)-1]
			return &last, nil
		}
		return nil, nil
	}

	active, err := s.store.ListSeasonsByStatus(ctx, model.SeasonActive)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}
	// At most one season is ever active; take the newest as a safety net.
	last := active[len(active)-1]
	return &last, nil
}

// Status reports whether battles may currently be entered.
type Status struct {
	Active   bool          `json:"active"`
	Settling bool          `json:"settling"`
	Season   *model.Season `json:"season,omitempty"`
}

// CurrentStatus returns the live season status. Battles require Active
// and not Settling.
func (s *Service) CurrentStatus(ctx context.Context) (Status, error) {
	season, err := s.CurrentSeason(ctx)
	if err != nil {
		return Status{}, err
	}
	settling := InSettlementWindow(s.now())
	return Status{
		Active:   season != nil && season.Status == model.SeasonActive && !settling,
		Settling: settling,
		Season:   season,
	}, nil
}

// Create persists a new upcoming season. Admin operation.
func (s *Service) Create(ctx context.Context, number int, startAt, endAt time.Time, rewardTemplateID *int64) (*model.Season, error) {
	if !endAt.After(startAt) {
		return nil, fmt.Errorf("%w: season end must be after start", model.ErrInvalidState)
	}
	season := &model.Season{
		Number:           number,
		StartAt:          startAt,
		EndAt:            endAt,
		Status:           model.SeasonUpcoming,
		RewardTemplateID: rewardTemplateID,
	}
	if err := s.store.CreateSeason(ctx, season); err != nil {
		return nil, err
	}
	slog.Info("season created", "season", number, "start", startAt, "end", endAt)
	return season, nil
}

// Settle finalizes a season: snapshot the live leaderboard into durable
// storage, mail the reward weapon to the top-ranked player, and mark the
// season completed. Idempotent: a season already settling or completed is
// a no-op, so concurrent invocations pay the reward at most once.
func (s *Service) Settle(ctx context.Context, seasonID int64) error {
	season, err := s.store.GetSeason(ctx, seasonID)
	if err != nil {
		return err
	}

	claimed, err := s.store.TransitionSeason(ctx, seasonID, model.SeasonActive, model.SeasonSettling)
	if err != nil {
		return err
	}
	if !claimed {
		// Re-read: the pre-claim snapshot may be stale under a race.
		season, err = s.store.GetSeason(ctx, seasonID)
		if err != nil {
			return err
		}
		switch season.Status {
		case model.SeasonSettling, model.SeasonCompleted:
			return nil // someone else is settling or already has
		default:
			return fmt.Errorf("%w: season %d is %s, not active", model.ErrInvalidState, seasonID, season.Status)
		}
	}

	slog.Info("settling season", "season", season.Number, "id", seasonID)
	s.hub.Broadcast(feed.Event{Type: "season_update", SeasonID: seasonID, SeasonStatus: string(model.SeasonSettling)})

	rankings, err := s.live.TopRankings(ctx, seasonID, snapshotLimit, model.RankByPoints)
	if err != nil {
		return fmt.Errorf("settle season %d: %w", seasonID, err)
	}

	for i := range rankings {
		if err := s.store.SnapshotRanking(ctx, &rankings[i]); err != nil {
			return fmt.Errorf("settle season %d: snapshot %s: %w", seasonID, rankings[i].UserID, err)
		}
	}

	if len(rankings) > 0 && season.RewardTemplateID != nil {
		if err := s.sendTopReward(ctx, season, rankings[0].UserID); err != nil {
			// The settling claim is already ours; surface the failure so
			// the operator can re-run Settle by hand. Status stays
			// settling, so the retry path re-enters here, and the
			// idempotent claim above no-ops for everyone else.
			return fmt.Errorf("settle season %d: reward delivery: %w", seasonID, err)
		}
	}

	if _, err := s.store.TransitionSeason(ctx, seasonID, model.SeasonSettling, model.SeasonCompleted); err != nil {
		return err
	}
	metrics.SettlementsTotal.Inc()
	metrics.ActiveSeason.Set(0)
	s.hub.Broadcast(feed.Event{Type: "season_update", SeasonID: seasonID, SeasonStatus: string(model.SeasonCompleted)})
	slog.Info("season settled", "season", season.Number, "participants", len(rankings))
	return nil
}

func (s *Service) sendTopReward(ctx context.Context, season *model.Season, userID string) error {
	reward := &model.MailReward{
		ID:         uuid.New().String(),
		UserID:     userID,
		Title:      fmt.Sprintf("Season %d Rank 1 Reward!", season.Number),
		Body:       fmt.Sprintf("Congratulations! You ranked #1 in season %d. Your champion's weapon awaits.", season.Number),
		TemplateID: *season.RewardTemplateID,
		ExpiresAt:  nextSeasonEnd(s.now()),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.DeliverMailReward(ctx, reward); err != nil {
		return err
	}
	slog.Info("season reward delivered", "season", season.Number, "user", userID)
	return nil
}

// nextSeasonEnd returns the upcoming Sunday 23:59:59 local, the boundary
// the reward mail expires at.
func nextSeasonEnd(from time.Time) time.Time {
	days := (int(time.Sunday) - int(from.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	end := from.AddDate(0, 0, days)
	return time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, end.Location())
}

// Rankings returns the top limit live entries for a season sorted by the
// given metric.
func (s *Service) Rankings(ctx context.Context, seasonID int64, limit int, by model.RankMetric) ([]model.RankingEntry, error) {
	if limit <= 0 || limit > snapshotLimit {
		limit = snapshotLimit
	}
	if by != model.RankByMaxLevel {
		by = model.RankByPoints
	}
	if _, err := s.store.GetSeason(ctx, seasonID); err != nil {
		return nil, err
	}
	return s.live.TopRankings(ctx, seasonID, limit, by)
}

// --- Season-scoped stats used by the battle coordinator ---

// Streak returns a user's current win streak.
func (s *Service) Streak(ctx context.Context, seasonID int64, userID string) (int, error) {
	return s.live.GetStreak(ctx, seasonID, userID)
}

// RecordWin bumps the winner's streak (raising the best-streak watermark)
// and win counter, returning the new streak.
func (s *Service) RecordWin(ctx context.Context, seasonID int64, userID string) (int, error) {
	streak, err := s.live.IncrementStreak(ctx, seasonID, userID)
	if err != nil {
		return 0, err
	}
	if err := s.live.RecordBattleStat(ctx, seasonID, userID, true); err != nil {
		return 0, err
	}
	return streak, nil
}

// RecordLoss resets the loser's streak and bumps their loss counter.
func (s *Service) RecordLoss(ctx context.Context, seasonID int64, userID string) error {
	if err := s.live.ResetStreak(ctx, seasonID, userID); err != nil {
		return err
	}
	return s.live.RecordBattleStat(ctx, seasonID, userID, false)
}

// AwardPoints adds leaderboard points and returns the user's new total.
func (s *Service) AwardPoints(ctx context.Context, seasonID int64, userID string, points int) (int, error) {
	return s.live.AddPoints(ctx, seasonID, userID, points)
}

// EnsureRanked registers a user with zero points so losers still appear
// on the leaderboard.
func (s *Service) EnsureRanked(ctx context.Context, seasonID int64, userID string) error {
	return s.live.EnsureRanked(ctx, seasonID, userID)
}

// ObserveMaxLevel records a new season-highest enhancement level for the
// secondary leaderboard.
func (s *Service) ObserveMaxLevel(ctx context.Context, seasonID int64, userID string, level int) error {
	raised, err := s.live.ObserveMaxLevel(ctx, seasonID, userID, level)
	if err != nil {
		return err
	}
	if raised {
		slog.Info("season max level raised", "season", seasonID, "user", userID, "level", level)
	}
	return nil
}

// --- HTTP Handlers ---

// HandleCurrent handles GET /api/v1/seasons/current
func (s *Service) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	status, err := s.CurrentStatus(r.Context())
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	if status.Season == nil {
		httpx.WriteError(w, "no current season", http.StatusNotFound)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, status)
}

// HandleRankings handles GET /api/v1/seasons/{seasonID}/rankings?limit=&sort_by=
func (s *Service) HandleRankings(w http.ResponseWriter, r *http.Request) {
	seasonID, err := strconv.ParseInt(chi.URLParam(r, "seasonID"), 10, 64)
	if err != nil {
		httpx.WriteError(w, "invalid season id", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	by := model.RankMetric(r.URL.Query().Get("sort_by"))

	rankings, err := s.Rankings(r.Context(), seasonID, limit, by)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	if rankings == nil {
		rankings = []model.RankingEntry{}
	}
	httpx.WriteJSON(w, http.StatusOK, rankings)
}

type createRequest struct {
	Number           int       `json:"number"`
	StartAt          time.Time `json:"start_at"`
	EndAt            time.Time `json:"end_at"`
	RewardTemplateID *int64    `json:"reward_template_id"`
}

// HandleCreate handles POST /api/v1/admin/seasons
func (s *Service) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	season, err := s.Create(r.Context(), req.Number, req.StartAt, req.EndAt, req.RewardTemplateID)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, season)
}

// HandleSettle handles POST /api/v1/admin/seasons/{seasonID}/settle
func (s *Service) HandleSettle(w http.ResponseWriter, r *http.Request) {
	seasonID, err := strconv.ParseInt(chi.URLParam(r, "seasonID"), 10, 64)
	if err != nil {
		httpx.WriteError(w, "invalid season id", http.StatusBadRequest)
		return
	}
	if err := s.Settle(r.Context(), seasonID); err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

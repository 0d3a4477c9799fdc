package battle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/weaponforge/economy-engine/internal/model"
	"github.com/weaponforge/economy-engine/internal/store"
)

// fakeLedger backs the season-scoped state with a MemoryLive so streak
// and point semantics match production.
type fakeLedger struct {
	current *model.Season
	live    *store.MemoryLive
}

func (f *fakeLedger) CurrentSeason(context.Context) (*model.Season, error) {
	return f.current, nil
}

func (f *fakeLedger) RecordWin(ctx context.Context, seasonID int64, userID string) (int, error) {
	streak, err := f.live.IncrementStreak(ctx, seasonID, userID)
	if err != nil {
		return 0, err
	}
	return streak, f.live.RecordBattleStat(ctx, seasonID, userID, true)
}

func (f *fakeLedger) RecordLoss(ctx context.Context, seasonID int64, userID string) error {
	if err := f.live.ResetStreak(ctx, seasonID, userID); err != nil {
		return err
	}
	return f.live.RecordBattleStat(ctx, seasonID, userID, false)
}

func (f *fakeLedger) AwardPoints(ctx context.Context, seasonID int64, userID string, points int) (int, error) {
	return f.live.AddPoints(ctx, seasonID, userID, points)
}

func (f *fakeLedger) EnsureRanked(ctx context.Context, seasonID int64, userID string) error {
	return f.live.EnsureRanked(ctx, seasonID, userID)
}

// wednesdayNoon is safely outside the Monday settlement window.
var wednesdayNoon = time.Date(2025, 8, 20, 12, 0, 0, 0, time.Local)

func scriptRolls(t *testing.T, vals ...float64) func() float64 {
	t.Helper()
	i := 0
	return func() float64 {
		if i >= len(vals) {
			t.Fatalf("roll source exhausted after %d draws", len(vals))
		}
		v := vals[i]
		i++
		return v
	}
}

func newTestEnv(t *testing.T) (*Service, *store.MemoryStore, *store.MemoryLive) {
	t.Helper()
	ms := store.NewMemoryStore()
	live := store.NewMemoryLive()
	ledger := &fakeLedger{
		current: &model.Season{ID: 1, Number: 1, Status: model.SeasonActive},
		live:    live,
	}
	svc := NewService(ms, live, ledger, nil)
	svc.now = func() time.Time { return wednesdayNoon }
	return svc, ms, live
}

func seedFighter(t *testing.T, ms *store.MemoryStore, userID, weaponID string, level int, gold int64) {
	t.Helper()
	ms.PutUser(&model.User{ID: userID, Username: userID, Gold: gold})
	ms.PutWeapon(&model.Weapon{
		ID:       weaponID,
		UserID:   userID,
		Level:    level,
		Equipped: true,
	})
}

// seedArena sets up a level-10 challenger and opponents at levels 7, 8, 9,
// and 13. Candidate order is by user id, so the roulette sees weights
// 1, 2, 3, 1 (total 7).
func seedArena(t *testing.T, ms *store.MemoryStore) {
	t.Helper()
	seedFighter(t, ms, "u1", "w1", 10, 1000)
	seedFighter(t, ms, "u2", "w2", 7, 500)
	seedFighter(t, ms, "u3", "w3", 8, 500)
	seedFighter(t, ms, "u4", "w4", 9, 500)
	seedFighter(t, ms, "u5", "w5", 13, 500)
}

func TestEnter_CreatesMatch(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedArena(t, ms)
	svc.roll = scriptRolls(t, 0.0) // roulette unit 0 of 7, the level-7 opponent

	match, err := svc.Enter(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	if match.OpponentID != "u2" || match.OpponentLevel != 7 {
		t.Errorf("opponent = %s level %d, want u2 level 7", match.OpponentID, match.OpponentLevel)
	}
	if match.WinRate != 74 {
		t.Errorf("win rate = %d, want 74 for +3 level diff", match.WinRate)
	}

	u, _ := ms.GetUser(context.Background(), "u1")
	if u.Gold != 900 {
		t.Errorf("gold = %d, want 900 after entry fee", u.Gold)
	}

	// Entering again while a match is pending is rejected.
	if _, err := svc.Enter(context.Background(), "u1"); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("second enter: err = %v, want ErrInvalidState", err)
	}
}

func TestEnter_RouletteReachesAllCandidates(t *testing.T) {
	// Cumulative weights over (u2:1, u3:2, u4:3, u5:1) are 1, 3, 6, 7.
	tests := []struct {
		roll float64
		want string
	}{
		{0.0, "u2"},       // unit 0
		{1.5 / 7.0, "u3"}, // unit 1
		{3.5 / 7.0, "u4"}, // unit 3
		{6.5 / 7.0, "u5"}, // unit 6
	}
	for _, tt := range tests {
		svc, ms, _ := newTestEnv(t)
		seedArena(t, ms)
		svc.roll = scriptRolls(t, tt.roll)

		match, err := svc.Enter(context.Background(), "u1")
		if err != nil {
			t.Fatalf("Enter at roll %.3f failed: %v", tt.roll, err)
		}
		if match.OpponentID != tt.want {
			t.Errorf("roll %.3f: opponent = %s, want %s", tt.roll, match.OpponentID, tt.want)
		}
	}
}

func TestEnter_NoOpponentRefundsFee(t *testing.T) {
	svc, ms, live := newTestEnv(t)
	seedFighter(t, ms, "u1", "w1", 10, 1000)

	_, err := svc.Enter(context.Background(), "u1")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	u, _ := ms.GetUser(context.Background(), "u1")
	if u.Gold != 1000 {
		t.Errorf("gold = %d, want 1000 after refund", u.Gold)
	}
	// The in-match flag was released.
	if ok, _ := live.MarkInMatch(context.Background(), "u1"); !ok {
		t.Error("in-match flag still held after failed enter")
	}
}

func TestEnter_SettlementWindowBlocks(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedArena(t, ms)
	svc.now = func() time.Time {
		return time.Date(2025, 8, 18, 3, 0, 0, 0, time.Local) // Monday 03:00
	}

	if _, err := svc.Enter(context.Background(), "u1"); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState during settlement window", err)
	}
}

func TestEnter_NoActiveSeason(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedArena(t, ms)
	svc.ledger.(*fakeLedger).current = nil

	if _, err := svc.Enter(context.Background(), "u1"); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState with no season", err)
	}
}

func TestEnter_NoEquippedWeapon(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ms.PutUser(&model.User{ID: "u1", Username: "u1", Gold: 1000})

	if _, err := svc.Enter(context.Background(), "u1"); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState with no weapon", err)
	}
}

func TestEnter_InsufficientGold(t *testing.T) {
	svc, ms, live := newTestEnv(t)
	seedArena(t, ms)
	ms.PutUser(&model.User{ID: "u1", Username: "u1", Gold: 50})

	if _, err := svc.Enter(context.Background(), "u1"); !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if ok, _ := live.MarkInMatch(context.Background(), "u1"); !ok {
		t.Error("in-match flag still held after failed debit")
	}
}

func TestExecute_Win(t *testing.T) {
	svc, ms, live := newTestEnv(t)
	seedArena(t, ms)
	svc.roll = scriptRolls(t, 0.0, 0.70) // opponent u2, then 70 < 74 wins

	match, err := svc.Enter(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	outcome, err := svc.Execute(context.Background(), "u1", match.ID)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !outcome.Won || outcome.WinnerID != "u1" {
		t.Errorf("outcome = %+v, want u1 win", outcome)
	}
	if outcome.Streak != 1 {
		t.Errorf("streak = %d, want 1", outcome.Streak)
	}
	if outcome.GoldEarned != 500 || outcome.PointsEarned != 12 {
		t.Errorf("rewards = %d gold %d points, want 500/12", outcome.GoldEarned, outcome.PointsEarned)
	}

	u1, _ := ms.GetUser(context.Background(), "u1")
	if u1.Gold != 1400 { // 1000 - 100 fee + 500 reward
		t.Errorf("winner gold = %d, want 1400", u1.Gold)
	}
	u2, _ := ms.GetUser(context.Background(), "u2")
	if u2.Gold != 550 { // 500 + 50 consolation
		t.Errorf("loser gold = %d, want 550", u2.Gold)
	}

	rankings, _ := live.TopRankings(context.Background(), 1, 10, model.RankByPoints)
	if len(rankings) != 2 {
		t.Fatalf("rankings length = %d, want 2", len(rankings))
	}
	if rankings[0].UserID != "u1" || rankings[0].Points != 12 || rankings[0].Wins != 1 {
		t.Errorf("top entry = %+v, want u1 with 12 points and 1 win", rankings[0])
	}
	if rankings[1].UserID != "u2" || rankings[1].Losses != 1 {
		t.Errorf("second entry = %+v, want u2 with 1 loss", rankings[1])
	}
}

func TestExecute_Loss(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedArena(t, ms)
	svc.roll = scriptRolls(t, 0.0, 0.80) // 80 >= 74 loses

	match, err := svc.Enter(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	outcome, err := svc.Execute(context.Background(), "u1", match.ID)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if outcome.Won || outcome.WinnerID != "u2" {
		t.Errorf("outcome = %+v, want u2 win", outcome)
	}
	if outcome.GoldEarned != 50 {
		t.Errorf("consolation = %d, want 50", outcome.GoldEarned)
	}

	u1, _ := ms.GetUser(context.Background(), "u1")
	if u1.Gold != 950 { // 1000 - 100 fee + 50 consolation
		t.Errorf("loser gold = %d, want 950", u1.Gold)
	}
	u2, _ := ms.GetUser(context.Background(), "u2")
	if u2.Gold != 1000 { // 500 + 500 reward
		t.Errorf("winner gold = %d, want 1000", u2.Gold)
	}
}

func TestExecute_StreakMilestoneGold(t *testing.T) {
	svc, ms, live := newTestEnv(t)
	seedArena(t, ms)

	// Two prior wins; the third pays the streak-3 milestone bonus.
	live.IncrementStreak(context.Background(), 1, "u1")
	live.IncrementStreak(context.Background(), 1, "u1")

	svc.roll = scriptRolls(t, 0.0, 0.10)
	match, err := svc.Enter(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	outcome, err := svc.Execute(context.Background(), "u1", match.ID)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if outcome.Streak != 3 {
		t.Errorf("streak = %d, want 3", outcome.Streak)
	}
	if outcome.GoldEarned != 700 { // 500 base + 200 milestone
		t.Errorf("gold = %d, want 700 at streak 3", outcome.GoldEarned)
	}
	if outcome.PointsEarned != 16 { // 10 + 2×3
		t.Errorf("points = %d, want 16 at streak 3", outcome.PointsEarned)
	}
}

// flakyLedger fails the first call to each write before delegating, the
// shape of a transient fast-store hiccup.
type flakyLedger struct {
	*fakeLedger
	winFailures   int
	lossFailures  int
	rankFailures  int
	pointFailures int
}

func (f *flakyLedger) RecordWin(ctx context.Context, seasonID int64, userID string) (int, error) {
	if f.winFailures > 0 {
		f.winFailures--
		return 0, errors.New("transient ledger failure")
	}
	return f.fakeLedger.RecordWin(ctx, seasonID, userID)
}

func (f *flakyLedger) RecordLoss(ctx context.Context, seasonID int64, userID string) error {
	if f.lossFailures > 0 {
		f.lossFailures--
		return errors.New("transient ledger failure")
	}
	return f.fakeLedger.RecordLoss(ctx, seasonID, userID)
}

func (f *flakyLedger) EnsureRanked(ctx context.Context, seasonID int64, userID string) error {
	if f.rankFailures > 0 {
		f.rankFailures--
		return errors.New("transient ledger failure")
	}
	return f.fakeLedger.EnsureRanked(ctx, seasonID, userID)
}

func (f *flakyLedger) AwardPoints(ctx context.Context, seasonID int64, userID string, points int) (int, error) {
	if f.pointFailures > 0 {
		f.pointFailures--
		return 0, errors.New("transient ledger failure")
	}
	return f.fakeLedger.AwardPoints(ctx, seasonID, userID, points)
}

func TestExecute_RetriesLedgerWrites(t *testing.T) {
	svc, ms, live := newTestEnv(t)
	seedArena(t, ms)
	flaky := &flakyLedger{
		fakeLedger:    svc.ledger.(*fakeLedger),
		winFailures:   1,
		lossFailures:  1,
		rankFailures:  1,
		pointFailures: 1,
	}
	svc.ledger = flaky
	svc.roll = scriptRolls(t, 0.0, 0.70) // opponent u2, then a win

	match, err := svc.Enter(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	outcome, err := svc.Execute(context.Background(), "u1", match.ID)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// Every ledger write landed on the second attempt.
	if outcome.Streak != 1 {
		t.Errorf("streak = %d, want 1 despite transient failure", outcome.Streak)
	}
	rankings, _ := live.TopRankings(context.Background(), 1, 10, model.RankByPoints)
	if len(rankings) != 2 {
		t.Fatalf("rankings length = %d, want 2", len(rankings))
	}
	if rankings[0].UserID != "u1" || rankings[0].Points != 12 || rankings[0].Wins != 1 {
		t.Errorf("winner entry = %+v, want 12 points and 1 win", rankings[0])
	}
	if rankings[1].UserID != "u2" || rankings[1].Losses != 1 {
		t.Errorf("loser entry = %+v, want registered with 1 loss", rankings[1])
	}
}

func TestExecute_MatchSingleUse(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedArena(t, ms)
	svc.roll = scriptRolls(t, 0.0, 0.10)

	match, err := svc.Enter(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	if _, err := svc.Execute(context.Background(), "u1", match.ID); err != nil {
		t.Fatalf("first execute failed: %v", err)
	}
	if _, err := svc.Execute(context.Background(), "u1", match.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("second execute: err = %v, want ErrNotFound", err)
	}
}

func TestExecute_WrongUserConflicts(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedArena(t, ms)
	svc.roll = scriptRolls(t, 0.0, 0.10)

	match, err := svc.Enter(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	if _, err := svc.Execute(context.Background(), "u2", match.ID); !errors.Is(err, model.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict for another user's match", err)
	}
	// The match survives the rejected take.
	if _, err := svc.Execute(context.Background(), "u1", match.ID); err != nil {
		t.Errorf("owner execute after conflict failed: %v", err)
	}
}

func TestExecute_UnknownMatch(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedArena(t, ms)

	if _, err := svc.Execute(context.Background(), "u1", "no-such-match"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestExecute_ClearsInMatch(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedArena(t, ms)
	svc.roll = scriptRolls(t, 0.0, 0.10, 0.0)

	match, err := svc.Enter(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	if _, err := svc.Execute(context.Background(), "u1", match.ID); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	// Free to enter a new battle.
	if _, err := svc.Enter(context.Background(), "u1"); err != nil {
		t.Errorf("re-enter after resolution failed: %v", err)
	}
}

func TestHistory_RecordsBattle(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedArena(t, ms)
	svc.roll = scriptRolls(t, 0.0, 0.70)

	match, _ := svc.Enter(context.Background(), "u1")
	if _, err := svc.Execute(context.Background(), "u1", match.ID); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	for _, userID := range []string{"u1", "u2"} {
		records, err := svc.History(context.Background(), userID, 0)
		if err != nil {
			t.Fatalf("History(%s) failed: %v", userID, err)
		}
		if len(records) != 1 {
			t.Fatalf("History(%s) length = %d, want 1", userID, len(records))
		}
		rec := records[0]
		if rec.WinnerID != "u1" || rec.LoserID != "u2" {
			t.Errorf("record = %+v, want u1 beat u2", rec)
		}
		if rec.WinRate != 74 || rec.SeasonID != 1 {
			t.Errorf("record win rate %d season %d, want 74 and season 1", rec.WinRate, rec.SeasonID)
		}
	}
}

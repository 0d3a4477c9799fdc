package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weaponforge/economy-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Balance debits use conditional UPDATEs so no check-then-write window
// exists between reading a balance and spending it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, gold, stones FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.Gold, &u.Stones)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", model.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &u, nil
}

func (s *PostgresStore) DebitBalance(ctx context.Context, userID string, gold, stones int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET gold = gold - $2, stones = stones - $3
		 WHERE id = $1 AND gold >= $2 AND stones >= $3`,
		userID, gold, stones)
	if err != nil {
		return fmt.Errorf("debit user %s: %w", userID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Distinguish a missing user from an underfunded one.
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return fmt.Errorf("debit user %s: %w", userID, err)
	}
	if !exists {
		return fmt.Errorf("%w: user %s", model.ErrNotFound, userID)
	}
	return fmt.Errorf("%w: need %d gold and %d stones", model.ErrInsufficientFunds, gold, stones)
}

func (s *PostgresStore) CreditGold(ctx context.Context, userID string, gold int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET gold = gold + $2 WHERE id = $1`, userID, gold)
	if err != nil {
		return fmt.Errorf("credit user %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", model.ErrNotFound, userID)
	}
	return nil
}

func (s *PostgresStore) GetWeapon(ctx context.Context, id, userID string) (*model.Weapon, error) {
	var w model.Weapon
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, template_id, level, equipped, destroyed, destroyed_at
		 FROM weapons WHERE id = $1 AND user_id = $2`, id, userID).
		Scan(&w.ID, &w.UserID, &w.TemplateID, &w.Level, &w.Equipped, &w.Destroyed, &w.DestroyedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: weapon %s", model.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get weapon %s: %w", id, err)
	}
	return &w, nil
}

func (s *PostgresStore) GetEquippedWeapon(ctx context.Context, userID string) (*model.Weapon, error) {
	var w model.Weapon
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, template_id, level, equipped, destroyed, destroyed_at
		 FROM weapons WHERE user_id = $1 AND equipped AND NOT destroyed`, userID).
		Scan(&w.ID, &w.UserID, &w.TemplateID, &w.Level, &w.Equipped, &w.Destroyed, &w.DestroyedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no weapon equipped for user %s", model.ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get equipped weapon for %s: %w", userID, err)
	}
	return &w, nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, id int64) (*model.WeaponTemplate, error) {
	var t model.WeaponTemplate
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, rarity, base_attack, double_jump, double_jump_rate
		 FROM weapon_templates WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Rarity, &t.BaseAttack, &t.DoubleJump, &t.DoubleJumpRate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: template %d", model.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get template %d: %w", id, err)
	}
	return &t, nil
}

func (s *PostgresStore) SetWeaponLevel(ctx context.Context, id string, level int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE weapons SET level = $2 WHERE id = $1 AND NOT destroyed`, id, level)
	if err != nil {
		return fmt.Errorf("set weapon %s level: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: weapon %s", model.ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) DestroyWeapon(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE weapons SET destroyed = TRUE, equipped = FALSE, destroyed_at = $2
		 WHERE id = $1 AND NOT destroyed`, id, at)
	if err != nil {
		return fmt.Errorf("destroy weapon %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: weapon %s", model.ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) ListBattleCandidates(ctx context.Context, excludeUser string, minLevel, maxLevel int) ([]Candidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT w.user_id, u.username, w.id, w.level
		 FROM weapons w
		 JOIN users u ON u.id = w.user_id
		 WHERE w.user_id != $1 AND w.equipped AND NOT w.destroyed
		   AND w.level BETWEEN $2 AND $3
		 ORDER BY w.user_id`,
		excludeUser, minLevel, maxLevel)
	if err != nil {
		return nil, fmt.Errorf("list battle candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.UserID, &c.Username, &c.WeaponID, &c.Level); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertPrayerRecord(ctx context.Context, rec *model.PrayerRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO prayer_history (id, user_id, kind, consumed, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.UserID, rec.Kind, rec.Consumed, rec.CreatedAt)
	return err
}

func (s *PostgresStore) InsertEnhancementRecord(ctx context.Context, rec *model.EnhancementRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO enhancement_history
		   (id, weapon_id, user_id, from_level, to_level, result,
		    success_rate, maintain_rate, destruction_rate, effect, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.WeaponID, rec.UserID, rec.FromLevel, rec.ToLevel, rec.Result,
		rec.Rates.Success, rec.Rates.Maintain, rec.Rates.Destruction, rec.Effect, rec.CreatedAt)
	return err
}

func (s *PostgresStore) InsertBattleRecord(ctx context.Context, rec *model.BattleRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO battle_records
		   (id, season_id, winner_id, loser_id, winner_weapon_id, loser_weapon_id,
		    winner_weapon_level, loser_weapon_level, win_rate,
		    winner_points, winner_gold, loser_gold, winner_streak, fought_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.ID, rec.SeasonID, rec.WinnerID, rec.LoserID, rec.WinnerWeaponID, rec.LoserWeaponID,
		rec.WinnerWeaponLevel, rec.LoserWeaponLevel, rec.WinRate,
		rec.WinnerPoints, rec.WinnerGold, rec.LoserGold, rec.WinnerStreak, rec.FoughtAt)
	return err
}

func (s *PostgresStore) ListEnhancementHistory(ctx context.Context, userID string, limit int) ([]model.EnhancementRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, weapon_id, user_id, from_level, to_level, result,
		        success_rate, maintain_rate, destruction_rate, effect, created_at
		 FROM enhancement_history
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list enhancement history: %w", err)
	}
	defer rows.Close()

	var out []model.EnhancementRecord
	for rows.Next() {
		var r model.EnhancementRecord
		if err := rows.Scan(&r.ID, &r.WeaponID, &r.UserID, &r.FromLevel, &r.ToLevel, &r.Result,
			&r.Rates.Success, &r.Rates.Maintain, &r.Rates.Destruction, &r.Effect, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListBattleHistory(ctx context.Context, userID string, limit int) ([]model.BattleRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, season_id, winner_id, loser_id, winner_weapon_id, loser_weapon_id,
		        winner_weapon_level, loser_weapon_level, win_rate,
		        winner_points, winner_gold, loser_gold, winner_streak, fought_at
		 FROM battle_records
		 WHERE winner_id = $1 OR loser_id = $1
		 ORDER BY fought_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list battle history: %w", err)
	}
	defer rows.Close()

	var out []model.BattleRecord
	for rows.Next() {
		var r model.BattleRecord
		if err := rows.Scan(&r.ID, &r.SeasonID, &r.WinnerID, &r.LoserID, &r.WinnerWeaponID, &r.LoserWeaponID,
			&r.WinnerWeaponLevel, &r.LoserWeaponLevel, &r.WinRate,
			&r.WinnerPoints, &r.WinnerGold, &r.LoserGold, &r.WinnerStreak, &r.FoughtAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateSeason(ctx context.Context, season *model.Season) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO seasons (number, start_at, end_at, status, reward_template_id)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		season.Number, season.StartAt, season.EndAt, season.Status, season.RewardTemplateID).
		Scan(&season.ID)
	if err != nil {
		return fmt.Errorf("create season %d: %w", season.Number, err)
	}
	return nil
}

func (s *PostgresStore) GetSeason(ctx context.Context, id int64) (*model.Season, error) {
	var season model.Season
	err := s.pool.QueryRow(ctx,
		`SELECT id, number, start_at, end_at, status, reward_template_id
		 FROM seasons WHERE id = $1`, id).
		Scan(&season.ID, &season.Number, &season.StartAt, &season.EndAt,
			&season.Status, &season.RewardTemplateID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: season %d", model.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get season %d: %w", id, err)
	}
	return &season, nil
}

func (s *PostgresStore) ListSeasonsByStatus(ctx context.Context, status model.SeasonStatus) ([]model.Season, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, number, start_at, end_at, status, reward_template_id
		 FROM seasons WHERE status = $1 ORDER BY number`, status)
	if err != nil {
		return nil, fmt.Errorf("list seasons: %w", err)
	}
	defer rows.Close()

	var out []model.Season
	for rows.Next() {
		var season model.Season
		if err := rows.Scan(&season.ID, &season.Number, &season.StartAt, &season.EndAt,
			&season.Status, &season.RewardTemplateID); err != nil {
			return nil, err
		}
		out = append(out, season)
	}
	return out, rows.Err()
}

// TransitionSeason is the status-machine guard: the UPDATE only fires when
// the season is still in the expected from status, so two concurrent
// settlers cannot both claim the transition.
func (s *PostgresStore) TransitionSeason(ctx context.Context, id int64, from, to model.SeasonStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE seasons SET status = $3 WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("transition season %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) SnapshotRanking(ctx context.Context, entry *model.RankingEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO season_rankings
		   (season_id, user_id, points, wins, losses, current_streak, best_streak, max_level)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (season_id, user_id) DO NOTHING`,
		entry.SeasonID, entry.UserID, entry.Points, entry.Wins, entry.Losses,
		entry.CurrentStreak, entry.BestStreak, entry.MaxLevel)
	return err
}

func (s *PostgresStore) DeliverMailReward(ctx context.Context, m *model.MailReward) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO mail (id, user_id, title, body, template_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.UserID, m.Title, m.Body, m.TemplateID, m.ExpiresAt, m.CreatedAt)
	return err
}

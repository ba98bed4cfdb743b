// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/tablehouse/perks/internal/domain"
	"modernc.org/sqlite"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRule stores a reward rule, replacing any existing rule with the same ID.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.RewardRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	windows, _ := json.Marshal(rule.Windows)
	var social []byte
	if rule.Social != nil {
		social, _ = json.Marshal(rule.Social)
	}

	active := 0
	if rule.Active {
		active = 1
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO reward_rules (
			id, name, description, active, spend_threshold, trigger_type,
			social_config, reward_type, reward_value, free_item_id,
			probability, max_per_user, validity_days, start_date, end_date,
			windows, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			active = excluded.active,
			spend_threshold = excluded.spend_threshold,
			trigger_type = excluded.trigger_type,
			social_config = excluded.social_config,
			reward_type = excluded.reward_type,
			reward_value = excluded.reward_value,
			free_item_id = excluded.free_item_id,
			probability = excluded.probability,
			max_per_user = excluded.max_per_user,
			validity_days = excluded.validity_days,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			windows = excluded.windows,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, active, rule.SpendThreshold, string(rule.Trigger),
		nullString(string(social)), string(rule.RewardType), rule.RewardValue, rule.FreeItemID,
		rule.Probability, rule.MaxPerUser, rule.ValidityDays, nullTime(rule.StartDate), nullTime(rule.EndDate),
		string(windows), rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// GetRule retrieves a rule by ID.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.RewardRule, error) {
	query := selectRule + ` WHERE id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rule, err
}

// ListRules retrieves every rule, newest first.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.RewardRule, error) {
	query := selectRule + ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.RewardRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ListActiveRules retrieves active rules for a trigger type. Campaign-window
// and threshold filtering happen in the eligibility filter, which owns that
// part of the semantics.
func (r *SQLRepository) ListActiveRules(ctx context.Context, trigger domain.TriggerType) ([]*domain.RewardRule, error) {
	query := selectRule + ` WHERE active = 1 AND trigger_type = ? ORDER BY spend_threshold DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), string(trigger))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.RewardRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// DeleteRule removes a rule definition. Issued rewards keep their copied
// values, so deletion never touches the rewards table.
func (r *SQLRepository) DeleteRule(ctx context.Context, ruleID string) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM reward_rules WHERE id = ?`), ruleID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// counterGuard increments the per-user-per-rule live-reward counter only
// while it is below the cap. Zero rows affected means the cap is reached.
// The row lock taken by the upsert serializes concurrent issuance for the
// same user and rule on PostgreSQL; SQLite serializes writers anyway.
const counterGuard = `
	INSERT INTO reward_counters (user_id, rule_id, issued) VALUES (?, ?, 1)
	ON CONFLICT (user_id, rule_id) DO UPDATE SET issued = reward_counters.issued + 1
	WHERE reward_counters.issued < ?
`

// CreateReward persists an issued reward atomically: cap guard, reward row,
// optional ledger credit, and the lifetime rewards-earned counter commit or
// roll back together. The unique index on (order_id, rule_id) makes a
// retried issuance for the same order a no-op: the whole unit rolls back
// and the caller gets ErrAlreadyIssued instead of a second credential.
func (r *SQLRepository) CreateReward(ctx context.Context, reward *domain.Reward, maxPerUser int, points *domain.PointsTransaction) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// The insert goes first so its unique indexes arbitrate before the cap
	// guard: a replayed issuance must report ErrAlreadyIssued even when
	// the user is at cap.
	insert := `
		INSERT INTO rewards (
			id, user_id, rule_id, order_id, tab_id, reward_type, reward_value,
			free_item_id, status, code, expires_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, r.rebind(insert),
		reward.ID, reward.UserID, reward.RuleID, reward.OrderID, reward.TabID,
		string(reward.RewardType), reward.RewardValue, reward.FreeItemID,
		string(reward.Status), reward.Code, reward.ExpiresAt, reward.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Release the connection before classifying; on PostgreSQL
			// the transaction is aborted at this point anyway.
			tx.Rollback()
			return r.classifyRewardConflict(ctx, reward)
		}
		return fmt.Errorf("failed to insert reward: %w", err)
	}

	if maxPerUser > 0 {
		result, err := tx.ExecContext(ctx, r.rebind(counterGuard), reward.UserID, reward.RuleID, maxPerUser)
		if err != nil {
			return fmt.Errorf("failed to update reward counter: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrCapReached
		}
	}

	if points != nil {
		if _, err := r.appendPointsTx(ctx, tx, points); err != nil {
			return err
		}
	}

	bump := `
		INSERT INTO users (id, loyalty_points, rewards_earned, updated_at) VALUES (?, 0, 1, ?)
		ON CONFLICT (id) DO UPDATE SET
			rewards_earned = users.rewards_earned + 1,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, r.rebind(bump), reward.UserID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to update rewards-earned counter: %w", err)
	}

	return tx.Commit()
}

// classifyRewardConflict tells a saga replay apart from a code collision
// after the rewards insert hit a unique index. A row for the same
// (order, rule) means replay; otherwise the fresh code collided.
func (r *SQLRepository) classifyRewardConflict(ctx context.Context, reward *domain.Reward) error {
	query := `SELECT id FROM rewards WHERE order_id = ? AND rule_id = ?`

	var id string
	err := r.db.QueryRowContext(ctx, r.rebind(query), reward.OrderID, reward.RuleID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrDuplicate
	}
	if err != nil {
		return err
	}
	return domain.ErrAlreadyIssued
}

// GetReward retrieves a reward by ID.
func (r *SQLRepository) GetReward(ctx context.Context, rewardID string) (*domain.Reward, error) {
	query := selectReward + ` WHERE id = ?`

	reward, err := scanReward(r.db.QueryRowContext(ctx, r.rebind(query), rewardID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return reward, err
}

// GetRewardByCode retrieves a reward by its credential code.
func (r *SQLRepository) GetRewardByCode(ctx context.Context, code string) (*domain.Reward, error) {
	query := selectReward + ` WHERE code = ?`

	reward, err := scanReward(r.db.QueryRowContext(ctx, r.rebind(query), code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return reward, err
}

// GetRewardForOrder retrieves the reward an order produced under a rule.
func (r *SQLRepository) GetRewardForOrder(ctx context.Context, orderID, ruleID string) (*domain.Reward, error) {
	query := selectReward + ` WHERE order_id = ? AND rule_id = ?`

	reward, err := scanReward(r.db.QueryRowContext(ctx, r.rebind(query), orderID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return reward, err
}

// ListUserRewards retrieves a user's rewards, newest first.
func (r *SQLRepository) ListUserRewards(ctx context.Context, userID string) ([]*domain.Reward, error) {
	query := selectReward + ` WHERE user_id = ? ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rewards []*domain.Reward
	for rows.Next() {
		reward, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		rewards = append(rewards, reward)
	}
	return rewards, rows.Err()
}

// CountUserRewardsForRule counts a user's active plus redeemed rewards for
// one rule.
func (r *SQLRepository) CountUserRewardsForRule(ctx context.Context, userID, ruleID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM rewards
		WHERE user_id = ? AND rule_id = ? AND status IN ('active', 'redeemed')
	`

	var count int
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID, ruleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count rewards: %w", err)
	}
	return count, nil
}

// RedeemReward performs the one-time active -> redeemed transition. The
// update is conditioned on the row still being active and unexpired, so
// exactly one of any set of concurrent callers wins. Rewards stay valid
// through expires_at inclusive, matching Reward.ExpiredAt.
func (r *SQLRepository) RedeemReward(ctx context.Context, rewardID, orderID string, now time.Time) error {
	query := `
		UPDATE rewards
		SET status = 'redeemed', redeemed_at = ?, redeemed_in_order_id = ?
		WHERE id = ? AND status = 'active' AND expires_at >= ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), now, orderID, rewardID, now)
	if err != nil {
		return fmt.Errorf("failed to redeem reward: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	// Lost the race or never qualified. Classify without mutating.
	reward, err := r.GetReward(ctx, rewardID)
	if err != nil {
		return err
	}
	switch {
	case reward.Status == domain.StatusRedeemed:
		return domain.ErrAlreadyRedeemed
	case reward.Status == domain.StatusExpired || reward.ExpiredAt(now):
		return domain.ErrExpired
	default:
		return domain.ErrAlreadyRedeemed
	}
}

// ExpireReward lazily flips a single overdue reward to expired and gives
// its cap slot back. Reports whether the row changed.
func (r *SQLRepository) ExpireReward(ctx context.Context, rewardID string, now time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE rewards SET status = 'expired'
		WHERE id = ? AND status = 'active' AND expires_at < ?
		RETURNING user_id, rule_id
	`

	var userID, ruleID string
	err = tx.QueryRowContext(ctx, r.rebind(query), rewardID, now).Scan(&userID, &ruleID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to expire reward: %w", err)
	}

	if err := r.decrementCounterTx(ctx, tx, userID, ruleID, 1); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// ExpireDue sweeps all overdue active rewards in one pass. Idempotent: it
// only ever moves statuses forward.
func (r *SQLRepository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE rewards SET status = 'expired'
		WHERE status = 'active' AND expires_at < ?
		RETURNING user_id, rule_id
	`

	rows, err := tx.QueryContext(ctx, r.rebind(query), now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire rewards: %w", err)
	}

	type slot struct{ userID, ruleID string }
	expired := make(map[slot]int)
	var total int64
	for rows.Next() {
		var s slot
		if err := rows.Scan(&s.userID, &s.ruleID); err != nil {
			rows.Close()
			return 0, err
		}
		expired[s]++
		total++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for s, n := range expired {
		if err := r.decrementCounterTx(ctx, tx, s.userID, s.ruleID, n); err != nil {
			return 0, err
		}
	}

	return total, tx.Commit()
}

// decrementCounterTx gives cap slots back after expiry, clamping at zero.
func (r *SQLRepository) decrementCounterTx(ctx context.Context, tx *sql.Tx, userID, ruleID string, n int) error {
	query := `
		UPDATE reward_counters
		SET issued = CASE WHEN issued > ? THEN issued - ? ELSE 0 END
		WHERE user_id = ? AND rule_id = ?
	`
	if _, err := tx.ExecContext(ctx, r.rebind(query), n, n, userID, ruleID); err != nil {
		return fmt.Errorf("failed to decrement reward counter: %w", err)
	}
	return nil
}

// AppendPoints appends a ledger entry and moves the cached balance in the
// same transaction.
func (r *SQLRepository) AppendPoints(ctx context.Context, entry *domain.PointsTransaction) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	balance, err := r.appendPointsTx(ctx, tx, entry)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			// The original write already took effect; report its outcome.
			tx.Rollback()
			current, berr := r.balance(ctx, entry.UserID)
			if berr != nil {
				return 0, berr
			}
			return current, domain.ErrDuplicate
		}
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

// appendPointsTx writes one ledger entry plus the cached balance inside an
// open transaction. Used by AppendPoints and by points-reward issuance.
func (r *SQLRepository) appendPointsTx(ctx context.Context, tx *sql.Tx, entry *domain.PointsTransaction) (int64, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	insert := `
		INSERT INTO points_transactions (
			id, user_id, delta, order_id, reward_id, description, idempotency_key, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, r.rebind(insert),
		entry.ID, entry.UserID, entry.Delta, entry.OrderID, entry.RewardID,
		entry.Description, entry.IdempotencyKey, entry.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, domain.ErrDuplicate
		}
		return 0, fmt.Errorf("failed to append points transaction: %w", err)
	}

	if entry.Delta >= 0 {
		upsert := `
			INSERT INTO users (id, loyalty_points, rewards_earned, updated_at) VALUES (?, ?, 0, ?)
			ON CONFLICT (id) DO UPDATE SET
				loyalty_points = users.loyalty_points + excluded.loyalty_points,
				updated_at = excluded.updated_at
		`
		if _, err := tx.ExecContext(ctx, r.rebind(upsert), entry.UserID, entry.Delta, time.Now().UTC()); err != nil {
			return 0, fmt.Errorf("failed to update balance: %w", err)
		}
	} else {
		// Conditional debit: the balance may never go negative.
		debit := `
			UPDATE users SET loyalty_points = loyalty_points + ?, updated_at = ?
			WHERE id = ? AND loyalty_points + ? >= 0
		`
		result, err := tx.ExecContext(ctx, r.rebind(debit), entry.Delta, time.Now().UTC(), entry.UserID, entry.Delta)
		if err != nil {
			return 0, fmt.Errorf("failed to update balance: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return 0, err
		}
		if rows == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx, r.rebind(`SELECT COUNT(*) FROM users WHERE id = ?`), entry.UserID).Scan(&exists); err != nil {
				return 0, err
			}
			if exists == 0 {
				return 0, domain.ErrNotFound
			}
			return 0, domain.ErrInsufficientPoints
		}
	}

	var balance int64
	if err := tx.QueryRowContext(ctx, r.rebind(`SELECT loyalty_points FROM users WHERE id = ?`), entry.UserID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

func (r *SQLRepository) balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT loyalty_points FROM users WHERE id = ?`), userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

// GetUser retrieves the points balance and lifetime counters for a user.
func (r *SQLRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT id, loyalty_points, rewards_earned, updated_at FROM users WHERE id = ?`

	var u domain.User
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID).Scan(
		&u.ID, &u.LoyaltyPoints, &u.RewardsEarned, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListPointsTransactions retrieves a user's ledger history, newest first.
func (r *SQLRepository) ListPointsTransactions(ctx context.Context, userID string, limit int) ([]*domain.PointsTransaction, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, delta, order_id, reward_id, description, idempotency_key, created_at
		FROM points_transactions
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.PointsTransaction
	for rows.Next() {
		var e domain.PointsTransaction
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.OrderID, &e.RewardID, &e.Description, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Stats summarizes engine activity for the admin surface.
func (r *SQLRepository) Stats(ctx context.Context) (*domain.Stats, error) {
	stats := &domain.Stats{
		RewardsByState: make(map[domain.RewardStatus]int64),
	}

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(active), 0) FROM reward_rules`,
	).Scan(&stats.Rules, &stats.ActiveRules)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM rewards GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.RewardsByState[domain.RewardStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN delta > 0 THEN delta ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN delta < 0 THEN -delta ELSE 0 END), 0)
		FROM points_transactions
	`).Scan(&stats.PointsAwarded, &stats.PointsRedeemed)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

const selectRule = `
	SELECT id, name, description, active, spend_threshold, trigger_type,
		   social_config, reward_type, reward_value, free_item_id,
		   probability, max_per_user, validity_days, start_date, end_date,
		   windows, created_at, updated_at
	FROM reward_rules
`

const selectReward = `
	SELECT id, user_id, rule_id, order_id, tab_id, reward_type, reward_value,
		   free_item_id, status, code, expires_at, redeemed_at,
		   redeemed_in_order_id, created_at
	FROM rewards
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.RewardRule, error) {
	var rule domain.RewardRule
	var active int
	var trigger, rewardType string
	var description, social, freeItem, windows sql.NullString
	var startDate, endDate sql.NullTime

	err := row.Scan(
		&rule.ID, &rule.Name, &description, &active, &rule.SpendThreshold, &trigger,
		&social, &rewardType, &rule.RewardValue, &freeItem,
		&rule.Probability, &rule.MaxPerUser, &rule.ValidityDays, &startDate, &endDate,
		&windows, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Active = active == 1
	rule.Trigger = domain.TriggerType(trigger)
	rule.RewardType = domain.RewardType(rewardType)
	rule.FreeItemID = freeItem.String
	if startDate.Valid {
		t := startDate.Time
		rule.StartDate = &t
	}
	if endDate.Valid {
		t := endDate.Time
		rule.EndDate = &t
	}
	if social.Valid && social.String != "" {
		var sc domain.SocialConfig
		if err := json.Unmarshal([]byte(social.String), &sc); err != nil {
			return nil, fmt.Errorf("failed to parse social config for rule %s: %w", rule.ID, err)
		}
		rule.Social = &sc
	}
	if windows.Valid && windows.String != "" {
		if err := json.Unmarshal([]byte(windows.String), &rule.Windows); err != nil {
			return nil, fmt.Errorf("failed to parse campaign windows for rule %s: %w", rule.ID, err)
		}
	}
	return &rule, nil
}

func scanReward(row rowScanner) (*domain.Reward, error) {
	var reward domain.Reward
	var rewardType, status string
	var tabID, freeItem, redeemedIn sql.NullString
	var redeemedAt sql.NullTime

	err := row.Scan(
		&reward.ID, &reward.UserID, &reward.RuleID, &reward.OrderID, &tabID,
		&rewardType, &reward.RewardValue, &freeItem, &status, &reward.Code,
		&reward.ExpiresAt, &redeemedAt, &redeemedIn, &reward.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	reward.TabID = tabID.String
	reward.RewardType = domain.RewardType(rewardType)
	reward.FreeItemID = freeItem.String
	reward.Status = domain.RewardStatus(status)
	reward.RedeemedInOrderID = redeemedIn.String
	if redeemedAt.Valid {
		t := redeemedAt.Time
		reward.RedeemedAt = &t
	}
	return &reward, nil
}

// isUniqueViolation detects duplicate-key failures from either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		// SQLITE_CONSTRAINT_UNIQUE, SQLITE_CONSTRAINT_PRIMARYKEY
		return sqErr.Code() == 2067 || sqErr.Code() == 1555
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

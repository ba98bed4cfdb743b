package repository

// Schema definitions for the Perks database.
// Compatible with both SQLite and PostgreSQL.

const schemaRewardRules = `
CREATE TABLE IF NOT EXISTS reward_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    active INTEGER NOT NULL DEFAULT 1,
    spend_threshold BIGINT NOT NULL DEFAULT 0,
    trigger_type TEXT NOT NULL,
    social_config TEXT,
    reward_type TEXT NOT NULL,
    reward_value BIGINT NOT NULL DEFAULT 0,
    free_item_id TEXT,
    probability REAL NOT NULL,
    max_per_user INTEGER NOT NULL DEFAULT 0,
    validity_days INTEGER NOT NULL,
    start_date TIMESTAMP,
    end_date TIMESTAMP,
    windows TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reward_rules_trigger ON reward_rules(trigger_type, active);
`

const schemaRewards = `
CREATE TABLE IF NOT EXISTS rewards (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    order_id TEXT NOT NULL,
    tab_id TEXT,
    reward_type TEXT NOT NULL,
    reward_value BIGINT NOT NULL DEFAULT 0,
    free_item_id TEXT,
    status TEXT NOT NULL,
    code TEXT NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    redeemed_at TIMESTAMP,
    redeemed_in_order_id TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_rewards_code ON rewards(code);
CREATE UNIQUE INDEX IF NOT EXISTS idx_rewards_order_rule
    ON rewards(order_id, rule_id) WHERE order_id <> '';
CREATE INDEX IF NOT EXISTS idx_rewards_user_rule ON rewards(user_id, rule_id, status);
CREATE INDEX IF NOT EXISTS idx_rewards_expiry ON rewards(status, expires_at);
CREATE INDEX IF NOT EXISTS idx_rewards_user ON rewards(user_id, created_at);
`

// reward_counters tracks live (active + redeemed) rewards per user per rule.
// The conditional upsert against this table is the atomic cap guard for
// concurrent issuance; the expiry sweeps decrement it so lapsed credentials
// give the slot back.
const schemaRewardCounters = `
CREATE TABLE IF NOT EXISTS reward_counters (
    user_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    issued INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, rule_id)
);
`

const schemaPointsTransactions = `
CREATE TABLE IF NOT EXISTS points_transactions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    delta BIGINT NOT NULL,
    order_id TEXT,
    reward_id TEXT,
    description TEXT,
    idempotency_key TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_points_user ON points_transactions(user_id, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_points_idempotency
    ON points_transactions(idempotency_key) WHERE idempotency_key <> '';
`

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    loyalty_points BIGINT NOT NULL DEFAULT 0,
    rewards_earned BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRewardRules,
		schemaRewards,
		schemaRewardCounters,
		schemaPointsTransactions,
		schemaUsers,
	}
}

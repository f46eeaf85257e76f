package database

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS jobs (
    id CHAR(36) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    provider VARCHAR(32) NOT NULL,
    tracking_id VARCHAR(128) NULL,
    source_url TEXT NOT NULL,
    style VARCHAR(64) NOT NULL DEFAULT '',
    module VARCHAR(64) NOT NULL DEFAULT '',
    prompt TEXT NOT NULL,
    state VARCHAR(16) NOT NULL,
    output_url TEXT NULL,
    error_message TEXT NULL,
    watermark TINYINT(1) NOT NULL DEFAULT 0,
    credits_charged INT NOT NULL DEFAULT 0,
    finalize_token CHAR(36) NULL,
    finalize_claimed_at DATETIME(6) NULL,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL,
    completed_at DATETIME(6) NULL,
    UNIQUE KEY uniq_jobs_tracking (provider, tracking_id),
    KEY idx_jobs_state_updated (state, updated_at),
    KEY idx_jobs_user_created (user_id, created_at)
);

CREATE TABLE IF NOT EXISTS accounts (
    user_id VARCHAR(64) PRIMARY KEY,
    credits INT NOT NULL DEFAULT 0,
    purchased TINYINT(1) NOT NULL DEFAULT 0,
    subscription_status VARCHAR(32) NULL,
    subscription_expires_at DATETIME(6) NULL,
    subscription_event_at DATETIME(6) NULL,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL,
    CONSTRAINT chk_accounts_credits CHECK (credits >= 0)
);

CREATE TABLE IF NOT EXISTS financial_events (
    provider VARCHAR(32) NOT NULL,
    event_id VARCHAR(191) NOT NULL,
    user_id VARCHAR(64) NOT NULL,
    kind VARCHAR(32) NOT NULL,
    credit_delta INT NULL,
    subscription_status VARCHAR(32) NULL,
    subscription_expires_at DATETIME(6) NULL,
    purchased TINYINT(1) NOT NULL DEFAULT 0,
    occurred_at DATETIME(6) NOT NULL,
    raw_payload MEDIUMTEXT,
    created_at DATETIME(6) NOT NULL,
    PRIMARY KEY (provider, event_id),
    KEY idx_financial_events_user (user_id, occurred_at)
);

CREATE TABLE IF NOT EXISTS plans (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    variant_id VARCHAR(64) NOT NULL UNIQUE,
    title VARCHAR(255) NOT NULL,
    description TEXT,
    credits INT NOT NULL,
    is_active TINYINT(1) NOT NULL DEFAULT 1,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL
);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    tracking_id TEXT NULL,
    source_url TEXT NOT NULL,
    style TEXT NOT NULL DEFAULT '',
    module TEXT NOT NULL DEFAULT '',
    prompt TEXT NOT NULL,
    state TEXT NOT NULL,
    output_url TEXT NULL,
    error_message TEXT NULL,
    watermark BOOLEAN NOT NULL DEFAULT 0,
    credits_charged INTEGER NOT NULL DEFAULT 0,
    finalize_token TEXT NULL,
    finalize_claimed_at DATETIME NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    completed_at DATETIME NULL,
    UNIQUE (provider, tracking_id)
);

CREATE INDEX IF NOT EXISTS idx_jobs_state_updated ON jobs (state, updated_at);

CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs (user_id, created_at);

CREATE TABLE IF NOT EXISTS accounts (
    user_id TEXT PRIMARY KEY,
    credits INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
    purchased BOOLEAN NOT NULL DEFAULT 0,
    subscription_status TEXT NULL,
    subscription_expires_at DATETIME NULL,
    subscription_event_at DATETIME NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS financial_events (
    provider TEXT NOT NULL,
    event_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    credit_delta INTEGER NULL,
    subscription_status TEXT NULL,
    subscription_expires_at DATETIME NULL,
    purchased BOOLEAN NOT NULL DEFAULT 0,
    occurred_at DATETIME NOT NULL,
    raw_payload TEXT,
    created_at DATETIME NOT NULL,
    PRIMARY KEY (provider, event_id)
);

CREATE INDEX IF NOT EXISTS idx_financial_events_user ON financial_events (user_id, occurred_at);

CREATE TABLE IF NOT EXISTS plans (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    variant_id TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    description TEXT,
    credits INTEGER NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);
`

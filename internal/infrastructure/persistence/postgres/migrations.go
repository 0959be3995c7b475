// Package postgres implements the PostgreSQL persistence layer for Groove Charts Hub.
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE GROUPS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create groups and memberships
-- Version: 001

CREATE TABLE IF NOT EXISTS groups (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name VARCHAR(100) NOT NULL,
    tracking_day SMALLINT NOT NULL DEFAULT 5,
    chart_size INTEGER NOT NULL DEFAULT 20,
    chart_mode VARCHAR(20) NOT NULL DEFAULT 'plays_only',
    generation_in_progress BOOLEAN NOT NULL DEFAULT FALSE,
    generation_started_at TIMESTAMP WITH TIME ZONE,
    generation_progress JSONB,
    last_failed_users JSONB NOT NULL DEFAULT '[]'::jsonb,
    last_aborted BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    -- Constraints for data integrity
    CONSTRAINT valid_chart_mode CHECK (chart_mode IN ('plays_only', 'vs', 'vs_weighted')),
    CONSTRAINT valid_chart_size CHECK (chart_size IN (10, 20, 50, 100)),
    CONSTRAINT valid_tracking_day CHECK (tracking_day BETWEEN 0 AND 6)
);

CREATE INDEX IF NOT EXISTS idx_groups_in_progress ON groups(generation_in_progress) WHERE generation_in_progress;

CREATE TABLE IF NOT EXISTS group_members (
    group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    user_id VARCHAR(100) NOT NULL,
    username VARCHAR(100) NOT NULL,
    -- Last.fm session key, sealed with NaCl secretbox before storage
    session_key TEXT NOT NULL DEFAULT '',
    joined_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (group_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_group_members_group_id ON group_members(group_id);
`

const migration001Down = `
DROP TABLE IF EXISTS group_members;
DROP TABLE IF EXISTS groups;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE CHARTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create weekly chart tables
-- Version: 002

-- Final ranked entries for one group week, replaced atomically per week
CREATE TABLE IF NOT EXISTS chart_entries (
    id BIGSERIAL PRIMARY KEY,
    group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    week_start TIMESTAMP WITH TIME ZONE NOT NULL,
    chart_type VARCHAR(20) NOT NULL,
    entry_key TEXT NOT NULL,
    name TEXT NOT NULL,
    artist TEXT NOT NULL DEFAULT '',
    position INTEGER NOT NULL,
    playcount INTEGER NOT NULL DEFAULT 0,
    vibe_score DOUBLE PRECISION,
    position_change INTEGER,
    entry_type VARCHAR(20) NOT NULL DEFAULT 'new',

    CONSTRAINT valid_chart_type CHECK (chart_type IN ('artists', 'tracks', 'albums')),
    CONSTRAINT valid_position CHECK (position >= 1),
    UNIQUE (group_id, week_start, chart_type, entry_key)
);

CREATE INDEX IF NOT EXISTS idx_chart_entries_week ON chart_entries(group_id, week_start, chart_type, position);
CREATE INDEX IF NOT EXISTS idx_chart_entries_history ON chart_entries(group_id, chart_type, entry_key, week_start);

-- Per-member contributions feeding each week's chart
CREATE TABLE IF NOT EXISTS user_contributions (
    id BIGSERIAL PRIMARY KEY,
    group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    week_start TIMESTAMP WITH TIME ZONE NOT NULL,
    chart_type VARCHAR(20) NOT NULL,
    user_id VARCHAR(100) NOT NULL,
    entry_key TEXT NOT NULL,
    playcount INTEGER NOT NULL DEFAULT 0,
    rank_in_own_top INTEGER NOT NULL,
    score DOUBLE PRECISION NOT NULL,

    CONSTRAINT valid_contrib_chart_type CHECK (chart_type IN ('artists', 'tracks', 'albums')),
    UNIQUE (group_id, week_start, chart_type, user_id, entry_key)
);

CREATE INDEX IF NOT EXISTS idx_user_contributions_week ON user_contributions(group_id, week_start, chart_type);
CREATE INDEX IF NOT EXISTS idx_user_contributions_user ON user_contributions(group_id, user_id);

-- One row per generated group week
CREATE TABLE IF NOT EXISTS weekly_stats (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    week_start TIMESTAMP WITH TIME ZONE NOT NULL,
    week_end TIMESTAMP WITH TIME ZONE NOT NULL,
    generated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    trends JSONB,

    UNIQUE (group_id, week_start)
);

CREATE INDEX IF NOT EXISTS idx_weekly_stats_group_week ON weekly_stats(group_id, week_start DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS weekly_stats;
DROP TABLE IF EXISTS user_contributions;
DROP TABLE IF EXISTS chart_entries;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE RECORDS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create records aggregation tables
-- Version: 003

-- Running per-entry statistics maintained incrementally after each generation
CREATE TABLE IF NOT EXISTS chart_entry_stats (
    group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    chart_type VARCHAR(20) NOT NULL,
    entry_key TEXT NOT NULL,
    name TEXT NOT NULL,
    artist TEXT NOT NULL DEFAULT '',
    peak_position INTEGER NOT NULL,
    weeks_at_peak INTEGER NOT NULL DEFAULT 0,
    debut_position INTEGER NOT NULL,
    debut_week TIMESTAMP WITH TIME ZONE NOT NULL,
    weeks_in_top10 INTEGER NOT NULL DEFAULT 0,
    total_weeks INTEGER NOT NULL DEFAULT 0,
    weeks_at_one INTEGER NOT NULL DEFAULT 0,
    total_plays INTEGER NOT NULL DEFAULT 0,
    total_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    streak_start TIMESTAMP WITH TIME ZONE,
    streak_end TIMESTAMP WITH TIME ZONE,
    currently_charting BOOLEAN NOT NULL DEFAULT FALSE,
    latest_week TIMESTAMP WITH TIME ZONE NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (group_id, chart_type, entry_key)
);

CREATE INDEX IF NOT EXISTS idx_entry_stats_charting ON chart_entry_stats(group_id, chart_type) WHERE currently_charting;

-- Computed all-time records, one blob per group
CREATE TABLE IF NOT EXISTS group_records (
    group_id UUID PRIMARY KEY REFERENCES groups(id) ON DELETE CASCADE,
    status VARCHAR(20) NOT NULL DEFAULT 'not_started',
    records JSONB,
    started_at TIMESTAMP WITH TIME ZONE,
    charts_generated_at TIMESTAMP WITH TIME ZONE,
    last_error TEXT,

    CONSTRAINT valid_records_status CHECK (status IN ('not_started', 'calculating', 'completed', 'failed'))
);

-- Durable queue of pending records calculations
CREATE TABLE IF NOT EXISTS records_jobs (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    -- NULL means a full recalculation, otherwise the touched entries
    touched JSONB,
    enqueued_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_records_jobs_enqueued ON records_jobs(enqueued_at);
`

const migration003Down = `
DROP TABLE IF EXISTS records_jobs;
DROP TABLE IF EXISTS group_records;
DROP TABLE IF EXISTS chart_entry_stats;
`

package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx, d dialect) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "policies, reviews and stakeholders",
		Up: func(tx *sql.Tx, d dialect) error {
			return execDDL(tx, d, `
CREATE TABLE IF NOT EXISTS policies (
    id {{pk}},
    name TEXT NOT NULL,
    slug TEXT UNIQUE NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    recommendation BOOLEAN NOT NULL DEFAULT FALSE,
    last_review TEXT,
    next_review TEXT,
    ages TEXT NOT NULL DEFAULT '[]',
    condition TEXT NOT NULL DEFAULT '',
    condition_html TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    summary_html TEXT NOT NULL DEFAULT '',
    keywords TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    modified_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reviews (
    id {{pk}},
    name TEXT NOT NULL,
    slug TEXT UNIQUE NOT NULL,
    review_type TEXT NOT NULL DEFAULT '[]',
    is_legacy BOOLEAN NOT NULL DEFAULT FALSE,
    dates_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
    review_start TEXT,
    review_end TEXT,
    consultation_start TEXT,
    consultation_end TEXT,
    nsc_meeting_date TEXT,
    published BOOLEAN,
    recommendation BOOLEAN,
    summary TEXT NOT NULL DEFAULT '',
    summary_html TEXT NOT NULL DEFAULT '',
    background TEXT NOT NULL DEFAULT '',
    background_html TEXT NOT NULL DEFAULT '',
    stakeholders_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
    manager TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    modified_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS review_policies (
    review_id BIGINT NOT NULL REFERENCES reviews(id) ON DELETE CASCADE,
    policy_id BIGINT NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
    summary_draft TEXT NOT NULL DEFAULT '',
    summary_updated BOOLEAN NOT NULL DEFAULT FALSE,
    recommendation BOOLEAN,
    PRIMARY KEY (review_id, policy_id)
);

CREATE TABLE IF NOT EXISTS stakeholders (
    id {{pk}},
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    countries TEXT NOT NULL DEFAULT '[]',
    url TEXT NOT NULL DEFAULT '',
    twitter TEXT NOT NULL DEFAULT '',
    comments TEXT NOT NULL DEFAULT '',
    is_public BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TEXT NOT NULL,
    modified_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS stakeholder_policies (
    stakeholder_id BIGINT NOT NULL REFERENCES stakeholders(id) ON DELETE CASCADE,
    policy_id BIGINT NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
    PRIMARY KEY (stakeholder_id, policy_id)
);

CREATE TABLE IF NOT EXISTS review_stakeholders (
    review_id BIGINT NOT NULL REFERENCES reviews(id) ON DELETE CASCADE,
    stakeholder_id BIGINT NOT NULL REFERENCES stakeholders(id) ON DELETE CASCADE,
    PRIMARY KEY (review_id, stakeholder_id)
);

CREATE TABLE IF NOT EXISTS contacts (
    id {{pk}},
    stakeholder_id BIGINT NOT NULL REFERENCES stakeholders(id) ON DELETE CASCADE,
    name TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    modified_at TEXT NOT NULL
);
`)
		},
	},
	{
		Version:     2,
		Description: "documents and subscriptions",
		Up: func(tx *sql.Tx, d dialect) error {
			return execDDL(tx, d, `
CREATE TABLE IF NOT EXISTS documents (
    id {{pk}},
    name TEXT NOT NULL,
    document_type TEXT NOT NULL,
    review_id BIGINT REFERENCES reviews(id) ON DELETE CASCADE,
    policy_id BIGINT REFERENCES policies(id) ON DELETE CASCADE,
    upload TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS subscriptions (
    id {{pk}},
    email TEXT UNIQUE NOT NULL,
    created_at TEXT NOT NULL,
    modified_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS subscription_policies (
    subscription_id BIGINT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
    policy_id BIGINT NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
    PRIMARY KEY (subscription_id, policy_id)
);
`)
		},
	},
	{
		Version:     3,
		Description: "notify emails and receipt tokens",
		Up: func(tx *sql.Tx, d dialect) error {
			return execDDL(tx, d, `
CREATE TABLE IF NOT EXISTS emails (
    id {{pk}},
    address TEXT NOT NULL,
    template_id TEXT NOT NULL,
    context TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'pending',
    attempts INTEGER NOT NULL DEFAULT 0,
    notify_id TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    modified_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS review_emails (
    review_id BIGINT NOT NULL REFERENCES reviews(id) ON DELETE CASCADE,
    email_id BIGINT NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
    kind TEXT NOT NULL,
    PRIMARY KEY (review_id, email_id)
);

CREATE TABLE IF NOT EXISTS receipt_tokens (
    id {{pk}},
    token TEXT UNIQUE NOT NULL,
    label TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);
`)
		},
	},
	{
		Version:     4,
		Description: "lookup indexes",
		Up: func(tx *sql.Tx, d dialect) error {
			return execDDL(tx, d, `
CREATE INDEX IF NOT EXISTS idx_emails_status ON emails(status);
CREATE INDEX IF NOT EXISTS idx_emails_modified ON emails(modified_at);
CREATE INDEX IF NOT EXISTS idx_review_emails_kind ON review_emails(review_id, kind);
CREATE INDEX IF NOT EXISTS idx_documents_review ON documents(review_id);
CREATE INDEX IF NOT EXISTS idx_contacts_stakeholder ON contacts(stakeholder_id);
CREATE INDEX IF NOT EXISTS idx_reviews_consultation ON reviews(dates_confirmed, consultation_start);
`)
		},
	},
}

// latestVersion returns the highest migration version.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}

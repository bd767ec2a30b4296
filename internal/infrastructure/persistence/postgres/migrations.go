package postgres

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Constraint names the repositories translate into ledger errors.
const (
	constraintFolio           = "payments_folio_key"
	constraintGeneratedPeriod = "uq_charges_generated_period"
)

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_directory",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_ledger",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "create_audit_log",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: DIRECTORY REPLICA
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Read replica of the school directory. Rows are written by the directory
-- sync, the ledger only reads them.
CREATE TABLE IF NOT EXISTS directory_terms (
    id          VARCHAR(64) PRIMARY KEY,
    school_id   VARCHAR(64) NOT NULL,
    name        VARCHAR(120) NOT NULL DEFAULT '',
    start_date  DATE NOT NULL,
    end_date    DATE NOT NULL,
    updated_at  TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_term_range CHECK (end_date >= start_date)
);

CREATE INDEX IF NOT EXISTS idx_directory_terms_school ON directory_terms(school_id);

CREATE TABLE IF NOT EXISTS directory_students (
    id          VARCHAR(64) PRIMARY KEY,
    school_id   VARCHAR(64) NOT NULL,
    name        VARCHAR(200) NOT NULL DEFAULT '',
    active      BOOLEAN NOT NULL DEFAULT TRUE,
    updated_at  TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_directory_students_school_active
    ON directory_students(school_id) WHERE active;
`

const migration001Down = `
DROP TABLE IF EXISTS directory_students;
DROP TABLE IF EXISTS directory_terms;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS payment_concepts (
    id                 UUID PRIMARY KEY,
    school_id          VARCHAR(64) NOT NULL,
    term_id            VARCHAR(64) NOT NULL,
    name               VARCHAR(120) NOT NULL,
    description        TEXT NOT NULL DEFAULT '',
    base_amount        NUMERIC(18,2) NOT NULL,
    recurring          BOOLEAN NOT NULL DEFAULT FALSE,
    periodicity        VARCHAR(16) NOT NULL DEFAULT 'none',
    due_day            SMALLINT NOT NULL DEFAULT 0,
    discount_ceiling   NUMERIC(5,2) NOT NULL DEFAULT 0,
    late_fee_rate      NUMERIC(5,2),
    grace_period_days  INTEGER NOT NULL DEFAULT 0,
    active             BOOLEAN NOT NULL DEFAULT TRUE,
    created_at         TIMESTAMP WITH TIME ZONE NOT NULL,
    updated_at         TIMESTAMP WITH TIME ZONE NOT NULL,
    deactivated_at     TIMESTAMP WITH TIME ZONE,
    deactivated_by     VARCHAR(64) NOT NULL DEFAULT '',

    CONSTRAINT valid_base_amount CHECK (base_amount >= 0),
    CONSTRAINT valid_discount_ceiling CHECK (discount_ceiling >= 0 AND discount_ceiling <= 100),
    CONSTRAINT valid_late_fee_rate CHECK (late_fee_rate IS NULL OR (late_fee_rate >= 0 AND late_fee_rate <= 100)),
    CONSTRAINT valid_due_day CHECK (due_day >= 0 AND due_day <= 31),
    CONSTRAINT valid_grace_period CHECK (grace_period_days >= 0),
    CONSTRAINT valid_periodicity CHECK (periodicity IN
        ('none', 'weekly', 'monthly', 'bimonthly', 'quarterly', 'semiannual', 'annual'))
);

CREATE INDEX IF NOT EXISTS idx_concepts_school_term ON payment_concepts(school_id, term_id);

CREATE TABLE IF NOT EXISTS charges (
    id                       UUID PRIMARY KEY,
    student_id               VARCHAR(64) NOT NULL,
    school_id                VARCHAR(64) NOT NULL,
    concept_id               UUID NOT NULL REFERENCES payment_concepts(id),
    term_id                  VARCHAR(64) NOT NULL,
    description              TEXT NOT NULL DEFAULT '',
    period_key               VARCHAR(16) NOT NULL,
    amount                   NUMERIC(18,2) NOT NULL,
    discount                 NUMERIC(18,2) NOT NULL DEFAULT 0,
    discount_percent         NUMERIC(5,2) NOT NULL DEFAULT 0,
    late_fee                 NUMERIC(18,2) NOT NULL DEFAULT 0,
    final_amount             NUMERIC(18,2) NOT NULL,
    paid_amount              NUMERIC(18,2) NOT NULL DEFAULT 0,
    pending_balance          NUMERIC(18,2) NOT NULL,
    due_date                 DATE NOT NULL,
    status                   VARCHAR(20) NOT NULL,
    receipt_number           VARCHAR(64) NOT NULL DEFAULT '',
    auto_generated           BOOLEAN NOT NULL DEFAULT FALSE,
    last_late_fee_accrual_at TIMESTAMP WITH TIME ZONE,
    overdue_at               TIMESTAMP WITH TIME ZONE,
    cancellation_reason      TEXT NOT NULL DEFAULT '',
    cancelled_by             VARCHAR(64) NOT NULL DEFAULT '',
    cancelled_at             TIMESTAMP WITH TIME ZONE,
    created_by               VARCHAR(64) NOT NULL,
    created_at               TIMESTAMP WITH TIME ZONE NOT NULL,
    updated_at               TIMESTAMP WITH TIME ZONE NOT NULL,
    version                  INTEGER NOT NULL DEFAULT 1,

    CONSTRAINT valid_amount CHECK (amount >= 0),
    CONSTRAINT valid_discount CHECK (discount >= 0 AND discount <= amount),
    CONSTRAINT valid_late_fee CHECK (late_fee >= 0),
    CONSTRAINT valid_final_amount CHECK (final_amount >= 0 AND final_amount = amount - discount + late_fee),
    CONSTRAINT valid_paid_amount CHECK (paid_amount >= 0),
    CONSTRAINT valid_pending_balance CHECK (pending_balance >= 0),
    CONSTRAINT valid_balance_split CHECK (status = 'cancelled' OR paid_amount + pending_balance = final_amount),
    CONSTRAINT valid_due_date CHECK (due_date >= created_at::date),
    CONSTRAINT valid_status CHECK (status IN ('pending', 'partially_paid', 'paid', 'overdue', 'cancelled'))
);

CREATE INDEX IF NOT EXISTS idx_charges_student_term ON charges(student_id, term_id);
CREATE INDEX IF NOT EXISTS idx_charges_school_term ON charges(school_id, term_id);
CREATE INDEX IF NOT EXISTS idx_charges_concept ON charges(concept_id);
CREATE INDEX IF NOT EXISTS idx_charges_open_due ON charges(due_date)
    WHERE status IN ('pending', 'partially_paid', 'overdue');
CREATE UNIQUE INDEX IF NOT EXISTS uq_charges_generated_period
    ON charges(student_id, concept_id, period_key) WHERE auto_generated;

CREATE TABLE IF NOT EXISTS payments (
    id                  UUID PRIMARY KEY,
    charge_id           UUID NOT NULL REFERENCES charges(id),
    student_id          VARCHAR(64) NOT NULL,
    school_id           VARCHAR(64) NOT NULL,
    term_id             VARCHAR(64) NOT NULL,
    amount              NUMERIC(18,2) NOT NULL,
    method              VARCHAR(16) NOT NULL,
    folio               VARCHAR(64) NOT NULL,
    reference           TEXT NOT NULL DEFAULT '',
    invoice_id          VARCHAR(64) NOT NULL DEFAULT '',
    received_by         VARCHAR(64) NOT NULL,
    payment_date        TIMESTAMP WITH TIME ZONE NOT NULL,
    applied_at          TIMESTAMP WITH TIME ZONE NOT NULL,
    cancelled           BOOLEAN NOT NULL DEFAULT FALSE,
    cancellation_reason TEXT NOT NULL DEFAULT '',
    cancelled_by        VARCHAR(64) NOT NULL DEFAULT '',
    cancelled_at        TIMESTAMP WITH TIME ZONE,

    CONSTRAINT payments_folio_key UNIQUE (folio),
    CONSTRAINT valid_payment_amount CHECK (amount > 0),
    CONSTRAINT valid_method CHECK (method IN ('cash', 'card', 'transfer', 'check', 'gateway', 'other'))
);

CREATE INDEX IF NOT EXISTS idx_payments_charge ON payments(charge_id);
CREATE INDEX IF NOT EXISTS idx_payments_student_term ON payments(student_id, term_id, applied_at);

CREATE TABLE IF NOT EXISTS account_statements (
    student_id           VARCHAR(64) NOT NULL,
    term_id              VARCHAR(64) NOT NULL,
    school_id            VARCHAR(64) NOT NULL,
    total_charges        NUMERIC(18,2) NOT NULL DEFAULT 0,
    total_discounts      NUMERIC(18,2) NOT NULL DEFAULT 0,
    total_late_fees      NUMERIC(18,2) NOT NULL DEFAULT 0,
    total_paid           NUMERIC(18,2) NOT NULL DEFAULT 0,
    pending_balance      NUMERIC(18,2) NOT NULL DEFAULT 0,
    credit_balance       NUMERIC(18,2) NOT NULL DEFAULT 0,
    pending_count        INTEGER NOT NULL DEFAULT 0,
    partial_count        INTEGER NOT NULL DEFAULT 0,
    paid_count           INTEGER NOT NULL DEFAULT 0,
    overdue_count        INTEGER NOT NULL DEFAULT 0,
    cancelled_count      INTEGER NOT NULL DEFAULT 0,
    has_outstanding_debt BOOLEAN NOT NULL DEFAULT FALSE,
    has_overdue_charges  BOOLEAN NOT NULL DEFAULT FALSE,
    is_current           BOOLEAN NOT NULL DEFAULT TRUE,
    last_charge_at       TIMESTAMP WITH TIME ZONE,
    last_payment_at      TIMESTAMP WITH TIME ZONE,
    needs_attention      BOOLEAN NOT NULL DEFAULT FALSE,
    attention_note       TEXT NOT NULL DEFAULT '',
    recomputed_at        TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    version              INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY (student_id, term_id),
    CONSTRAINT valid_statement_pending CHECK (pending_balance >= 0)
);

CREATE INDEX IF NOT EXISTS idx_statements_school_term ON account_statements(school_id, term_id);
`

const migration002Down = `
DROP TABLE IF EXISTS account_statements;
DROP TABLE IF EXISTS payments;
DROP TABLE IF EXISTS charges;
DROP TABLE IF EXISTS payment_concepts;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: AUDIT LOG
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS ledger_audit_log (
    id          UUID PRIMARY KEY,
    entity      VARCHAR(32) NOT NULL,
    entity_id   VARCHAR(64) NOT NULL,
    action      VARCHAR(32) NOT NULL,
    actor_id    VARCHAR(64) NOT NULL,
    before      JSONB,
    after       JSONB,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL,
    hash        CHAR(64) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_entity ON ledger_audit_log(entity, entity_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_audit_actor ON ledger_audit_log(actor_id, recorded_at);
`

const migration003Down = `
DROP TABLE IF EXISTS ledger_audit_log;
`

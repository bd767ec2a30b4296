// Package concept contains the payment concept catalog: the templates
// (tuition, enrollment, materials...) from which charges are issued.
package concept

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolhub/student-ledger/internal/domain/shared"
)

const domainName = "concept"

// Due day bounds for recurring generation. Day 28 exists in every month.
const (
	MinDueDay     = 1
	MaxDueDay     = 28
	DefaultDueDay = 10
)

// Concept is a billable item template scoped to a school and term.
// Once a charge references it only deactivation is allowed.
type Concept struct {
	ID          string
	SchoolID    string
	TermID      string
	Name        string
	Description string

	// BaseAmount is snapshotted into every charge issued from the concept.
	BaseAmount decimal.Decimal

	Recurring   bool
	Periodicity Periodicity
	DueDay      int

	// DiscountCeiling is the maximum discount percentage, 0..100.
	DiscountCeiling decimal.Decimal

	// LateFeeRate is a percentage applied once per accrual period.
	// Nil means the service default applies.
	LateFeeRate     *decimal.Decimal
	GracePeriodDays int

	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeactivatedAt *time.Time
	DeactivatedBy string
}

// Params holds the caller-supplied fields of a new concept.
type Params struct {
	SchoolID        string
	TermID          string
	Name            string
	Description     string
	BaseAmount      decimal.Decimal
	Recurring       bool
	Periodicity     Periodicity
	DueDay          int
	DiscountCeiling decimal.Decimal
	LateFeeRate     *decimal.Decimal
	GracePeriodDays int
}

// Validate returns every rule the params break.
func (p Params) Validate() shared.Violations {
	var v shared.Violations
	v.Check(!shared.IsBlank(p.SchoolID), "school_id", "required", "school id is required")
	v.Check(!shared.IsBlank(p.TermID), "term_id", "required", "term id is required")
	v.Check(!shared.IsBlank(p.Name), "name", "required", "name is required")
	v.Check(len(p.Name) <= 120, "name", "max", "name must be at most 120 characters")
	v.Check(!p.BaseAmount.IsNegative(), "base_amount", "gte0", "base amount cannot be negative")
	v.Check(shared.IsValidPercent(p.DiscountCeiling), "discount_ceiling", "range", "discount ceiling must be between 0 and 100")
	if p.LateFeeRate != nil {
		v.Check(shared.IsValidPercent(*p.LateFeeRate), "late_fee_rate", "range", "late fee rate must be between 0 and 100")
	}
	v.Check(p.GracePeriodDays >= 0, "grace_period_days", "gte0", "grace period cannot be negative")
	v.Check(p.Periodicity.IsValid(), "periodicity", "oneof", "unknown periodicity")
	if p.Recurring {
		v.Check(p.Periodicity != PeriodicityNone, "periodicity", "required", "recurring concepts need a periodicity")
	}
	if p.DueDay != 0 {
		v.Check(p.DueDay >= MinDueDay && p.DueDay <= MaxDueDay, "due_day", "range", "due day must be between 1 and 28")
	}
	return v
}

// New validates params and builds an active concept.
func New(p Params, now time.Time) (*Concept, error) {
	if p.Periodicity == "" {
		p.Periodicity = PeriodicityNone
	}
	if err := p.Validate().Err(domainName, "Create"); err != nil {
		return nil, err
	}
	if p.DueDay == 0 {
		p.DueDay = DefaultDueDay
	}

	return &Concept{
		ID:              shared.NewID(),
		SchoolID:        p.SchoolID,
		TermID:          p.TermID,
		Name:            p.Name,
		Description:     p.Description,
		BaseAmount:      p.BaseAmount,
		Recurring:       p.Recurring,
		Periodicity:     p.Periodicity,
		DueDay:          p.DueDay,
		DiscountCeiling: p.DiscountCeiling,
		LateFeeRate:     p.LateFeeRate,
		GracePeriodDays: p.GracePeriodDays,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Deactivate stops the concept from issuing new charges.
func (c *Concept) Deactivate(actorID string, now time.Time) error {
	if !c.Active {
		return shared.InvalidTransition(domainName, "Deactivate", "concept is already inactive")
	}
	c.Active = false
	c.DeactivatedAt = &now
	c.DeactivatedBy = actorID
	c.UpdatedAt = now
	return nil
}

// CanIssueCharges returns a policy violation for inactive concepts.
func (c *Concept) CanIssueCharges() error {
	if !c.Active {
		return shared.PolicyViolation(domainName, "IssueCharge", "concept is inactive")
	}
	return nil
}

// AllowsDiscount reports whether pct is within the discount ceiling.
func (c *Concept) AllowsDiscount(pct decimal.Decimal) bool {
	return !pct.IsNegative() && pct.LessThanOrEqual(c.DiscountCeiling)
}

// EffectiveLateFeeRate resolves the rate, falling back to def.
func (c *Concept) EffectiveLateFeeRate(def decimal.Decimal) decimal.Decimal {
	if c.LateFeeRate != nil {
		return *c.LateFeeRate
	}
	return def
}

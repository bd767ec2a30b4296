package query

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolhub/student-ledger/internal/domain/charge"
	"github.com/schoolhub/student-ledger/internal/domain/ledger"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// AGING REPORT QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetAgingReportQuery buckets the outstanding balance of a school term by
// days past due.
type GetAgingReportQuery struct {
	SchoolID string
	TermID   string
	AsOf     time.Time // zero means today
}

// AgingBucket aggregates charges falling in one range.
type AgingBucket struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

func (b *AgingBucket) add(amount decimal.Decimal) {
	b.Count++
	b.Amount = b.Amount.Add(amount)
}

// AgingBuckets groups outstanding balances: not yet due, 1-30, 31-60,
// 61-90 and more than 90 days past due.
type AgingBuckets struct {
	Current    AgingBucket `json:"current"`
	Days1To30  AgingBucket `json:"days_1_30"`
	Days31To60 AgingBucket `json:"days_31_60"`
	Days61To90 AgingBucket `json:"days_61_90"`
	Over90     AgingBucket `json:"over_90"`
	Total      AgingBucket `json:"total"`
}

func newAgingBuckets() AgingBuckets {
	z := AgingBucket{Amount: decimal.Zero}
	return AgingBuckets{Current: z, Days1To30: z, Days31To60: z, Days61To90: z, Over90: z, Total: z}
}

func (b *AgingBuckets) add(daysOverdue int, amount decimal.Decimal) {
	switch {
	case daysOverdue <= 0:
		b.Current.add(amount)
	case daysOverdue <= 30:
		b.Days1To30.add(amount)
	case daysOverdue <= 60:
		b.Days31To60.add(amount)
	case daysOverdue <= 90:
		b.Days61To90.add(amount)
	default:
		b.Over90.add(amount)
	}
	b.Total.add(amount)
}

// StudentAging is one row of the report.
type StudentAging struct {
	StudentID      string       `json:"student_id"`
	Buckets        AgingBuckets `json:"buckets"`
	MaxDaysOverdue int          `json:"max_days_overdue"`
}

// AgingReport is the result of GetAgingReportQuery.
type AgingReport struct {
	SchoolID string         `json:"school_id"`
	TermID   string         `json:"term_id"`
	AsOf     string         `json:"as_of"`
	Totals   AgingBuckets   `json:"totals"`
	Students []StudentAging `json:"students"`
}

// GetAgingReportHandler handles GetAgingReportQuery.
type GetAgingReportHandler struct {
	repos ledger.Repositories
	cal   *timeutil.Calendar
}

// NewGetAgingReportHandler creates a new GetAgingReportHandler.
func NewGetAgingReportHandler(repos ledger.Repositories, cal *timeutil.Calendar) *GetAgingReportHandler {
	return &GetAgingReportHandler{repos: repos, cal: cal}
}

// Handle executes the query. Students are ordered by total outstanding,
// largest first.
func (h *GetAgingReportHandler) Handle(ctx context.Context, q GetAgingReportQuery) (*AgingReport, error) {
	var v shared.Violations
	v.Check(!shared.IsBlank(q.SchoolID), "school_id", "required", "school id is required")
	v.Check(!shared.IsBlank(q.TermID), "term_id", "required", "term id is required")
	if err := v.Err("report", "Aging"); err != nil {
		return nil, err
	}

	asOf := q.AsOf
	if asOf.IsZero() {
		asOf = h.cal.Today()
	}

	charges, err := h.repos.Charges.List(ctx, charge.Filter{
		SchoolID: q.SchoolID,
		TermID:   q.TermID,
		Statuses: []charge.Status{charge.StatusPending, charge.StatusPartiallyPaid, charge.StatusOverdue},
	})
	if err != nil {
		return nil, err
	}

	report := &AgingReport{
		SchoolID: q.SchoolID,
		TermID:   q.TermID,
		AsOf:     h.cal.FormatDate(asOf),
		Totals:   newAgingBuckets(),
		Students: []StudentAging{},
	}
	rows := make(map[string]*StudentAging)

	for _, c := range charges {
		if !c.PendingBalance.IsPositive() {
			continue
		}
		days := c.DaysOverdue(asOf, h.cal)

		row, ok := rows[c.StudentID]
		if !ok {
			row = &StudentAging{StudentID: c.StudentID, Buckets: newAgingBuckets()}
			rows[c.StudentID] = row
		}
		row.Buckets.add(days, c.PendingBalance)
		if days > row.MaxDaysOverdue {
			row.MaxDaysOverdue = days
		}
		report.Totals.add(days, c.PendingBalance)
	}

	for _, row := range rows {
		report.Students = append(report.Students, *row)
	}
	sort.Slice(report.Students, func(i, j int) bool {
		a, b := report.Students[i].Buckets.Total.Amount, report.Students[j].Buckets.Total.Amount
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		return report.Students[i].StudentID < report.Students[j].StudentID
	})
	return report, nil
}

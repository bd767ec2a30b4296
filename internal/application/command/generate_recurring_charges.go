package command

import (
	"context"
	"time"

	"github.com/schoolhub/student-ledger/internal/domain/audit"
	"github.com/schoolhub/student-ledger/internal/domain/charge"
	"github.com/schoolhub/student-ledger/internal/domain/concept"
	"github.com/schoolhub/student-ledger/internal/domain/ledger"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/pkg/logger"
	"github.com/schoolhub/student-ledger/pkg/retry"
)

// GenerateRecurringChargesCommand issues the current period's charge of
// every active recurring concept of a term to every active student.
type GenerateRecurringChargesCommand struct {
	TermID  string
	AsOf    time.Time // selects the period; zero means today
	ActorID string
}

// GenerationStats summarizes a generation run.
type GenerationStats struct {
	Students int
	Created  int
	Existing int
	Failed   int
}

// GenerateRecurringChargesHandler handles GenerateRecurringChargesCommand.
type GenerateRecurringChargesHandler struct {
	deps    *Deps
	retrier *retry.Retrier
}

// NewGenerateRecurringChargesHandler creates a new handler.
func NewGenerateRecurringChargesHandler(deps *Deps) *GenerateRecurringChargesHandler {
	return &GenerateRecurringChargesHandler{
		deps:    deps,
		retrier: retry.TransactionRetrier(shared.IsRetryable),
	}
}

// Handle runs one transaction per student. Running it again for the same
// period creates nothing new.
func (h *GenerateRecurringChargesHandler) Handle(ctx context.Context, cmd GenerateRecurringChargesCommand) (GenerationStats, error) {
	const op = "GenerateRecurring"
	var stats GenerationStats

	if err := requireFields("charge", op, "term_id", cmd.TermID); err != nil {
		return stats, err
	}
	actor := cmd.ActorID
	if actor == "" {
		actor = SystemActor
	}
	asOf := cmd.AsOf
	if asOf.IsZero() {
		asOf = h.deps.Calendar.Today()
	}
	asOf = asOf.In(h.deps.Calendar.Location())

	term, err := h.deps.Directory.ResolveTerm(ctx, cmd.TermID)
	if err != nil {
		return stats, err
	}
	concepts, err := h.deps.UoW.Reader().Concepts.List(ctx, concept.Filter{
		SchoolID:      term.SchoolID,
		TermID:        term.ID,
		ActiveOnly:    true,
		RecurringOnly: true,
	})
	if err != nil {
		return stats, err
	}
	if len(concepts) == 0 {
		return stats, nil
	}
	students, err := h.deps.Directory.ListActiveStudents(ctx, term.SchoolID)
	if err != nil {
		return stats, err
	}

	for _, s := range students {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Students++

		res, err := retry.DoWithData(ctx, h.retrier, func(ctx context.Context) (GenerationStats, error) {
			return h.generateFor(ctx, s.ID, term.SchoolID, term.ID, concepts, asOf, actor)
		})
		if err != nil {
			stats.Failed++
			h.deps.Logger.Error("recurring generation failed",
				logger.StudentID(s.ID),
				logger.TermID(term.ID),
				logger.Err(err),
			)
			continue
		}
		stats.Created += res.Created
		stats.Existing += res.Existing
	}

	h.deps.Logger.Info("recurring generation finished",
		logger.TermID(term.ID),
		logger.Int("students", stats.Students),
		logger.Int("created", stats.Created),
		logger.Int("existing", stats.Existing),
		logger.Int("failed", stats.Failed),
	)
	return stats, nil
}

func (h *GenerateRecurringChargesHandler) generateFor(
	ctx context.Context,
	studentID, schoolID, termID string,
	concepts []*concept.Concept,
	asOf time.Time,
	actor string,
) (GenerationStats, error) {
	var stats GenerationStats
	now := h.deps.now()
	today := h.deps.Calendar.StartOfDay(now)
	fx := &effects{}

	err := h.deps.UoW.WithinTx(ctx, func(ctx context.Context, repos ledger.Repositories) error {
		stats = GenerationStats{}
		if err := repos.Statements.Lock(ctx, studentID, termID, schoolID); err != nil {
			return err
		}

		for _, cpt := range concepts {
			period := cpt.Periodicity.PeriodOf(asOf)
			exists, err := repos.Charges.ExistsForPeriod(ctx, studentID, cpt.ID, period.Key)
			if err != nil {
				return err
			}
			if exists {
				stats.Existing++
				continue
			}

			// A run late in the period bills immediately rather than in the past.
			due := cpt.Periodicity.DueDate(period, cpt.DueDay)
			if due.Before(today) {
				due = today
			}

			c, err := charge.New(charge.Params{
				Concept:       cpt,
				StudentID:     studentID,
				DueDate:       due,
				Description:   cpt.Name + " " + period.Key,
				PeriodKey:     period.Key,
				AutoGenerated: true,
				ActorID:       actor,
			}, h.deps.Policy.Money, now)
			if err != nil {
				return err
			}
			if err := repos.Charges.Create(ctx, c); err != nil {
				return err
			}
			stats.Created++
			fx.audit(audit.NewRecord(audit.EntityCharge, c.ID, "generate", actor, nil, c.Snapshot(), now))
			fx.emit(c.Event(shared.EventChargeCreated))
		}

		if stats.Created == 0 {
			return nil
		}
		st, err := recompute(ctx, repos, studentID, termID, schoolID, h.deps.Policy, now)
		if err != nil {
			return err
		}
		fx.emit(st.Event())
		return nil
	})
	if err != nil {
		return GenerationStats{}, err
	}

	h.deps.flush(ctx, "GenerateRecurringCharges", fx)
	return stats, nil
}

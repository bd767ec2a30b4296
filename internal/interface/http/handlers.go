package http

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/schoolhub/student-ledger/internal/application/command"
	"github.com/schoolhub/student-ledger/internal/application/query"
	"github.com/schoolhub/student-ledger/internal/domain/charge"
	"github.com/schoolhub/student-ledger/internal/domain/concept"
	"github.com/schoolhub/student-ledger/internal/domain/statement"
	"github.com/schoolhub/student-ledger/internal/interface/http/handlers"
	"github.com/schoolhub/student-ledger/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth reports every dependency check.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	status := s.deps.HealthChecker.Check(c.UserContext())
	if !status.Healthy {
		return writeJSON(c, fiber.StatusServiceUnavailable, status)
	}
	return writeJSON(c, fiber.StatusOK, status)
}

// handleReady tells the load balancer whether to route traffic here.
func (s *Server) handleReady(c *fiber.Ctx) error {
	status := s.deps.HealthChecker.Check(c.UserContext())
	if !status.Ready {
		return writeJSON(c, fiber.StatusServiceUnavailable, fiber.Map{"ready": false, "message": status.Message})
	}
	return writeJSON(c, fiber.StatusOK, fiber.Map{"ready": true})
}

func (s *Server) handleLive(c *fiber.Ctx) error {
	return writeJSON(c, fiber.StatusOK, fiber.Map{"alive": true})
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTENTION RETRY
// ══════════════════════════════════════════════════════════════════════════════

// run executes a command, retrying when it lost a lock race. Once the
// attempts are spent the contention error reaches the client as a
// retryable 503.
func run[T any](s *Server, c *fiber.Ctx, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.DoWithData(c.UserContext(), s.retrier, fn)
}

// ══════════════════════════════════════════════════════════════════════════════
// PAYMENT CONCEPTS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleCreateConcept(c *fiber.Ctx) error {
	var req CreateConceptRequest
	if err := bind(c, "CreateConcept", &req); err != nil {
		return err
	}

	cmd := req.command(handlers.ActorID(c))
	created, err := run(s, c, func(ctx context.Context) (*concept.Concept, error) {
		return s.deps.Commands.CreateConcept.Handle(ctx, cmd)
	})
	if err != nil {
		return err
	}
	return writeJSON(c, fiber.StatusCreated, query.NewConceptDTO(created))
}

// handleListConcepts handles GET /concepts?school_id=&term_id=&active=true.
func (s *Server) handleListConcepts(c *fiber.Ctx) error {
	concepts, err := s.deps.Queries.ListConcepts.Handle(c.UserContext(), query.ListConceptsQuery{
		SchoolID:   c.Query("school_id"),
		TermID:     c.Query("term_id"),
		ActiveOnly: c.QueryBool("active", false),
	})
	if err != nil {
		return err
	}
	return writeList(c, concepts, len(concepts))
}

func (s *Server) handleDeactivateConcept(c *fiber.Ctx) error {
	cmd := command.DeactivateConceptCommand{ConceptID: c.Params("id"), ActorID: handlers.ActorID(c)}
	updated, err := run(s, c, func(ctx context.Context) (*concept.Concept, error) {
		return s.deps.Commands.ConceptAdmin.Deactivate(ctx, cmd)
	})
	if err != nil {
		return err
	}
	return writeJSON(c, fiber.StatusOK, query.NewConceptDTO(updated))
}

func (s *Server) handleDeleteConcept(c *fiber.Ctx) error {
	cmd := command.DeleteConceptCommand{ConceptID: c.Params("id"), ActorID: handlers.ActorID(c)}
	_, err := run(s, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.deps.Commands.ConceptAdmin.Delete(ctx, cmd)
	})
	if err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════════════════════
// CHARGES
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleCreateCharge(c *fiber.Ctx) error {
	var req CreateChargeRequest
	if err := bind(c, "CreateCharge", &req); err != nil {
		return err
	}

	cmd, err := req.command(s.deps.Calendar, "CreateCharge", "due_date", handlers.ActorID(c))
	if err != nil {
		return err
	}
	created, err := run(s, c, func(ctx context.Context) (*charge.Charge, error) {
		return s.deps.Commands.CreateCharge.Handle(ctx, cmd)
	})
	if err != nil {
		return err
	}
	return writeJSON(c, fiber.StatusCreated, query.NewChargeDTO(created, nil))
}

// handleBulkCreateCharges creates every charge or none.
func (s *Server) handleBulkCreateCharges(c *fiber.Ctx) error {
	var req BulkCreateChargesRequest
	if err := bind(c, "CreateChargesBulk", &req); err != nil {
		return err
	}

	actor := handlers.ActorID(c)
	cmds := make([]command.CreateChargeCommand, 0, len(req.Charges))
	for i, item := range req.Charges {
		cmd, err := item.command(s.deps.Calendar, "CreateChargesBulk", fmt.Sprintf("charges[%d].due_date", i), actor)
		if err != nil {
			return err
		}
		cmds = append(cmds, cmd)
	}

	created, err := run(s, c, func(ctx context.Context) ([]*charge.Charge, error) {
		return s.deps.Commands.CreateCharge.HandleBulk(ctx, cmds)
	})
	if err != nil {
		return err
	}

	out := make([]query.ChargeDTO, 0, len(created))
	for _, ch := range created {
		out = append(out, query.NewChargeDTO(ch, nil))
	}
	return writeJSON(c, fiber.StatusCreated, out)
}

func (s *Server) handleGetCharge(c *fiber.Ctx) error {
	dto, err := s.deps.Queries.GetCharge.Handle(c.UserContext(), query.GetChargeQuery{ChargeID: c.Params("id")})
	if err != nil {
		return err
	}
	return writeJSON(c, fiber.StatusOK, dto)
}

func (s *Server) handleCancelCharge(c *fiber.Ctx) error {
	var req ReasonRequest
	if err := bind(c, "CancelCharge", &req); err != nil {
		return err
	}

	cmd := command.CancelChargeCommand{ChargeID: c.Params("id"), ActorID: handlers.ActorID(c), Reason: req.Reason}
	cancelled, err := run(s, c, func(ctx context.Context) (*charge.Charge, error) {
		return s.deps.Commands.CancelCharge.Handle(ctx, cmd)
	})
	if err != nil {
		return err
	}
	return writeJSON(c, fiber.StatusOK, query.NewChargeDTO(cancelled, nil))
}

// lateFeeResponse reports the charge together with what the accrual did.
type lateFeeResponse struct {
	Charge     query.ChargeDTO `json:"charge"`
	Applied    bool            `json:"applied"`
	Amount     string          `json:"amount"`
	SkipReason string          `json:"skip_reason,omitempty"`
}

func (s *Server) handleAccrueLateFee(c *fiber.Ctx) error {
	var req AccrueRequest
	if err := bind(c, "AccrueLateFee", &req); err != nil {
		return err
	}

	asOf, err := parseDate(s.deps.Calendar, "AccrueLateFee", "as_of", req.AsOf)
	if err != nil {
		return err
	}
	cmd := command.AccrueLateFeeCommand{ChargeID: c.Params("id"), AsOf: asOf, ActorID: handlers.ActorID(c)}

	res, err := run(s, c, func(ctx context.Context) (*command.AccrueLateFeeResult, error) {
		return s.deps.Commands.AccrueLateFee.Handle(ctx, cmd)
	})
	if err != nil {
		return err
	}
	return writeJSON(c, fiber.StatusOK, lateFeeResponse{
		Charge:     query.NewChargeDTO(res.Charge, nil),
		Applied:    res.Outcome.Applied,
		Amount:     res.Outcome.Amount.StringFixed(2),
		SkipReason: res.Outcome.SkipReason,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// PAYMENTS
// ══════════════════════════════════════════════════════════════════════════════

// paymentResponse is returned by both payment commands.
type paymentResponse struct {
	Payment   query.PaymentDTO     `json:"payment"`
	Charge    query.ChargeDTO      `json:"charge"`
	Statement *statement.Statement `json:"statement"`
}

func newPaymentResponse(r *command.PaymentResult) paymentResponse {
	return paymentResponse{
		Payment:   query.NewPaymentDTO(r.Payment),
		Charge:    query.NewChargeDTO(r.Charge, nil),
		Statement: r.Statement,
	}
}

func (s *Server) handleApplyPayment(c *fiber.Ctx) error {
	var req ApplyPaymentRequest
	if err := bind(c, "ApplyPayment", &req); err != nil {
		return err
	}

	cmd, err := req.command(s.deps.Calendar, c.Params("id"), handlers.ActorID(c))
	if err != nil {
		return err
	}
	res, err := run(s, c, func(ctx context.Context) (*command.PaymentResult, error) {
		return s.deps.Commands.ApplyPayment.Handle(ctx, cmd)
	})
	if err != nil {
		return err
	}
	return writeJSON(c, fiber.StatusCreated, newPaymentResponse(res))
}

func (s *Server) handleCancelPayment(c *fiber.Ctx) error {
	var req ReasonRequest
	if err := bind(c, "CancelPayment", &req); err != nil {
		return err
	}

	cmd := command.CancelPaymentCommand{PaymentID: c.Params("id"), ActorID: handlers.ActorID(c), Reason: req.Reason}
	res, err := run(s, c, func(ctx context.Context) (*command.PaymentResult, error) {
		return s.deps.Commands.CancelPayment.Handle(ctx, cmd)
	})
	if err != nil {
		return err
	}
	return writeJSON(c, fiber.StatusOK, newPaymentResponse(res))
}

// ══════════════════════════════════════════════════════════════════════════════
// STATEMENTS & REPORTS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetStatement(c *fiber.Ctx) error {
	st, err := s.deps.Queries.GetStatement.Handle(c.UserContext(), query.GetStatementQuery{
		StudentID: c.Params("studentID"),
		TermID:    c.Params("termID"),
	})
	if err != nil {
		return err
	}
	return writeJSON(c, fiber.StatusOK, st)
}

func (s *Server) handleRecompute(c *fiber.Ctx) error {
	cmd := command.RecomputeStatementCommand{
		StudentID: c.Params("studentID"),
		TermID:    c.Params("termID"),
		ActorID:   handlers.ActorID(c),
	}
	st, err := run(s, c, func(ctx context.Context) (*statement.Statement, error) {
		return s.deps.Commands.Recompute.Handle(ctx, cmd)
	})
	if err != nil {
		return err
	}
	return writeJSON(c, fiber.StatusOK, st)
}

func (s *Server) handleChargeHistory(c *fiber.Ctx) error {
	history, err := s.deps.Queries.GetChargeHistory.Handle(c.UserContext(), query.GetChargeHistoryQuery{
		StudentID: c.Params("studentID"),
		TermID:    c.Params("termID"),
	})
	if err != nil {
		return err
	}
	return writeJSON(c, fiber.StatusOK, history)
}

// handleAgingReport handles GET /schools/:schoolID/terms/:termID/aging?as_of=YYYY-MM-DD.
func (s *Server) handleAgingReport(c *fiber.Ctx) error {
	asOf, err := parseDate(s.deps.Calendar, "GetAgingReport", "as_of", c.Query("as_of"))
	if err != nil {
		return err
	}

	report, err := s.deps.Queries.GetAgingReport.Handle(c.UserContext(), query.GetAgingReportQuery{
		SchoolID: c.Params("schoolID"),
		TermID:   c.Params("termID"),
		AsOf:     asOf,
	})
	if err != nil {
		return err
	}
	return writeJSON(c, fiber.StatusOK, report)
}

// generationResponse mirrors command.GenerationStats.
type generationResponse struct {
	Students int `json:"students"`
	Created  int `json:"created"`
	Existing int `json:"existing"`
	Failed   int `json:"failed"`
}

// handleGenerateRecurring issues the current period's recurring charges of a
// term. It runs one transaction per student, so it is not retried as a whole.
func (s *Server) handleGenerateRecurring(c *fiber.Ctx) error {
	var req GenerateRecurringRequest
	if err := bind(c, "GenerateRecurring", &req); err != nil {
		return err
	}

	asOf, err := parseDate(s.deps.Calendar, "GenerateRecurring", "as_of", req.AsOf)
	if err != nil {
		return err
	}
	cmd := command.GenerateRecurringChargesCommand{TermID: c.Params("termID"), AsOf: asOf, ActorID: handlers.ActorID(c)}

	stats, err := s.deps.Commands.GenerateRecurring.Handle(c.UserContext(), cmd)
	if err != nil {
		return err
	}
	return writeJSON(c, fiber.StatusOK, generationResponse(stats))
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/student-ledger/internal/application/command"
	"github.com/schoolhub/student-ledger/internal/application/query"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/internal/domain/tenant"
	"github.com/schoolhub/student-ledger/internal/infrastructure/persistence/memory"
	"github.com/schoolhub/student-ledger/internal/interface/http/handlers"
	"github.com/schoolhub/student-ledger/pkg/logger"
	"github.com/schoolhub/student-ledger/pkg/timeutil"
)

type nopPublisher struct{}

func (nopPublisher) Publish(shared.Event) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()

	now := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	cal := timeutil.UTC().WithClock(func() time.Time { return now })

	store := memory.NewStore(memory.WithLockTimeout(time.Second))
	dir := memory.NewDirectory()
	dir.PutTerm(tenant.Term{
		ID:        "term-1",
		SchoolID:  "school-1",
		Name:      "Spring 2025",
		StartDate: time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC),
	})
	dir.PutStudent(tenant.Student{ID: "student-1", SchoolID: "school-1", Name: "Ana", Active: true})

	deps := &command.Deps{
		UoW:       store,
		Directory: dir,
		Events:    nopPublisher{},
		Audit:     command.NopAuditRecorder{},
		Policy:    command.DefaultPolicy(),
		Calendar:  cal,
		Logger:    logger.Nop(),
	}
	reader := store.Reader()

	return NewServer(DefaultConfig(), Dependencies{
		Commands: Commands{
			CreateConcept:     command.NewCreateConceptHandler(deps),
			ConceptAdmin:      command.NewConceptAdminHandler(deps),
			CreateCharge:      command.NewCreateChargeHandler(deps),
			CancelCharge:      command.NewCancelChargeHandler(deps),
			AccrueLateFee:     command.NewAccrueLateFeeHandler(deps),
			GenerateRecurring: command.NewGenerateRecurringChargesHandler(deps),
			ApplyPayment:      command.NewApplyPaymentHandler(deps),
			CancelPayment:     command.NewCancelPaymentHandler(deps),
			Recompute:         command.NewRecomputeStatementHandler(deps),
		},
		Queries: Queries{
			GetStatement:     query.NewGetStatementHandler(reader, dir, nil, logger.Nop()),
			GetCharge:        query.NewGetChargeHandler(reader),
			GetChargeHistory: query.NewGetChargeHistoryHandler(reader),
			GetAgingReport:   query.NewGetAgingReportHandler(reader, cal),
			ListConcepts:     query.NewListConceptsHandler(reader),
		},
		Calendar: cal,
		Logger:   logger.Nop(),
	})
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func do(t *testing.T, s *Server, method, path string, body interface{}) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(handlers.HeaderActorID, "admin-1")

	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	if resp.StatusCode != fiber.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	}
	return resp.StatusCode, env
}

func createTuition(t *testing.T, s *Server) string {
	t.Helper()
	status, env := do(t, s, "POST", "/api/v1/concepts", map[string]interface{}{
		"school_id":         "school-1",
		"term_id":           "term-1",
		"name":              "Tuition",
		"base_amount":       "1000",
		"discount_ceiling":  "20",
		"late_fee_rate":     "10",
		"grace_period_days": 5,
	})
	require.Equal(t, fiber.StatusCreated, status, "%+v", env.Error)

	var c query.ConceptDTO
	require.NoError(t, json.Unmarshal(env.Data, &c))
	return c.ID
}

func createCharge(t *testing.T, s *Server, conceptID string) query.ChargeDTO {
	t.Helper()
	status, env := do(t, s, "POST", "/api/v1/charges", map[string]interface{}{
		"student_id":       "student-1",
		"concept_id":       conceptID,
		"term_id":          "term-1",
		"due_date":         "2025-03-10",
		"discount_percent": "10",
	})
	require.Equal(t, fiber.StatusCreated, status, "%+v", env.Error)

	var c query.ChargeDTO
	require.NoError(t, json.Unmarshal(env.Data, &c))
	return c
}

func TestServer_PaymentFlow(t *testing.T) {
	s := newTestServer(t)
	ch := createCharge(t, s, createTuition(t, s))
	assert.Equal(t, "900", ch.FinalAmount.String())

	status, env := do(t, s, "POST", "/api/v1/charges/"+ch.ID+"/payments", map[string]interface{}{
		"amount": "400",
		"method": "cash",
		"folio":  "a-001",
	})
	require.Equal(t, fiber.StatusCreated, status, "%+v", env.Error)

	var paid paymentResponse
	require.NoError(t, json.Unmarshal(env.Data, &paid))
	assert.Equal(t, "A-001", paid.Payment.Folio)
	assert.Equal(t, "500", paid.Charge.PendingBalance.String())

	status, env = do(t, s, "GET", "/api/v1/students/student-1/terms/term-1/statement", nil)
	require.Equal(t, fiber.StatusOK, status)
	var st struct {
		PendingBalance string `json:"pending_balance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, "500", st.PendingBalance)

	status, env = do(t, s, "GET", "/api/v1/charges/"+ch.ID, nil)
	require.Equal(t, fiber.StatusOK, status)
	var got query.ChargeDTO
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Len(t, got.Payments, 1)
}

func TestServer_Overpayment(t *testing.T) {
	s := newTestServer(t)
	ch := createCharge(t, s, createTuition(t, s))

	status, env := do(t, s, "POST", "/api/v1/charges/"+ch.ID+"/payments", map[string]interface{}{
		"amount": "950",
		"method": "cash",
		"folio":  "F-1",
	})
	assert.Equal(t, fiber.StatusConflict, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "overpayment", env.Error.Code)
	assert.False(t, env.Error.Retryable)
}

func TestServer_DuplicateFolio(t *testing.T) {
	s := newTestServer(t)
	ch := createCharge(t, s, createTuition(t, s))

	body := map[string]interface{}{"amount": "100", "method": "cash", "folio": "F-1"}
	status, _ := do(t, s, "POST", "/api/v1/charges/"+ch.ID+"/payments", body)
	require.Equal(t, fiber.StatusCreated, status)

	status, env := do(t, s, "POST", "/api/v1/charges/"+ch.ID+"/payments", body)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "duplicate_folio", env.Error.Code)
}

func TestServer_PaymentAmountBeyondCurrencyScale(t *testing.T) {
	s := newTestServer(t)
	ch := createCharge(t, s, createTuition(t, s))

	status, env := do(t, s, "POST", "/api/v1/charges/"+ch.ID+"/payments", map[string]interface{}{
		"amount": "0.005",
		"method": "cash",
		"folio":  "F-SUB",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	require.Len(t, env.Error.Violations, 1)
	assert.Equal(t, "amount", env.Error.Violations[0].Field)
	assert.Equal(t, "scale", env.Error.Violations[0].Rule)
}

func TestServer_LateFeeRejectsFutureAsOf(t *testing.T) {
	s := newTestServer(t)
	ch := createCharge(t, s, createTuition(t, s))

	status, env := do(t, s, "POST", "/api/v1/charges/"+ch.ID+"/late-fee", map[string]interface{}{
		"as_of": "2025-12-20",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	require.Len(t, env.Error.Violations, 1)
	assert.Equal(t, "as_of", env.Error.Violations[0].Field)
	assert.Equal(t, "not_future", env.Error.Violations[0].Rule)

	status, env = do(t, s, "GET", "/api/v1/charges/"+ch.ID, nil)
	require.Equal(t, fiber.StatusOK, status)
	var got query.ChargeDTO
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.True(t, got.LateFee.IsZero())
}

func TestParseDate(t *testing.T) {
	cal := timeutil.UTC()

	got, err := parseDate(cal, "CreateCharge", "due_date", "2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), got)

	got, err = parseDate(cal, "CreateCharge", "due_date", "")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = parseDate(cal, "CreateCharge", "charges[2].due_date", "2025-02-30")
	require.ErrorIs(t, err, shared.ErrValidation)
	v := shared.ViolationsOf(err)
	require.Len(t, v, 1)
	assert.Equal(t, "charges[2].due_date", v[0].Field)
	assert.Equal(t, "datetime", v[0].Rule)
}

func TestServer_ValidationReportsEveryField(t *testing.T) {
	s := newTestServer(t)

	status, env := do(t, s, "POST", "/api/v1/charges", map[string]interface{}{
		"due_date": "10/03/2025",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "validation_error", env.Error.Code)

	fields := make([]string, 0, len(env.Error.Violations))
	for _, v := range env.Error.Violations {
		fields = append(fields, v.Field)
	}
	assert.ElementsMatch(t, []string{"student_id", "concept_id", "term_id", "due_date"}, fields)
}

func TestServer_CancelChargeRequiresReason(t *testing.T) {
	s := newTestServer(t)
	ch := createCharge(t, s, createTuition(t, s))

	status, _ := do(t, s, "POST", "/api/v1/charges/"+ch.ID+"/cancel", map[string]interface{}{})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, env := do(t, s, "POST", "/api/v1/charges/"+ch.ID+"/cancel", map[string]interface{}{"reason": "duplicate"})
	require.Equal(t, fiber.StatusOK, status, "%+v", env.Error)

	status, env = do(t, s, "POST", "/api/v1/charges/"+ch.ID+"/payments", map[string]interface{}{
		"amount": "100", "method": "cash", "folio": "F-9",
	})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "invalid_state_transition", env.Error.Code)
}

func TestServer_NotFound(t *testing.T) {
	s := newTestServer(t)

	status, env := do(t, s, "GET", "/api/v1/charges/missing", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "not_found", env.Error.Code)

	status, env = do(t, s, "GET", "/api/v1/nothing-here", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "route_not_found", env.Error.Code)
}

func TestServer_MutationRequiresActor(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/v1/concepts", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestServer_ListAndDeleteConcepts(t *testing.T) {
	s := newTestServer(t)
	id := createTuition(t, s)

	status, env := do(t, s, "GET", "/api/v1/concepts?school_id=school-1&active=true", nil)
	require.Equal(t, fiber.StatusOK, status)
	var list []query.ConceptDTO
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)

	status, _ = do(t, s, "DELETE", "/api/v1/concepts/"+id, nil)
	assert.Equal(t, fiber.StatusNoContent, status)
}

func TestServer_AgingRejectsBadDate(t *testing.T) {
	s := newTestServer(t)

	status, env := do(t, s, "GET", "/api/v1/schools/school-1/terms/term-1/aging?as_of=yesterday", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "as_of", env.Error.Violations[0].Field)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{shared.NewValidationError("charge", "Create", "amount", "required", "x"), fiber.StatusBadRequest},
		{shared.ErrPolicyViolation, fiber.StatusUnprocessableEntity},
		{shared.ErrContention, fiber.StatusServiceUnavailable},
		{shared.ErrDuplicateFolio, fiber.StatusConflict},
		{context.DeadlineExceeded, fiber.StatusGatewayTimeout},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := statusFor(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
	}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("db", func(context.Context) error { return nil })
	checker.AddOptionalCheck("cache", func(context.Context) error { return errors.New("down") })
	s.deps.HealthChecker = checker

	status, env := do(t, s, "GET", "/health", nil)
	assert.Equal(t, fiber.StatusOK, status)

	var hs handlers.HealthStatus
	require.NoError(t, json.Unmarshal(env.Data, &hs))
	assert.True(t, hs.Ready)
	assert.False(t, hs.Checks["cache"].Healthy)

	status, _ = do(t, s, "GET", "/live", nil)
	assert.Equal(t, fiber.StatusOK, status)
}

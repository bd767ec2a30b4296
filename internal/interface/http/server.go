// Package http implements the REST API of the student ledger: payment
// concepts, charges, payments, statements and the aging report.
package http

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/schoolhub/student-ledger/internal/application/command"
	"github.com/schoolhub/student-ledger/internal/application/query"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/internal/interface/http/handlers"
	"github.com/schoolhub/student-ledger/pkg/logger"
	"github.com/schoolhub/student-ledger/pkg/retry"
	"github.com/schoolhub/student-ledger/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Addr - address to bind (default: ":8080").
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// BodyLimit - maximum request body size in bytes.
	BodyLimit int

	// ContentionRetries - attempts for a command that loses a lock race
	// before the client gets a retryable 503.
	ContentionRetries int

	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BodyLimit:         1 << 20,
		ContentionRetries: 3,
		Version:           "v1",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Commands groups the write side.
type Commands struct {
	CreateConcept     *command.CreateConceptHandler
	ConceptAdmin      *command.ConceptAdminHandler
	CreateCharge      *command.CreateChargeHandler
	CancelCharge      *command.CancelChargeHandler
	AccrueLateFee     *command.AccrueLateFeeHandler
	GenerateRecurring *command.GenerateRecurringChargesHandler
	ApplyPayment      *command.ApplyPaymentHandler
	CancelPayment     *command.CancelPaymentHandler
	Recompute         *command.RecomputeStatementHandler
}

// Queries groups the read side.
type Queries struct {
	GetStatement     *query.GetStatementHandler
	GetCharge        *query.GetChargeHandler
	GetChargeHistory *query.GetChargeHistoryHandler
	GetAgingReport   *query.GetAgingReportHandler
	ListConcepts     *query.ListConceptsHandler
}

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	Commands Commands
	Queries  Queries

	// Calendar parses request dates in the ledger time zone.
	Calendar *timeutil.Calendar

	Logger *logger.Logger

	HealthChecker handlers.HealthChecker
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config  Config
	deps    Dependencies
	app     *fiber.App
	logger  *logger.Logger
	retrier *retry.Retrier

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}
	if deps.Calendar == nil {
		deps.Calendar = timeutil.UTC()
	}
	if deps.HealthChecker == nil {
		deps.HealthChecker = handlers.NewNoopHealthChecker()
	}
	if config.ContentionRetries < 1 {
		config.ContentionRetries = 1
	}

	s := &Server{
		config: config,
		deps:   deps,
		logger: deps.Logger.With(logger.Component("http")),
		retrier: retry.TransactionRetrier(shared.IsRetryable,
			retry.WithMaxAttempts(config.ContentionRetries)),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "student-ledger",
		ErrorHandler:          s.errorHandler,
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		IdleTimeout:           config.IdleTimeout,
		BodyLimit:             config.BodyLimit,
		DisableStartupMessage: true,
	})

	s.app.Use(recover.New())
	s.app.Use(requestid.New())
	s.app.Use(handlers.RequestLogger(s.logger))

	s.setupRoutes()
	return s
}

// App exposes the fiber application, mainly for app.Test in tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/ready", s.handleReady)
	s.app.Get("/live", s.handleLive)

	api := s.app.Group("/api/v1", handlers.ActorMiddleware())

	// Payment concept catalog
	api.Post("/concepts", s.handleCreateConcept)
	api.Get("/concepts", s.handleListConcepts)
	api.Post("/concepts/:id/deactivate", s.handleDeactivateConcept)
	api.Delete("/concepts/:id", s.handleDeleteConcept)

	// Charges
	api.Post("/charges", s.handleCreateCharge)
	api.Post("/charges/bulk", s.handleBulkCreateCharges)
	api.Get("/charges/:id", s.handleGetCharge)
	api.Post("/charges/:id/cancel", s.handleCancelCharge)
	api.Post("/charges/:id/late-fee", s.handleAccrueLateFee)

	// Payments
	api.Post("/charges/:id/payments", s.handleApplyPayment)
	api.Post("/payments/:id/cancel", s.handleCancelPayment)

	// Statements and reports
	api.Get("/students/:studentID/terms/:termID/statement", s.handleGetStatement)
	api.Post("/students/:studentID/terms/:termID/statement/recompute", s.handleRecompute)
	api.Get("/students/:studentID/terms/:termID/charges", s.handleChargeHistory)
	api.Get("/schools/:schoolID/terms/:termID/aging", s.handleAgingReport)
	api.Post("/terms/:termID/recurring-charges", s.handleGenerateRecurring)

	s.app.Use(func(c *fiber.Ctx) error {
		return writeJSONError(c, fiber.StatusNotFound, "route_not_found", "Route not found: "+c.Method()+" "+c.Path(), false)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.mu.Lock()
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("http server starting", logger.String("addr", s.config.Addr))

	err := s.app.Listen(s.config.Addr)

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.app.ShutdownWithContext(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// statusFor maps ledger error kinds to HTTP status codes.
func statusFor(err error) (int, string) {
	switch shared.Kind(err) {
	case shared.ErrValidation:
		return fiber.StatusBadRequest, "validation_error"
	case shared.ErrPolicyViolation:
		return fiber.StatusUnprocessableEntity, "policy_violation"
	case shared.ErrStateTransition:
		return fiber.StatusConflict, "invalid_state_transition"
	case shared.ErrOverpayment:
		return fiber.StatusConflict, "overpayment"
	case shared.ErrDuplicateFolio:
		return fiber.StatusConflict, "duplicate_folio"
	case shared.ErrContention:
		return fiber.StatusServiceUnavailable, "contention"
	case shared.ErrNotFound:
		return fiber.StatusNotFound, "not_found"
	case shared.ErrExternalService:
		return fiber.StatusBadGateway, "external_service_error"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fiber.StatusGatewayTimeout, "timeout"
	}
	return fiber.StatusInternalServerError, "internal_error"
}

// errorHandler renders every error returned by a route.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return writeJSONError(c, fe.Code, "http_error", fe.Message, false)
	}

	status, code := statusFor(err)
	if status >= fiber.StatusInternalServerError && status != fiber.StatusServiceUnavailable {
		logger.FromContext(c.UserContext()).Error("request error", logger.Err(err))
		return writeJSONError(c, status, code, "internal error", false)
	}

	return c.Status(status).JSON(JSONResponse{
		Success: false,
		Error: &APIError{
			Code:       code,
			Message:    err.Error(),
			Retryable:  shared.IsRetryable(err),
			Violations: shared.ViolationsOf(err),
		},
		RequestID: requestID(c),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      interface{}   `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error. Retryable tells the client whether the
// same request may be resubmitted.
type APIError struct {
	Code       string             `json:"code"`
	Message    string             `json:"message"`
	Retryable  bool               `json:"retryable"`
	Violations []shared.Violation `json:"violations,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
}

func writeJSON(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC(), Version: "v1"},
		RequestID: requestID(c),
	})
}

func writeList(c *fiber.Ctx, data interface{}, total int) error {
	return c.Status(fiber.StatusOK).JSON(JSONResponse{
		Success:   true,
		Data:      data,
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC(), Version: "v1", TotalCount: total},
		RequestID: requestID(c),
	})
}

func writeJSONError(c *fiber.Ctx, status int, code, message string, retryable bool) error {
	return c.Status(status).JSON(JSONResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message, Retryable: retryable},
		RequestID: requestID(c),
	})
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals("requestid").(string)
	return id
}

package http

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/schoolhub/student-ledger/internal/application/command"
	"github.com/schoolhub/student-ledger/internal/domain/concept"
	"github.com/schoolhub/student-ledger/internal/domain/payment"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/pkg/timeutil"
)

// Money travels as decimal strings ("1250.50") so no amount passes through a
// float.

// CreateConceptRequest is the body of POST /concepts.
type CreateConceptRequest struct {
	SchoolID        string  `json:"school_id" validate:"required"`
	TermID          string  `json:"term_id" validate:"required"`
	Name            string  `json:"name" validate:"required,max=120"`
	Description     string  `json:"description" validate:"max=500"`
	BaseAmount      string  `json:"base_amount" validate:"required,numeric"`
	Recurring       bool    `json:"recurring"`
	Periodicity     string  `json:"periodicity" validate:"omitempty,oneof=none weekly monthly bimonthly quarterly semiannual annual"`
	DueDay          int     `json:"due_day" validate:"min=0,max=31"`
	DiscountCeiling string  `json:"discount_ceiling" validate:"omitempty,numeric"`
	LateFeeRate     *string `json:"late_fee_rate" validate:"omitempty,numeric"`
	GracePeriodDays int     `json:"grace_period_days" validate:"min=0"`
}

func (r CreateConceptRequest) command(actor string) command.CreateConceptCommand {
	cmd := command.CreateConceptCommand{
		SchoolID:        r.SchoolID,
		TermID:          r.TermID,
		Name:            r.Name,
		Description:     r.Description,
		BaseAmount:      mustDecimal(r.BaseAmount),
		Recurring:       r.Recurring,
		Periodicity:     concept.Periodicity(r.Periodicity),
		DueDay:          r.DueDay,
		DiscountCeiling: mustDecimal(r.DiscountCeiling),
		GracePeriodDays: r.GracePeriodDays,
		ActorID:         actor,
	}
	if cmd.Periodicity == "" {
		cmd.Periodicity = concept.PeriodicityNone
	}
	if r.LateFeeRate != nil {
		rate := mustDecimal(*r.LateFeeRate)
		cmd.LateFeeRate = &rate
	}
	return cmd
}

// CreateChargeRequest is the body of POST /charges and one item of
// POST /charges/bulk.
type CreateChargeRequest struct {
	StudentID       string `json:"student_id" validate:"required"`
	ConceptID       string `json:"concept_id" validate:"required"`
	TermID          string `json:"term_id" validate:"required"`
	DueDate         string `json:"due_date" validate:"required,datetime=2006-01-02"`
	DiscountPercent string `json:"discount_percent" validate:"omitempty,numeric"`
	Description     string `json:"description" validate:"max=500"`
}

func (r CreateChargeRequest) command(cal *timeutil.Calendar, op, field, actor string) (command.CreateChargeCommand, error) {
	due, err := parseDate(cal, op, field, r.DueDate)
	if err != nil {
		return command.CreateChargeCommand{}, err
	}
	return command.CreateChargeCommand{
		StudentID:       r.StudentID,
		ConceptID:       r.ConceptID,
		TermID:          r.TermID,
		DueDate:         due,
		DiscountPercent: mustDecimal(r.DiscountPercent),
		Description:     r.Description,
		ActorID:         actor,
	}, nil
}

// BulkCreateChargesRequest is the body of POST /charges/bulk.
type BulkCreateChargesRequest struct {
	Charges []CreateChargeRequest `json:"charges" validate:"required,min=1,max=500,dive"`
}

// ReasonRequest carries the reason of a cancellation.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// ApplyPaymentRequest is the body of POST /charges/:id/payments.
type ApplyPaymentRequest struct {
	Amount      string `json:"amount" validate:"required,numeric"`
	Method      string `json:"method" validate:"required,oneof=cash card transfer check gateway other"`
	Folio       string `json:"folio" validate:"required,max=64"`
	Reference   string `json:"reference" validate:"max=128"`
	InvoiceID   string `json:"invoice_id" validate:"max=64"`
	PaymentDate string `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
}

func (r ApplyPaymentRequest) command(cal *timeutil.Calendar, chargeID, actor string) (command.ApplyPaymentCommand, error) {
	paid, err := parseDate(cal, "ApplyPayment", "payment_date", r.PaymentDate)
	if err != nil {
		return command.ApplyPaymentCommand{}, err
	}
	return command.ApplyPaymentCommand{
		ChargeID:    chargeID,
		Amount:      mustDecimal(r.Amount),
		Method:      payment.Method(r.Method),
		Folio:       r.Folio,
		Reference:   r.Reference,
		InvoiceID:   r.InvoiceID,
		PaymentDate: paid,
		ActorID:     actor,
	}, nil
}

// AccrueRequest optionally pins the accrual date.
type AccrueRequest struct {
	AsOf string `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
}

// GenerateRecurringRequest is the body of POST /terms/:termID/recurring-charges.
type GenerateRecurringRequest struct {
	AsOf string `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
}

// ══════════════════════════════════════════════════════════════════════════════
// BINDING
// ══════════════════════════════════════════════════════════════════════════════

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bind parses the JSON body into req and validates it. Every failing field
// is reported as a violation.
func bind(c *fiber.Ctx, op string, req interface{}) error {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(req); err != nil {
			return shared.NewValidationError("request", op, "body", "json", "malformed JSON body")
		}
	}
	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return shared.NewValidationError("request", op, "body", "invalid", err.Error())
		}
		var v shared.Violations
		for _, fe := range fieldErrs {
			v.Add(fieldName(fe), fe.Tag(), describe(fe))
		}
		return v.Err("request", op)
	}
	return nil
}

// fieldName drops the request type from "BulkCreateChargesRequest.charges[0].due_date".
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "numeric":
		return "must be a decimal number"
	case "datetime":
		return "must be a date formatted YYYY-MM-DD"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

// parseDate reads an optional YYYY-MM-DD field as a local date. An empty
// value yields the zero time.
func parseDate(cal *timeutil.Calendar, op, field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := cal.ParseDate(raw)
	if err != nil {
		return time.Time{}, shared.NewValidationError("request", op, field, "datetime", "must be a date formatted YYYY-MM-DD")
	}
	return t, nil
}

// mustDecimal parses a value already checked by the numeric rule.
func mustDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

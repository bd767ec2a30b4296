package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/schoolhub/student-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// SQLSTATE codes the ledger cares about.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
)

func pgCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

// IsUniqueViolation checks if the error is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	code, _ := pgCode(err)
	return code == codeUniqueViolation
}

// IsContention reports lock timeouts, deadlocks and serialization failures.
func IsContention(err error) bool {
	switch code, _ := pgCode(err); code {
	case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
		return true
	}
	return false
}

// IsNoRows checks if the error is a "no rows" error.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// mapError translates driver errors into ledger errors. Errors it does not
// recognise are wrapped with the operation name.
func mapError(domain, op string, err error) error {
	if err == nil {
		return nil
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return err
	}

	code, constraint := pgCode(err)
	switch code {
	case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
		return shared.Contention(domain, op, err)
	case codeUniqueViolation:
		switch constraint {
		case constraintFolio:
			return shared.WrapError(domain, op, shared.ErrDuplicateFolio, "folio already used", err)
		case constraintGeneratedPeriod:
			return shared.WrapError(domain, op, shared.ErrPolicyViolation, "charge already generated for period", err)
		}
		return shared.WrapError(domain, op, shared.ErrPolicyViolation, "duplicate record", err)
	case codeCheckViolation:
		return shared.WrapError(domain, op, shared.ErrPolicyViolation, "constraint "+constraint+" violated", err)
	case codeForeignKeyViolation:
		return shared.WrapError(domain, op, shared.ErrNotFound, "referenced record does not exist", err)
	}

	return fmt.Errorf("postgres: %s.%s: %w", domain, op, err)
}

// notFoundOr maps pgx.ErrNoRows to a not-found error for id.
func notFoundOr(domain, op, id string, err error) error {
	if IsNoRows(err) {
		return shared.NotFound(domain, op, id)
	}
	return mapError(domain, op, err)
}

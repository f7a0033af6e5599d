package pgstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name       string
		err        error
		constraint string
		expected   bool
	}{
		{name: "nil", err: nil, constraint: constraintBookingPrimary, expected: false},
		{name: "plain error", err: errors.New("boom"), constraint: constraintBookingPrimary, expected: false},
		{name: "matching constraint", err: &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintPMSBookingRef}, constraint: constraintPMSBookingRef, expected: true},
		{name: "wrapped match", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintBookingPrimary}), constraint: constraintBookingPrimary, expected: true},
		{name: "other constraint", err: &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintBookingPrimary}, constraint: constraintPMSBookingRef, expected: false},
		{name: "other code", err: &pgconn.PgError{Code: "23503", ConstraintName: constraintPMSBookingRef}, constraint: constraintPMSBookingRef, expected: false},
	}
	for _, testCase := range testCases {
		if got := isUniqueViolation(testCase.err, testCase.constraint); got != testCase.expected {
			test.Fatalf("%s: expected %t, got %t", testCase.name, testCase.expected, got)
		}
	}
}

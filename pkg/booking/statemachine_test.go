package booking

import (
	"errors"
	"slices"
	"testing"
)

var allStatuses = []Status{StatusPending, StatusApproved, StatusPaid, StatusCancelled}

func TestValidateTransitionMatrix(test *testing.T) {
	test.Parallel()
	allowed := map[[2]Status]bool{
		{StatusPending, StatusApproved}:   true,
		{StatusPending, StatusCancelled}:  true,
		{StatusApproved, StatusPaid}:      true,
		{StatusApproved, StatusCancelled}: true,
		{StatusPaid, StatusCancelled}:     true,
	}
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			err := ValidateTransition(from, to)
			if allowed[[2]Status{from, to}] {
				if err != nil {
					test.Fatalf("%s -> %s: unexpected error %v", from, to, err)
				}
				continue
			}
			if !errors.Is(err, ErrInvalidTransition) {
				test.Fatalf("%s -> %s: expected ErrInvalidTransition, got %v", from, to, err)
			}
			var transitionError TransitionError
			if !errors.As(err, &transitionError) || transitionError.From != from || transitionError.To != to {
				test.Fatalf("%s -> %s: expected TransitionError, got %#v", from, to, err)
			}
		}
	}
}

func TestCancelledIsNeverLeft(test *testing.T) {
	test.Parallel()
	for _, to := range allStatuses {
		if CanTransition(StatusCancelled, to) {
			test.Fatalf("cancelled -> %s must be rejected", to)
		}
	}
}

func TestTransitionPath(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		from      Status
		to        Status
		path      []Status
		reachable bool
	}{
		{from: StatusPending, to: StatusPending, path: nil, reachable: true},
		{from: StatusPending, to: StatusApproved, path: []Status{StatusApproved}, reachable: true},
		{from: StatusPending, to: StatusPaid, path: []Status{StatusApproved, StatusPaid}, reachable: true},
		{from: StatusApproved, to: StatusCancelled, path: []Status{StatusCancelled}, reachable: true},
		{from: StatusApproved, to: StatusPending, reachable: false},
		{from: StatusPaid, to: StatusApproved, reachable: false},
		{from: StatusCancelled, to: StatusApproved, reachable: false},
	}
	for _, testCase := range testCases {
		path, reachable := TransitionPath(testCase.from, testCase.to)
		if reachable != testCase.reachable {
			test.Fatalf("%s -> %s: expected reachable=%t", testCase.from, testCase.to, testCase.reachable)
		}
		if !slices.Equal(path, testCase.path) {
			test.Fatalf("%s -> %s: expected path %v, got %v", testCase.from, testCase.to, testCase.path, path)
		}
	}
}

func TestIsTerminal(test *testing.T) {
	test.Parallel()
	if IsTerminal(StatusPending) || IsTerminal(StatusApproved) {
		test.Fatalf("open statuses must not be terminal")
	}
	if !IsTerminal(StatusPaid) || !IsTerminal(StatusCancelled) {
		test.Fatalf("paid and cancelled must be terminal")
	}
}

package booking

var allowedTransitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusCancelled},
	StatusApproved: {StatusPaid, StatusCancelled},
	StatusPaid:     {StatusCancelled},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from Status, to Status) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a TransitionError when from -> to is not allowed.
func ValidateTransition(from Status, to Status) error {
	if !CanTransition(from, to) {
		return TransitionError{From: from, To: to}
	}
	return nil
}

// TransitionPath returns the single-step transitions that lead from -> to,
// or false when to is unreachable. Equal statuses yield an empty path.
func TransitionPath(from Status, to Status) ([]Status, bool) {
	if from == to {
		return nil, true
	}
	if CanTransition(from, to) {
		return []Status{to}, true
	}
	for _, intermediate := range allowedTransitions[from] {
		if intermediate == StatusCancelled {
			continue
		}
		if CanTransition(intermediate, to) {
			return []Status{intermediate, to}, true
		}
	}
	return nil, false
}

// IsTerminal reports whether no further transition leaves status, apart from
// the cancellation of a paid booking.
func IsTerminal(status Status) bool {
	return status == StatusPaid || status == StatusCancelled
}

// Package legacy keeps callers of the older in-memory HR tracker working.
//
// The old tracker used its own status vocabulary. FromLegacy and ToLegacy
// translate between the two closed sets; Facade exposes the old method
// names on top of a cases.Store so that stored state always uses the
// current vocabulary.
package legacy

import (
	"fmt"

	"github.com/hrguard/hrguard/pkg/hr"
)

// Status is the old tracker's status vocabulary.
type Status string

const (
	StatusNone     Status = "NONE"
	StatusActive   Status = "ACTIVE"
	StatusFinished Status = "FINISHED"
	StatusFailed   Status = "FAILED"
)

var toLegacy = map[hr.Status]Status{
	hr.StatusNone:     StatusNone,
	hr.StatusActive:   StatusActive,
	hr.StatusSafe:     StatusFinished,
	hr.StatusViolated: StatusFailed,
	// The old vocabulary has no UNKNOWN. This direction is lossy on purpose:
	// FromLegacy(ToLegacy(UNKNOWN)) is NONE.
	hr.StatusUnknown: StatusNone,
}

var fromLegacy = map[Status]hr.Status{
	StatusNone:     hr.StatusNone,
	StatusActive:   hr.StatusActive,
	StatusFinished: hr.StatusSafe,
	StatusFailed:   hr.StatusViolated,
}

// ToLegacy maps a current status to the old vocabulary.
func ToLegacy(s hr.Status) (Status, error) {
	v, ok := toLegacy[s]
	if !ok {
		return "", fmt.Errorf("no legacy status for %q", s)
	}
	return v, nil
}

// FromLegacy maps an old status to the current vocabulary.
func FromLegacy(s Status) (hr.Status, error) {
	v, ok := fromLegacy[s]
	if !ok {
		return "", fmt.Errorf("unknown legacy status %q", s)
	}
	return v, nil
}

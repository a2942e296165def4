// Package matching compares actual HTTP requests, responses and bodies with the patterns recorded
// in a pact and reports every discrepancy as a Mismatch.
package matching

import (
	"fmt"

	"github.com/form3tech-oss/pact-verifier/internal/app/matchers"
	"github.com/form3tech-oss/pact-verifier/internal/app/pactpath"
)

type Kind string

const (
	TypeOrValueMismatch Kind = "TypeOrValueMismatch"
	MissingKeyMismatch  Kind = "MissingKeyMismatch"
	RuleMismatch        Kind = "RuleMismatch"
	LengthMismatch      Kind = "LengthMismatch"
	BodyMismatch        Kind = "BodyMismatch"
	BodyTypeMismatch    Kind = "BodyTypeMismatch"
	StatusMismatch      Kind = "StatusMismatch"
	HeaderMismatch      Kind = "HeaderMismatch"
	QueryMismatch       Kind = "QueryMismatch"
	MethodMismatch      Kind = "MethodMismatch"
	PathMismatch        Kind = "PathMismatch"
	SetupFailed         Kind = "SetupFailed"
	TransportFailure    Kind = "TransportFailure"
	Cancelled           Kind = "Cancelled"
)

// Mismatch is a single discrepancy. Path is relative to the part of the message that was
// compared: the body root, the header or parameter name, or $ for status, method and path.
type Mismatch struct {
	Kind     Kind                `json:"kind"`
	Path     pactpath.Expression `json:"path"`
	Expected string              `json:"expected,omitempty"`
	Actual   string              `json:"actual,omitempty"`
	Message  string              `json:"message"`
	Rule     matchers.Kind       `json:"rule,omitempty"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s at %s: %s", m.Kind, m.Path, m.Message)
}

// Failure builds a mismatch that is not tied to a compared value, such as a failed provider state
// setup.
func Failure(kind Kind, format string, args ...interface{}) Mismatch {
	return Mismatch{Kind: kind, Path: pactpath.Root(), Message: fmt.Sprintf(format, args...)}
}

func fromFailure(f *matchers.Failure, path pactpath.Expression, expected, actual interface{}, kind Kind) Mismatch {
	return Mismatch{
		Kind:     kind,
		Path:     path,
		Expected: matchers.Describe(expected),
		Actual:   matchers.Describe(actual),
		Message:  f.Message,
		Rule:     f.Rule.Kind(),
	}
}

package verification

import (
	"time"

	"github.com/form3tech-oss/pact-verifier/internal/app/matching"
)

// State is a step of the verification of one interaction.
type State string

const (
	StatePending          State = "Pending"
	StateSetupRequested   State = "StateSetupRequested"
	StateSetupComplete    State = "StateSetupComplete"
	StateRequestSent      State = "RequestSent"
	StateResponseReceived State = "ResponseReceived"
	StateDiffed           State = "Diffed"
	StateRetrying         State = "Retrying"
	StatePassed           State = "Passed"
	StateFailed           State = "Failed"
)

// VerificationResult is the outcome of one interaction.
type VerificationResult struct {
	InteractionID string `json:"interactionId,omitempty"`
	Description   string `json:"description"`
	ProviderState string `json:"providerState,omitempty"`
	Passed        bool   `json:"passed"`
	// Pending results do not fail the verification when they do not pass.
	Pending     bool                `json:"pending"`
	State       State               `json:"state"`
	Transitions []State             `json:"transitions"`
	Mismatches  []matching.Mismatch `json:"mismatches"`
	Request     *matching.Request   `json:"request,omitempty"`
	Response    *matching.Response  `json:"response,omitempty"`
	Attempts    int                 `json:"attempts"`
	Duration    time.Duration       `json:"duration"`
}

// Blocking reports whether the result fails the verification.
func (r *VerificationResult) Blocking() bool {
	return !r.Passed && !r.Pending
}

func (r *VerificationResult) transition(s State) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

func (r *VerificationResult) finish(mismatches []matching.Mismatch) {
	r.Mismatches = mismatches
	if r.Mismatches == nil {
		r.Mismatches = []matching.Mismatch{}
	}
	r.Passed = len(mismatches) == 0
	if r.Passed {
		r.transition(StatePassed)
	} else {
		r.transition(StateFailed)
	}
}

package verifier

import (
	"github.com/form3tech-oss/pact-verifier/internal/app/matcher"
)

type Outcome string

const (
	Passed  Outcome = "passed"
	Failed  Outcome = "failed"
	Errored Outcome = "errored"
)

// Verdict is the result of verifying one interaction. Errored verdicts carry
// a single mismatch describing why the replay could not take place.
type Verdict struct {
	Interaction string             `json:"interaction" yaml:"interaction"`
	Outcome     Outcome            `json:"outcome" yaml:"outcome"`
	Mismatches  []matcher.Mismatch `json:"mismatches,omitempty" yaml:"mismatches,omitempty"`
	Err         error              `json:"-" yaml:"-"`
}

func passedOrFailed(description string, mismatches []matcher.Mismatch) Verdict {
	if len(mismatches) == 0 {
		return Verdict{Interaction: description, Outcome: Passed}
	}
	return Verdict{Interaction: description, Outcome: Failed, Mismatches: mismatches}
}

func errored(description string, expected string, err error) Verdict {
	return Verdict{
		Interaction: description,
		Outcome:     Errored,
		Mismatches:  []matcher.Mismatch{{Expected: expected, Actual: err.Error()}},
		Err:         err,
	}
}

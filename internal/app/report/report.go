// Package report rolls verification verdicts up into a report and renders it.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/form3tech-oss/pact-verifier/internal/app/verifier"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	}
	return "", errors.Errorf("unknown report format %q, expected text, json or yaml", s)
}

// Report is the outcome of one verification run. Success holds only when
// every verdict passed.
type Report struct {
	Consumer string             `json:"consumer,omitempty" yaml:"consumer,omitempty"`
	Provider string             `json:"provider,omitempty" yaml:"provider,omitempty"`
	Verdicts []verifier.Verdict `json:"verdicts" yaml:"verdicts"`
	Passed   int                `json:"passed" yaml:"passed"`
	Failed   int                `json:"failed" yaml:"failed"`
	Errored  int                `json:"errored" yaml:"errored"`
	Success  bool               `json:"success" yaml:"success"`
}

// Aggregate tallies verdicts. The verdict slice is not modified.
func Aggregate(verdicts []verifier.Verdict) Report {
	r := Report{Verdicts: verdicts}
	for _, v := range verdicts {
		switch v.Outcome {
		case verifier.Passed:
			r.Passed++
		case verifier.Failed:
			r.Failed++
		default:
			r.Errored++
		}
	}
	r.Success = r.Failed == 0 && r.Errored == 0
	return r
}

// Summary is the one line tally of the report.
func (r Report) Summary() string {
	return fmt.Sprintf("%d interactions, %d passed, %d failed, %d errored",
		len(r.Verdicts), r.Passed, r.Failed, r.Errored)
}

// FirstFailure returns the first verdict that did not pass.
func (r Report) FirstFailure() (verifier.Verdict, bool) {
	for _, v := range r.Verdicts {
		if v.Outcome != verifier.Passed {
			return v, true
		}
	}
	return verifier.Verdict{}, false
}

// Lines renders one line per verdict followed, for failed and errored
// verdicts, by one indented line per mismatch.
func (r Report) Lines() []string {
	var lines []string
	for _, v := range r.Verdicts {
		lines = append(lines, fmt.Sprintf("[%s] %s", v.Outcome, v.Interaction))
		if v.Outcome == verifier.Passed {
			continue
		}
		for _, m := range v.Mismatches {
			lines = append(lines, "    "+m.String())
		}
	}
	return lines
}

func Write(w io.Writer, format Format, r Report) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatYAML:
		return WriteYAML(w, r)
	default:
		return WriteText(w, r)
	}
}

func WriteText(w io.Writer, r Report) error {
	var b strings.Builder
	if r.Consumer != "" || r.Provider != "" {
		fmt.Fprintf(&b, "Verifying a pact between %s and %s\n", r.Consumer, r.Provider)
	}
	for _, line := range r.Lines() {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString(r.Summary())
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return errors.Wrap(err, "unable to write report")
}

func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(r), "unable to write report")
}

func WriteYAML(w io.Writer, r Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return errors.Wrap(err, "unable to write report")
	}
	return errors.Wrap(enc.Close(), "unable to write report")
}

package verifier

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/form3tech-oss/pact-verifier/internal/app/contract"
	"github.com/form3tech-oss/pact-verifier/internal/app/matcher"
)

// MatchResponse compares a live response with the expectation. Mismatches
// come in a fixed order: status, headers in declaration order, then body.
func MatchResponse(expected contract.ExpectedResponse, actual Response) []matcher.Mismatch {
	var mismatches []matcher.Mismatch

	if actual.Status != expected.Status {
		mismatches = append(mismatches, matcher.Mismatch{
			Path:     "/status",
			Expected: fmt.Sprintf("status %d", expected.Status),
			Actual:   actual.Status,
		})
	}

	mismatches = append(mismatches, MatchHeaders(expected.Headers, actual.Header)...)
	if expected.Body != nil {
		mismatches = append(mismatches, MatchBody(expected.Body, actual.Header, actual.Body)...)
	}
	return mismatches
}

// MatchHeaders checks the declared headers only, looking names up without
// regard to case. Repeated headers are joined with ", ".
func MatchHeaders(expected []contract.Header, actual http.Header) []matcher.Mismatch {
	var mismatches []matcher.Mismatch
	for _, h := range expected {
		path := "/headers/" + h.Name
		values, ok := headerValues(actual, h.Name)
		if !ok {
			mismatches = append(mismatches, matcher.Mismatch{
				Path:     path,
				Expected: matcher.Describe(h.Rule),
				Missing:  true,
			})
			continue
		}
		mismatches = append(mismatches, matcher.MatchAt(h.Rule, strings.Join(values, ", "), path)...)
	}
	return mismatches
}

// MatchBody parses body according to its Content-Type and matches it at
// "/body". JSON media types must parse; other media types are matched as
// strings; without a Content-Type JSON is tried first.
func MatchBody(rule matcher.Rule, header http.Header, body []byte) []matcher.Mismatch {
	const path = "/body"
	if len(body) == 0 {
		return []matcher.Mismatch{{Path: path, Expected: matcher.Describe(rule), Missing: true}}
	}

	contentType := firstValue(header, "Content-Type")
	var value interface{}
	switch {
	case IsJSON(contentType):
		v, err := matcher.Decode(body)
		if err != nil {
			return []matcher.Mismatch{{Path: path, Expected: "a JSON body", Actual: string(body)}}
		}
		value = v
	case contentType == "":
		v, err := matcher.Decode(body)
		if err != nil {
			v = string(body)
		}
		value = v
	default:
		value = string(body)
	}
	return matcher.MatchAt(rule, value, path)
}

func firstValue(h http.Header, name string) string {
	if values, ok := headerValues(h, name); ok && len(values) > 0 {
		return values[0]
	}
	return ""
}

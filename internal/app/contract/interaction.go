// Package contract holds the in-memory model of a consumer contract and the
// codec for its JSON document form.
package contract

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/form3tech-oss/pact-verifier/internal/app/matcher"
	"github.com/pkg/errors"
)

// Document is a set of interactions a consumer expects a provider to honour.
// Documents are read-only once loaded.
type Document struct {
	Consumer     string
	Provider     string
	Interactions []Interaction
}

// Interaction is one request/response exchange. ProviderState may be empty,
// meaning the interaction has no precondition.
type Interaction struct {
	Description   string
	ProviderState string
	Request       ExpectedRequest
	Response      ExpectedResponse
}

type ExpectedRequest struct {
	Method string
	// Path is an Exact string or a RegexMatch whose example is the path sent.
	Path    matcher.Rule
	Query   string
	Headers []Header
	// Body is nil when the request carries no body.
	Body matcher.Rule
}

type ExpectedResponse struct {
	Status  int
	Headers []Header
	// Body is nil when the body is not verified.
	Body matcher.Rule
}

// Header is compared case-insensitively on Name.
type Header struct {
	Name string
	Rule matcher.Rule
}

// Lookup returns the interaction with the given description.
func (d Document) Lookup(description string) (Interaction, bool) {
	for _, i := range d.Interactions {
		if i.Description == description {
			return i, true
		}
	}
	return Interaction{}, false
}

// Validate checks the document invariants: both parties are named,
// descriptions are unique and every rule tree is well formed.
func (d Document) Validate() error {
	if d.Consumer == "" {
		return errors.New("consumer name is required")
	}
	if d.Provider == "" {
		return errors.New("provider name is required")
	}

	seen := make(map[string]bool, len(d.Interactions))
	for _, i := range d.Interactions {
		if seen[i.Description] {
			return errors.Errorf("duplicate interaction description '%s'", i.Description)
		}
		seen[i.Description] = true

		if err := i.Validate(); err != nil {
			return errors.Wrapf(err, "interaction '%s'", i.Description)
		}
	}
	return nil
}

func (i Interaction) Validate() error {
	if i.Description == "" {
		return errors.New("description is required")
	}
	if i.Request.Method == "" {
		return errors.New("request method is required")
	}
	if err := validateString(i.Request.Path); err != nil {
		return errors.Wrap(err, "request path")
	}
	if err := validateHeaders(i.Request.Headers); err != nil {
		return errors.Wrap(err, "request")
	}
	if i.Request.Body != nil {
		if err := matcher.Validate(i.Request.Body); err != nil {
			return errors.Wrap(err, "request body")
		}
	}
	if i.Response.Status < 100 || i.Response.Status > 999 {
		return errors.Errorf("invalid response status %d", i.Response.Status)
	}
	if err := validateHeaders(i.Response.Headers); err != nil {
		return errors.Wrap(err, "response")
	}
	if i.Response.Body != nil {
		if err := matcher.Validate(i.Response.Body); err != nil {
			return errors.Wrap(err, "response body")
		}
	}
	return nil
}

func validateHeaders(headers []Header) error {
	for _, h := range headers {
		if h.Name == "" {
			return errors.New("header name is required")
		}
		if err := validateString(h.Rule); err != nil {
			return errors.Wrapf(err, "header %s", h.Name)
		}
	}
	return nil
}

// validateString accepts rules that generate a string: literal strings,
// regexes and string types.
func validateString(rule matcher.Rule) error {
	if err := matcher.Validate(rule); err != nil {
		return err
	}
	switch r := rule.(type) {
	case matcher.Exact:
		if _, ok := r.Value.(string); ok {
			return nil
		}
	case matcher.RegexMatch:
		return nil
	case matcher.TypeOf:
		if r.Kind == matcher.KindString {
			return nil
		}
	}
	return errors.Errorf("expected a string rule, found %s", matcher.Describe(rule))
}

// LiteralPath is the path to send when replaying the request.
func (r ExpectedRequest) LiteralPath() string {
	return StringValue(r.Path)
}

// StringValue generates the string sent for a path or header rule.
func StringValue(rule matcher.Rule) string {
	switch v := matcher.Generate(rule).(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// FindHeader looks a header up by name, ignoring case.
func FindHeader(headers []Header, name string) (Header, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h, true
		}
	}
	return Header{}, false
}

// ContentType is the generated Content-Type header value, or "".
func ContentType(headers []Header) string {
	h, ok := FindHeader(headers, "Content-Type")
	if !ok {
		return ""
	}
	return StringValue(h.Rule)
}

// HTTPHeader renders declared headers with their generated values.
func HTTPHeader(headers []Header) http.Header {
	out := make(http.Header, len(headers))
	for _, h := range headers {
		out.Add(h.Name, StringValue(h.Rule))
	}
	return out
}

// Package stub serves a contract document as a fake provider.
package stub

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"sync"

	"github.com/form3tech-oss/pact-verifier/internal/app/contract"
	"github.com/form3tech-oss/pact-verifier/internal/app/httpresponse"
	"github.com/form3tech-oss/pact-verifier/internal/app/matcher"
	"github.com/form3tech-oss/pact-verifier/internal/app/verifier"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const StatesPath = "/_pact/provider_states"

// Stub answers requests with the response of the first interaction whose
// request matches. The active provider state decides between interactions
// with the same request.
type Stub struct {
	doc    contract.Document
	prefix string

	mu     sync.RWMutex
	state  string
	counts []int
	notify *notify
}

func New(doc contract.Document) *Stub {
	return &Stub{
		doc:    doc,
		counts: make([]int, len(doc.Interactions)),
		notify: newNotify(),
	}
}

// SetupRoutes mounts the stub on e under prefix, which may be empty.
func (s *Stub) SetupRoutes(e *echo.Echo, prefix string) {
	s.prefix = strings.TrimSuffix(prefix, "/")
	if s.prefix == "" {
		e.POST(StatesPath, s.statesHandler)
		e.GET(InteractionsPath, s.usageHandler)
		e.GET(WaitPath, s.waitHandler)
		e.Any("/*", s.interactionHandler)
		return
	}
	g := e.Group(s.prefix)
	g.POST(StatesPath, s.statesHandler)
	g.GET(InteractionsPath, s.usageHandler)
	g.GET(WaitPath, s.waitHandler)
	g.Any("/*", s.interactionHandler)
}

func (s *Stub) Document() contract.Document {
	return s.doc
}

func (s *Stub) State() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Stub) SetState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

type stateChange struct {
	Consumer string   `json:"consumer"`
	State    string   `json:"state"`
	States   []string `json:"states"`
	Action   string   `json:"action"`
}

func (s *Stub) statesHandler(c echo.Context) error {
	var change stateChange
	if err := json.NewDecoder(c.Request().Body).Decode(&change); err != nil {
		return c.JSON(http.StatusBadRequest, httpresponse.Errorf("unable to parse provider state change. %s", err.Error()))
	}
	if change.State == "" && len(change.States) > 0 {
		change.State = change.States[0]
	}

	if change.Action == "teardown" {
		log.Infof("tearing down provider state '%s'", change.State)
		s.SetState("")
		return c.NoContent(http.StatusOK)
	}

	log.WithField("consumer", change.Consumer).Infof("setting provider state '%s'", change.State)
	s.SetState(change.State)
	return c.NoContent(http.StatusOK)
}

func (s *Stub) interactionHandler(c echo.Context) error {
	req := c.Request()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, httpresponse.Errorf("unable to read request body. %s", err.Error()))
	}

	path := strings.TrimPrefix(req.URL.Path, s.prefix)
	idx := s.match(req.Method, path, req.URL.RawQuery, req.Header, body)
	if idx < 0 {
		return c.JSON(http.StatusBadRequest, httpresponse.Errorf("no interaction matches %s %s", req.Method, path))
	}
	interaction := s.doc.Interactions[idx]
	log.Infof("responding to %s %s with '%s'", req.Method, path, interaction.Description)

	err = respond(c, interaction.Response)
	s.record(idx)
	return err
}

// Match finds the interaction to answer a request with. Interactions in the
// active state come first, then stateless ones, then any other match, each
// in document order.
func (s *Stub) Match(method, path, query string, header http.Header, body []byte) (contract.Interaction, bool) {
	idx := s.match(method, path, query, header, body)
	if idx < 0 {
		return contract.Interaction{}, false
	}
	return s.doc.Interactions[idx], true
}

func (s *Stub) match(method, path, query string, header http.Header, body []byte) int {
	state := s.State()
	stateless, other := -1, -1
	for idx, i := range s.doc.Interactions {
		if len(RequestMismatches(i.Request, method, path, query, header, body)) > 0 {
			continue
		}
		switch {
		case i.ProviderState == state:
			return idx
		case i.ProviderState == "" && stateless < 0:
			stateless = idx
		case other < 0:
			other = idx
		}
	}
	if stateless >= 0 {
		return stateless
	}
	return other
}

// RequestMismatches compares an incoming request with an expected one.
// Queries are compared as parsed values when the expectation declares one.
func RequestMismatches(expected contract.ExpectedRequest, method, path, query string, header http.Header, body []byte) []matcher.Mismatch {
	if !strings.EqualFold(expected.Method, method) {
		return []matcher.Mismatch{{Path: "/method", Expected: expected.Method, Actual: method}}
	}

	mismatches := matcher.MatchAt(expected.Path, path, "/path")
	if expected.Query != "" && !sameQuery(expected.Query, query) {
		mismatches = append(mismatches, matcher.Mismatch{Path: "/query", Expected: expected.Query, Actual: query})
	}
	mismatches = append(mismatches, verifier.MatchHeaders(expected.Headers, header)...)
	if expected.Body != nil {
		mismatches = append(mismatches, verifier.MatchBody(expected.Body, header, body)...)
	}
	return mismatches
}

func sameQuery(expected, actual string) bool {
	want, err := url.ParseQuery(expected)
	if err != nil {
		return expected == actual
	}
	got, err := url.ParseQuery(actual)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(want, got)
}

func respond(c echo.Context, r contract.ExpectedResponse) error {
	for name, values := range contract.HTTPHeader(r.Headers) {
		for _, v := range values {
			c.Response().Header().Add(name, v)
		}
	}
	if r.Body == nil {
		return c.NoContent(r.Status)
	}

	contentType := c.Response().Header().Get(echo.HeaderContentType)
	value := matcher.Generate(r.Body)
	if s, ok := value.(string); ok && contentType != "" && !verifier.IsJSON(contentType) {
		return c.Blob(r.Status, contentType, []byte(s))
	}

	b, err := json.Marshal(value)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, httpresponse.Errorf("unable to encode response body. %s", err.Error()))
	}
	if contentType == "" {
		contentType = echo.MIMEApplicationJSON
	}
	return c.Blob(r.Status, contentType, b)
}

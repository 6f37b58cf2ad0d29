package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/form3tech-oss/pact-verifier/internal/app/contract"
	"github.com/form3tech-oss/pact-verifier/internal/app/matcher"
	"github.com/form3tech-oss/pact-verifier/internal/app/report"
	"github.com/form3tech-oss/pact-verifier/internal/app/verifier"
	"github.com/form3tech-oss/pact-verifier/pkg/stubclient"
	"github.com/pact-foundation/pact-go/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	getUserInteraction     = "A request for an existing user"
	getMissingInteraction  = "A request for a missing user"
	createUserInteraction  = "A request to create a user"
	listUsersInteraction   = "A request to list users"
	userExistsState        = "user 1 exists"
	noUsersState           = "no users exist"
	stubStartupGracePeriod = 5 * time.Second
)

type VerificationStage struct {
	t        *testing.T
	assert   *assert.Assertions
	require  *require.Assertions
	contract contract.Document
	served   contract.Document
	stub     *stubclient.Stub
	options  verifier.Options
	states   verifier.StateRegistry
	report   report.Report
}

func NewVerificationStage(t *testing.T) (*VerificationStage, *VerificationStage, *VerificationStage) {
	s := &VerificationStage{
		t:        t,
		assert:   assert.New(t),
		require:  require.New(t),
		contract: contract.Document{Consumer: "web", Provider: "users"},
		options:  verifier.Options{Timeout: 2 * time.Second, Concurrency: 4},
	}

	t.Cleanup(func() {
		_ = stubclient.Configuration(adminURL.String()).Reset(context.Background())
	})

	return s, s, s
}

func (s *VerificationStage) and() *VerificationStage {
	return s
}

func userBody() matcher.ObjectLike {
	return matcher.Object(
		matcher.Key("id", matcher.Like(1)),
		matcher.Key("name", matcher.Like("ada")),
		matcher.Key("email", matcher.Regex(`[^@]+@[^@]+`, "ada@example.com")),
		matcher.Key("roles", matcher.MinLike(1, matcher.Like("admin"))),
	)
}

func jsonHeader() []contract.Header {
	return []contract.Header{{Name: "Content-Type", Rule: matcher.Equal("application/json")}}
}

func (s *VerificationStage) a_contract_for_getting_a_user() *VerificationStage {
	s.contract.Interactions = append(s.contract.Interactions, contract.Interaction{
		Description:   getUserInteraction,
		ProviderState: userExistsState,
		Request: contract.ExpectedRequest{
			Method: http.MethodGet,
			Path:   matcher.Regex(`/users/[0-9]+`, "/users/1"),
		},
		Response: contract.ExpectedResponse{
			Status:  http.StatusOK,
			Headers: jsonHeader(),
			Body:    userBody(),
		},
	})
	return s
}

func (s *VerificationStage) a_contract_for_getting_a_missing_user() *VerificationStage {
	s.contract.Interactions = append(s.contract.Interactions, contract.Interaction{
		Description:   getMissingInteraction,
		ProviderState: noUsersState,
		Request: contract.ExpectedRequest{
			Method: http.MethodGet,
			Path:   matcher.Equal("/users/1"),
		},
		Response: contract.ExpectedResponse{
			Status:  http.StatusNotFound,
			Headers: jsonHeader(),
		},
	})
	return s
}

func (s *VerificationStage) a_contract_for_creating_a_user() *VerificationStage {
	s.contract.Interactions = append(s.contract.Interactions, contract.Interaction{
		Description: createUserInteraction,
		Request: contract.ExpectedRequest{
			Method:  http.MethodPost,
			Path:    matcher.Equal("/users"),
			Headers: jsonHeader(),
			Body:    matcher.Object(matcher.Key("name", matcher.Like("ada"))),
		},
		Response: contract.ExpectedResponse{
			Status:  http.StatusCreated,
			Headers: jsonHeader(),
			Body:    userBody(),
		},
	})
	return s
}

func (s *VerificationStage) a_contract_for_listing_users() *VerificationStage {
	s.contract.Interactions = append(s.contract.Interactions, contract.Interaction{
		Description:   listUsersInteraction,
		ProviderState: userExistsState,
		Request: contract.ExpectedRequest{
			Method: http.MethodGet,
			Path:   matcher.Equal("/users"),
			Query:  "limit=10",
		},
		Response: contract.ExpectedResponse{
			Status:  http.StatusOK,
			Headers: jsonHeader(),
			Body: matcher.Object(
				matcher.Key("users", matcher.MaxLike(10, matcher.Object(
					matcher.Key("id", matcher.Type(matcher.KindInteger)),
					matcher.Key("tags", matcher.MinLike(0, matcher.Type(matcher.KindString))),
				))),
			),
		},
	})
	return s
}

// the_provider_honours_the_contract serves the contract itself, so the
// provider answers exactly what the consumer expects.
func (s *VerificationStage) the_provider_honours_the_contract() *VerificationStage {
	s.served = s.contract
	return s
}

// the_provider_returns_the_user_id_as_a_string serves a drifted provider
// whose user ids are strings.
func (s *VerificationStage) the_provider_returns_the_user_id_as_a_string() *VerificationStage {
	s.served = s.drift(getUserInteraction, func(i *contract.Interaction) {
		fields := append([]matcher.Field{}, userBody().Fields...)
		fields[0] = matcher.Key("id", matcher.Like("1"))
		i.Response.Body = matcher.Object(fields...)
	})
	return s
}

func (s *VerificationStage) the_provider_returns_html_for_missing_users() *VerificationStage {
	s.served = s.drift(getMissingInteraction, func(i *contract.Interaction) {
		i.Response.Headers = []contract.Header{{Name: "Content-Type", Rule: matcher.Equal("text/html")}}
	})
	return s
}

func (s *VerificationStage) drift(description string, change func(*contract.Interaction)) contract.Document {
	served := s.contract
	served.Interactions = append([]contract.Interaction{}, s.contract.Interactions...)
	for idx := range served.Interactions {
		if served.Interactions[idx].Description == description {
			change(&served.Interactions[idx])
		}
	}
	return served
}

func (s *VerificationStage) the_provider_is_started() *VerificationStage {
	port, err := utils.GetFreePort()
	s.require.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), stubStartupGracePeriod)
	defer cancel()

	document, err := contract.Encode(s.served)
	s.require.NoError(err)

	s.stub, err = stubclient.Configuration(adminURL.String()).
		SetupStub(ctx, fmt.Sprintf("http://localhost:%d", port), document)
	s.require.NoError(err)
	s.states = verifier.RemoteStates{URL: s.stub.StatesURL(), Consumer: s.contract.Consumer}
	return s
}

func (s *VerificationStage) no_provider_state_setup_is_available() *VerificationStage {
	s.states = verifier.StateHandlers{}
	return s
}

func (s *VerificationStage) the_contract_is_verified() {
	transport, err := verifier.NewHTTPTransport(s.stub.Address, nil)
	s.require.NoError(err)

	ctx := context.Background()
	s.require.NoError(verifier.WaitForProvider(ctx, transport, stubStartupGracePeriod, 50*time.Millisecond))

	v := verifier.New(transport, s.states, s.options)
	s.report = report.Aggregate(v.VerifyDocument(ctx, s.contract))

	var text strings.Builder
	s.require.NoError(report.WriteText(&text, s.report))
	s.t.Log(text.String())
}

func (s *VerificationStage) verification_is_successful() *VerificationStage {
	s.assert.True(s.report.Success, "expected every interaction to pass")
	s.assert.Equal(len(s.contract.Interactions), s.report.Passed)
	return s
}

func (s *VerificationStage) verification_fails() *VerificationStage {
	s.assert.False(s.report.Success, "expected verification to fail")
	return s
}

func (s *VerificationStage) the_report_counts_(passed, failed, errored int) *VerificationStage {
	s.assert.Equal(passed, s.report.Passed, "passed")
	s.assert.Equal(failed, s.report.Failed, "failed")
	s.assert.Equal(errored, s.report.Errored, "errored")
	return s
}

func (s *VerificationStage) the_interaction_has_outcome_(description string, outcome verifier.Outcome) *VerificationStage {
	s.assert.Equal(outcome, s.verdict(description).Outcome, description)
	return s
}

func (s *VerificationStage) the_interaction_has_a_mismatch_at_(description, path string) *VerificationStage {
	var paths []string
	for _, m := range s.verdict(description).Mismatches {
		paths = append(paths, m.Path)
	}
	s.assert.Contains(paths, path)
	return s
}

func (s *VerificationStage) the_stub_answered_(description string, count int) *VerificationStage {
	s.require.NoError(s.stub.WaitForInteraction(context.Background(), description, count, time.Second))
	return s
}

func (s *VerificationStage) every_interaction_reached_the_stub() *VerificationStage {
	usage, err := s.stub.Interactions(context.Background())
	s.require.NoError(err)
	for _, u := range usage {
		s.assert.Equal(1, u.RequestCount, u.Description)
	}
	return s
}

func (s *VerificationStage) verdict(description string) verifier.Verdict {
	for _, v := range s.report.Verdicts {
		if v.Interaction == description {
			return v
		}
	}
	s.t.Fatalf("no verdict for '%s'", description)
	return verifier.Verdict{}
}

// Package verifier replays contract interactions against a live provider and
// judges the responses.
package verifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/form3tech-oss/pact-verifier/internal/app/contract"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const DefaultTimeout = 10 * time.Second

type Options struct {
	// Timeout bounds state setup and the replayed request of one interaction.
	Timeout time.Duration
	// Concurrency is the number of interactions verified at once.
	Concurrency int
	// Isolated lifts the one-replay-per-endpoint restriction for providers
	// that give every request its own backing state.
	Isolated bool
	// Fields are added to every log line.
	Fields log.Fields
}

type Verifier struct {
	transport Transport
	states    StateRegistry
	opts      Options
}

func New(transport Transport, states StateRegistry, opts Options) *Verifier {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if states == nil {
		states = StateHandlers{}
	}
	return &Verifier{transport: transport, states: states, opts: opts}
}

// Verify replays one interaction and returns its verdict. Setup and transport
// failures are reported as Errored verdicts, never returned.
func (v *Verifier) Verify(ctx context.Context, i contract.Interaction) Verdict {
	logger := log.WithFields(v.opts.Fields).WithField("interaction", i.Description)
	if i.ProviderState != "" {
		logger = logger.WithField("provider_state", i.ProviderState)
	}
	logger.Infof("verifying interaction '%s'", i.Description)

	verdict := v.verify(ctx, i)

	entry := logger.WithField("outcome", verdict.Outcome)
	switch verdict.Outcome {
	case Passed:
		entry.Info("interaction verified")
	default:
		for _, m := range verdict.Mismatches {
			entry.WithField("mismatch", m.String()).Warn("interaction did not verify")
		}
	}
	return verdict
}

func (v *Verifier) verify(ctx context.Context, i contract.Interaction) Verdict {
	req, err := BuildRequest(i.Request)
	if err != nil {
		return errored(i.Description, "a request that can be sent", err)
	}

	unlock := v.lock()
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, v.opts.Timeout)
	defer cancel()

	if err := v.setup(ctx, i.ProviderState); err != nil {
		return errored(i.Description, fmt.Sprintf("provider state '%s' to be set up", i.ProviderState), err)
	}

	res, err := v.transport.Do(ctx, req)
	if err != nil {
		return errored(i.Description, "a response from the provider", &TransportError{Err: err})
	}
	return passedOrFailed(i.Description, MatchResponse(i.Response, res))
}

func (v *Verifier) setup(ctx context.Context, state string) error {
	if state == "" {
		return nil
	}
	handler, ok := v.states.Lookup(state)
	if !ok {
		return &SetupError{State: state, Err: errNoHandler}
	}
	if err := handler(ctx, state); err != nil {
		return &SetupError{State: state, Err: err}
	}
	return nil
}

// VerifyDocument verifies every interaction of doc. The verdicts are in
// interaction order and there is exactly one per interaction.
func (v *Verifier) VerifyDocument(ctx context.Context, doc contract.Document) []Verdict {
	log.WithFields(v.opts.Fields).Infof("verifying %d interactions of %s against %s",
		len(doc.Interactions), doc.Consumer, doc.Provider)

	verdicts := make([]Verdict, len(doc.Interactions))
	var g errgroup.Group
	g.SetLimit(v.opts.Concurrency)
	for idx := range doc.Interactions {
		idx := idx
		g.Go(func() error {
			verdicts[idx] = v.Verify(ctx, doc.Interactions[idx])
			return nil
		})
	}
	_ = g.Wait()
	return verdicts
}

// endpointer is implemented by transports that know which physical endpoint
// they talk to.
type endpointer interface {
	Endpoint() string
}

var endpoints sync.Map

func (v *Verifier) lock() func() {
	if v.opts.Isolated {
		return func() {}
	}
	key := fmt.Sprintf("%p", v.transport)
	if e, ok := v.transport.(endpointer); ok {
		key = e.Endpoint()
	}
	mu, _ := endpoints.LoadOrStore(key, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	return mu.(*sync.Mutex).Unlock
}

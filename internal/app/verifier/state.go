package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// StateHandler puts the provider into the named state.
type StateHandler func(ctx context.Context, state string) error

// StateRegistry resolves a provider state name to its handler.
type StateRegistry interface {
	Lookup(state string) (StateHandler, bool)
}

// StateHandlers is an explicit registration table resolved by exact name.
type StateHandlers map[string]StateHandler

func (h StateHandlers) Lookup(state string) (StateHandler, bool) {
	handler, ok := h[state]
	return handler, ok
}

// SetupError reports a provider state that could not be set up, including
// states with no registered handler.
type SetupError struct {
	State string
	Err   error
}

func (e *SetupError) Error() string {
	return "provider state '" + e.State + "' setup failed: " + e.Err.Error()
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

var errNoHandler = errors.New("no handler registered")

// RemoteStates delegates every state to a setup endpoint on the provider,
// posting {"consumer", "state", "states"} for each interaction.
type RemoteStates struct {
	URL      string
	Consumer string
	Client   *http.Client
}

type stateChange struct {
	Consumer string   `json:"consumer"`
	State    string   `json:"state"`
	States   []string `json:"states"`
}

func (r RemoteStates) Lookup(string) (StateHandler, bool) {
	return r.setup, true
}

func (r RemoteStates) setup(ctx context.Context, state string) error {
	body, err := json.Marshal(stateChange{Consumer: r.Consumer, State: state, States: []string{state}})
	if err != nil {
		return errors.Wrap(err, "unable to encode state change")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "unable to build state change request")
	}
	req.Header.Set("Content-Type", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "state change request failed")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return errors.Errorf("state change returned %d: %s", res.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

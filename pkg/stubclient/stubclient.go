// Package stubclient drives the admin API of a running pact-verifier admin
// server.
package stubclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type StubConfiguration struct {
	client http.Client
	url    string
}

// Stub is a stub provider started through the admin API.
type Stub struct {
	client           http.Client
	Address          string `json:"address"`
	Provider         string `json:"provider"`
	InteractionCount int    `json:"interactions"`
}

func Configuration(url string) *StubConfiguration {
	return &StubConfiguration{
		client: http.Client{
			Timeout: 30 * time.Second,
		},
		url: url,
	}
}

// SetupStub starts a stub at address serving the given contract document.
func (conf *StubConfiguration) SetupStub(ctx context.Context, address string, document []byte) (*Stub, error) {
	if _, err := url.Parse(address); err != nil {
		return nil, errors.Wrap(err, "failed to parse stub address")
	}

	u := strings.TrimSuffix(conf.url, "/") + "/stubs?address=" + url.QueryEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(document))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := conf.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to set up stub")
	}
	defer res.Body.Close()

	responseBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read admin response")
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, errors.Errorf("failed to set up stub (%d): %s", res.StatusCode, apiErrorMessage(responseBody))
	}

	stub := &Stub{client: conf.client}
	if err := json.Unmarshal(responseBody, stub); err != nil {
		return nil, errors.Wrap(err, "failed to parse admin response")
	}
	return stub, nil
}

// Reset stops every stub.
func (conf *StubConfiguration) Reset(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, strings.TrimSuffix(conf.url, "/")+"/stubs", nil)
	if err != nil {
		return err
	}

	res, err := conf.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to reset stubs")
	}
	res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return errors.Errorf("error resetting stubs (%d)", res.StatusCode)
	}
	return nil
}

// StatesURL is the provider state endpoint of the stub.
func (s *Stub) StatesURL() string {
	return strings.TrimSuffix(s.Address, "/") + "/_pact/provider_states"
}

// SetState puts the stub into a provider state.
func (s *Stub) SetState(ctx context.Context, state string) error {
	b, err := json.Marshal(map[string]interface{}{
		"state":  state,
		"states": []string{state},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.StatesURL(), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to set provider state")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		return errors.Errorf("failed to set provider state (%d): %s", res.StatusCode, apiErrorMessage(body))
	}
	return nil
}

// InteractionUsage is how many requests an interaction of the stub answered.
type InteractionUsage struct {
	Description  string `json:"description"`
	RequestCount int    `json:"request_count"`
}

// Interactions lists the request count of every interaction of the stub.
func (s *Stub) Interactions(ctx context.Context) ([]InteractionUsage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(s.Address, "/")+"/_pact/interactions", nil)
	if err != nil {
		return nil, err
	}

	res, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load interactions")
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read interactions")
	}
	if res.StatusCode != http.StatusOK {
		return nil, errors.Errorf("failed to load interactions (%d): %s", res.StatusCode, apiErrorMessage(body))
	}

	var usage []InteractionUsage
	if err := json.Unmarshal(body, &usage); err != nil {
		return nil, errors.Wrap(err, "failed to parse interactions")
	}
	return usage, nil
}

// WaitForInteraction blocks until the interaction has answered count
// requests or the stub gives up after timeout. An empty description waits
// for every interaction.
func (s *Stub) WaitForInteraction(ctx context.Context, description string, count int, timeout time.Duration) error {
	q := url.Values{}
	if description != "" {
		q.Set("interaction", description)
	}
	q.Set("count", strconv.Itoa(count))
	q.Set("timeout", timeout.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(s.Address, "/")+"/_pact/interactions/wait?"+q.Encode(), nil)
	if err != nil {
		return err
	}

	res, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to wait for interaction")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		return errors.Errorf("failed to wait for interaction (%d): %s", res.StatusCode, apiErrorMessage(body))
	}
	return nil
}

func apiErrorMessage(body []byte) string {
	var apiErr struct {
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.ErrorMessage == "" {
		return strings.TrimSpace(string(body))
	}
	return apiErr.ErrorMessage
}

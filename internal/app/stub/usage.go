package stub

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/form3tech-oss/pact-verifier/internal/app/httpresponse"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	InteractionsPath = "/_pact/interactions"
	WaitPath         = InteractionsPath + "/wait"

	DefaultWaitTimeout = 10 * time.Second
)

var ErrUnknownInteraction = errors.New("interaction not found")

// Usage is how many requests an interaction has answered.
type Usage struct {
	Description  string `json:"description"`
	RequestCount int    `json:"request_count"`
}

// notify wakes every waiter when a request is answered.
type notify struct {
	mu sync.Mutex
	ch chan struct{}
}

func newNotify() *notify {
	return &notify{ch: make(chan struct{})}
}

// current is closed by the next broadcast.
func (n *notify) current() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

func (n *notify) broadcast() {
	n.mu.Lock()
	close(n.ch)
	n.ch = make(chan struct{})
	n.mu.Unlock()
}

func (s *Stub) record(idx int) {
	s.mu.Lock()
	s.counts[idx]++
	s.mu.Unlock()
	s.notify.broadcast()
}

// Usage lists the request count of every interaction in document order.
func (s *Stub) Usage() []Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	usage := make([]Usage, len(s.doc.Interactions))
	for idx, i := range s.doc.Interactions {
		usage[idx] = Usage{Description: i.Description, RequestCount: s.counts[idx]}
	}
	return usage
}

// met reports whether the interaction named description, or every
// interaction when description is empty, has answered at least count
// requests. Interactions sharing a description are added up.
func (s *Stub) met(description string, count int) (bool, error) {
	usage := s.Usage()
	if description == "" {
		for _, u := range usage {
			if u.RequestCount < count {
				return false, nil
			}
		}
		return true, nil
	}

	total, found := 0, false
	for _, u := range usage {
		if u.Description == description {
			total += u.RequestCount
			found = true
		}
	}
	if !found {
		return false, errors.Wrapf(ErrUnknownInteraction, "cannot wait for interaction '%s'", description)
	}
	return total >= count, nil
}

// WaitFor blocks until met(description, count) holds or ctx is done.
func (s *Stub) WaitFor(ctx context.Context, description string, count int) error {
	for {
		next := s.notify.current()
		ok, err := s.met(description, count)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-next:
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "timeout waiting for interactions to be met")
		}
	}
}

func (s *Stub) usageHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Usage())
}

func (s *Stub) waitHandler(c echo.Context) error {
	count, err := strconv.Atoi(c.QueryParam("count"))
	if err != nil || count < 1 {
		count = 1
	}
	timeout, err := time.ParseDuration(c.QueryParam("timeout"))
	if err != nil || timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	description := c.QueryParam("interaction")

	ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
	defer cancel()

	log.WithFields(log.Fields{
		"wait_for": description,
		"count":    count,
		"timeout":  timeout,
	}).Info("waiting")

	err = s.WaitFor(ctx, description, count)
	switch {
	case err == nil:
		return c.NoContent(http.StatusOK)
	case errors.Is(err, ErrUnknownInteraction):
		return c.JSON(http.StatusBadRequest, httpresponse.Error(err.Error()))
	default:
		for _, u := range s.Usage() {
			if u.RequestCount < count {
				log.Infof("'%s' has %d requests", u.Description, u.RequestCount)
			}
		}
		return c.JSON(http.StatusRequestTimeout, httpresponse.Error("timeout waiting for interactions to be met"))
	}
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/boristopalov/navrl/pkg/core"
)

const defaultBackoff = 500 * time.Millisecond

// ActionRequest is the body of a get_action call
type ActionRequest struct {
	LaserScan        []float32  `json:"laser_scan"`
	GoalInRobotFrame [3]float64 `json:"goal_in_robot_frame"`
	LastAction       [3]float64 `json:"last_action"`
}

type ActionResponse struct {
	Action []float64 `json:"action"`
}

// PolicyClient talks to a policy server over HTTP.
// Calls have no retry; the only timeout is the one on the http.Client.
type PolicyClient struct {
	baseURL string
	client  *http.Client
	backoff time.Duration
	logger  golog.Logger
}

type PolicyClientOption func(*PolicyClient)

func WithHTTPClient(c *http.Client) PolicyClientOption {
	return func(p *PolicyClient) {
		p.client = c
	}
}

// WithBackoff sets the delay between health checks in WaitForService
func WithBackoff(d time.Duration) PolicyClientOption {
	return func(p *PolicyClient) {
		p.backoff = d
	}
}

func WithLogger(l golog.Logger) PolicyClientOption {
	return func(p *PolicyClient) {
		p.logger = l
	}
}

func NewPolicyClient(baseURL string, opts ...PolicyClientOption) *PolicyClient {
	p := &PolicyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		backoff: defaultBackoff,
		logger:  golog.Global(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetAction implements core.PolicyService
func (p *PolicyClient) GetAction(ctx context.Context, obs core.Observation) (core.Action, error) {
	req := ActionRequest{
		LaserScan:        obs.LaserScan,
		GoalInRobotFrame: obs.GoalInRobotFrame,
		LastAction:       obs.LastAction,
	}

	var resp ActionResponse
	if err := p.postJSON(ctx, "/get_action", req, &resp); err != nil {
		return core.Action{}, err
	}
	if len(resp.Action) != 3 {
		return core.Action{}, errors.Errorf("policy returned %d action components, want 3", len(resp.Action))
	}
	return core.Action{resp.Action[0], resp.Action[1], resp.Action[2]}, nil
}

// Ping checks the health endpoint once
func (p *PolicyClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("policy server returned %s", resp.Status)
	}
	return nil
}

// WaitForService blocks until the policy server is healthy. It gives up only
// when ctx ends.
func (p *PolicyClient) WaitForService(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := p.Ping(ctx)
		if err == nil {
			return nil
		}
		if attempt == 1 {
			p.logger.Infow("waiting for policy service", "url", p.baseURL, "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff):
		}
	}
}

func (p *PolicyClient) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return errors.Wrapf(err, "calling %s", path)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("%s returned %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decoding %s response", path)
	}
	return nil
}

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gitdiagram/internal/logging"
	"gitdiagram/internal/metrics"
	"gitdiagram/internal/types"
)

const (
	DefaultBaseURL = "https://api.gitdiagram.com"
	defaultTimeout = 5 * time.Minute
	maxBodyBytes   = 16 << 20
)

// Client talks to the remote generation service. Every operation is a single
// POST; failures are classified into a Result and never retried here.
type Client struct {
	baseURL string
	httpCli *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpCli = c
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.httpCli = &http.Client{Timeout: d}
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = logging.OrDefault(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// New creates a client for baseURL (DefaultBaseURL when empty).
func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		httpCli: &http.Client{Timeout: defaultTimeout},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// Generate requests a fresh diagram and explanation.
func (c *Client) Generate(ctx context.Context, req types.GenerationRequest) Result {
	return c.call(ctx, OpGenerate, generatePayload{
		Username:     req.Identity.Owner,
		Repo:         req.Identity.Repo,
		Instructions: req.Instructions,
		APIKey:       req.APIKey,
		GitHubPAT:    req.GitHubCredential,
	}, func(r Response) string {
		if r.Diagram == "" || r.Explanation == "" {
			return "response is missing diagram or explanation"
		}
		return ""
	})
}

// EstimateCost asks for a human-readable generation cost.
func (c *Client) EstimateCost(ctx context.Context, req types.GenerationRequest) Result {
	return c.call(ctx, OpCost, costPayload{
		Username:     req.Identity.Owner,
		Repo:         req.Identity.Repo,
		Instructions: req.Instructions,
		GitHubPAT:    req.GitHubCredential,
	}, func(r Response) string {
		if r.Cost == "" {
			return "response is missing cost"
		}
		return ""
	})
}

// ModifyRequest carries the base artifact a modification applies to.
type ModifyRequest struct {
	Identity       types.Identity
	Instructions   string
	CurrentDiagram string
	Explanation    string
}

// Modify applies natural-language instructions to an existing diagram. The
// service returns only the new diagram.
func (c *Client) Modify(ctx context.Context, req ModifyRequest) Result {
	return c.call(ctx, OpModify, modifyPayload{
		Username:       req.Identity.Owner,
		Repo:           req.Identity.Repo,
		Instructions:   req.Instructions,
		CurrentDiagram: req.CurrentDiagram,
		Explanation:    req.Explanation,
	}, func(r Response) string {
		if r.Diagram == "" {
			return "response is missing diagram"
		}
		return ""
	})
}

// Ask sends a free-text question about the repository.
func (c *Client) Ask(ctx context.Context, id types.Identity, question, githubPAT string) Result {
	return c.call(ctx, OpAsk, askPayload{
		Username:     id.Owner,
		Repo:         id.Repo,
		Instructions: question,
		GitHubPAT:    githubPAT,
	}, nil)
}

// Gherkin requests behavioral scenarios. The surrounding code fence the
// service wraps them in is stripped.
func (c *Client) Gherkin(ctx context.Context, id types.Identity, githubPAT string) Result {
	res := c.call(ctx, OpGherkin, gherkinPayload{
		Username:  id.Owner,
		Repo:      id.Repo,
		GitHubPAT: githubPAT,
	}, nil)
	if res.OK() {
		res.Response.GherkinScenarios = StripCodeFence(res.Response.GherkinScenarios)
	}
	return res
}

// call performs the request and, for OK results, runs check; a non-empty
// reason from check turns the result into a transport failure.
func (c *Client) call(ctx context.Context, op Operation, payload any, check func(Response) string) Result {
	start := c.now()
	res := c.do(ctx, op, payload)
	if res.OK() && check != nil {
		if reason := check(res.Response); reason != "" {
			res = transportFailure(op, res.StatusCode, errors.New(reason))
		}
	}
	c.metrics.ObserveRemote(string(op), res.Outcome.String(), c.now().Sub(start))
	if res.Outcome == OutcomeTransportFailure {
		c.logger.ErrorContext(ctx, "remote call failed",
			"operation", string(op),
			"status", res.StatusCode,
			"error", res.Cause,
		)
	}
	return res
}

func (c *Client) do(ctx context.Context, op Operation, payload any) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return transportFailure(op, 0, fmt.Errorf("marshaling request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+op.Path(), bytes.NewReader(body))
	if err != nil {
		return transportFailure(op, 0, fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.httpCli.Do(httpReq)
	if err != nil {
		return transportFailure(op, 0, fmt.Errorf("sending request: %w", err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return rateLimited(op)
	}

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return transportFailure(op, httpResp.StatusCode, fmt.Errorf("reading response: %w", err))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return transportFailure(op, httpResp.StatusCode, errors.New("empty response body"))
	}
	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return transportFailure(op, httpResp.StatusCode, fmt.Errorf("parsing response: %w", err))
	}
	if out.Error != "" {
		return Result{
			Operation:  op,
			Outcome:    OutcomeServiceError,
			StatusCode: httpResp.StatusCode,
			Response:   out,
			Message:    out.Error,
		}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return transportFailure(op, httpResp.StatusCode, fmt.Errorf("unexpected status %d", httpResp.StatusCode))
	}
	return Result{
		Operation:  op,
		Outcome:    OutcomeOK,
		StatusCode: httpResp.StatusCode,
		Response:   out,
	}
}

type generatePayload struct {
	Username     string `json:"username"`
	Repo         string `json:"repo"`
	Instructions string `json:"instructions"`
	APIKey       string `json:"api_key,omitempty"`
	GitHubPAT    string `json:"github_pat,omitempty"`
}

type costPayload struct {
	Username     string `json:"username"`
	Repo         string `json:"repo"`
	Instructions string `json:"instructions"`
	GitHubPAT    string `json:"github_pat,omitempty"`
}

type modifyPayload struct {
	Username       string `json:"username"`
	Repo           string `json:"repo"`
	Instructions   string `json:"instructions"`
	CurrentDiagram string `json:"current_diagram"`
	Explanation    string `json:"explanation"`
}

type askPayload struct {
	Username     string `json:"username"`
	Repo         string `json:"repo"`
	Instructions string `json:"instructions"`
	GitHubPAT    string `json:"github_pat,omitempty"`
}

type gherkinPayload struct {
	Username  string `json:"username"`
	Repo      string `json:"repo"`
	GitHubPAT string `json:"github_pat,omitempty"`
}

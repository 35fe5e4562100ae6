// Package registry provides a client for the public company registry that
// reports the registration status (situação cadastral) of a CNPJ.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/model"
	"github.com/sells-group/leadcheck/internal/resilience"
)

// DefaultBaseURL is the public ReceitaWS endpoint.
const DefaultBaseURL = "https://www.receitaws.com.br/v1/cnpj"

// DefaultTimeout bounds a single lookup request.
const DefaultTimeout = 10 * time.Second

// Client looks up registration statuses. Lookup never returns a Go error:
// failures are carried in the Result so callers can persist them.
type Client interface {
	Lookup(ctx context.Context, cnpj string) Result
}

// Result is the tagged outcome of one lookup.
type Result struct {
	CNPJ   string
	Status string
	Err    *LookupError
}

// OK reports whether the registry answered with a status.
func (r Result) OK() bool {
	return r.Err == nil
}

// Value is what gets stored as the registration status: the status itself,
// or the rendered error marker.
func (r Result) Value() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return r.Status
}

// Retryable reports whether a failed lookup should be attempted again on a
// later run.
func (r Result) Retryable() bool {
	return r.Err != nil && r.Err.Transient
}

// LookupError describes a failed lookup. Code is the HTTP status for non-200
// answers; otherwise Reason explains the failure.
type LookupError struct {
	Code      int
	Reason    string
	Transient bool
}

func (e *LookupError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("error %d", e.Code)
	}
	return "error: " + e.Reason
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRetry retries transient failures inside a single Lookup.
func WithRetry(p resilience.Policy) Option {
	return func(c *httpClient) {
		c.retry = p
	}
}

// WithBreaker guards the registry with a circuit breaker. While open,
// lookups fail fast with a retryable "circuit open" error.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *httpClient) {
		c.breaker = b
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	retry   resilience.Policy
	breaker *resilience.Breaker
	log     *zap.Logger
}

// NewClient creates a registry client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.NoRetry,
		log:   zap.L().With(zap.String("component", "registry")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type statusBody struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Situacao string `json:"situacao"`
}

// errRegistry is a well-formed error answer ({"status":"ERROR"}).
type errRegistry struct {
	message string
}

func (e *errRegistry) Error() string {
	if e.message == "" {
		return "registry error"
	}
	return e.message
}

func (c *httpClient) Lookup(ctx context.Context, cnpj string) Result {
	cnpj = digits(cnpj)
	res := Result{CNPJ: cnpj}

	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			res.Err = &LookupError{Reason: err.Error(), Transient: true}
			c.log.Warn("lookup skipped", zap.String("cnpj", cnpj), zap.Error(err))
			return res
		}
	}

	policy := c.retry
	if policy.OnRetry == nil {
		policy.OnRetry = resilience.LogRetry("registry", cnpj)
	}
	status, err := resilience.Retry(ctx, policy, func(ctx context.Context) (string, error) {
		return c.fetch(ctx, cnpj)
	})
	if c.breaker != nil {
		c.breaker.Record(err)
	}

	if err != nil {
		res.Err = toLookupError(err)
		c.log.Warn("lookup failed",
			zap.String("cnpj", cnpj),
			zap.String("result", res.Err.Error()),
			zap.Bool("transient", res.Err.Transient),
		)
		return res
	}

	res.Status = status
	c.log.Debug("lookup ok", zap.String("cnpj", cnpj), zap.String("status", status))
	return res
}

func (c *httpClient) fetch(ctx context.Context, cnpj string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(cnpj), nil)
	if err != nil {
		return "", eris.Wrap(err, "registry: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return "", &resilience.StatusError{Code: resp.StatusCode}
	}

	var body statusBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return "", eris.Wrap(err, "decode response")
	}
	if strings.EqualFold(body.Status, "ERROR") {
		return "", &errRegistry{message: body.Message}
	}

	status := strings.ToUpper(strings.TrimSpace(body.Situacao))
	if status == "" {
		return model.StatusNotFound, nil
	}
	return status, nil
}

func toLookupError(err error) *LookupError {
	var se *resilience.StatusError
	if errors.As(err, &se) {
		return &LookupError{Code: se.Code, Transient: se.Transient()}
	}

	transient := resilience.IsTransient(err) || errors.Is(err, context.Canceled)
	reason := err.Error()

	var ue *url.Error
	if errors.As(err, &ue) {
		reason = ue.Err.Error()
		if ue.Timeout() {
			reason = "timeout"
			transient = true
		}
	}
	return &LookupError{Reason: reason, Transient: transient}
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

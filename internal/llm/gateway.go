package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Gateway resolves model references into clients. The concurrency limiter and
// the cache are shared by every client it hands out; nothing else is.
type Gateway struct {
	factories   map[Provider]BackendFactory
	sem         *semaphore.Weighted
	cache       Cache
	group       singleflight.Group
	maxRetries  uint64
	retryBase   time.Duration
	callTimeout time.Duration
	logger      *slog.Logger
}

type Option func(*Gateway)

func WithMaxConcurrency(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(g *Gateway) {
		if n >= 0 {
			g.maxRetries = uint64(n)
		}
	}
}

func WithRetryBase(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.retryBase = d
		}
	}
}

func WithCallTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.callTimeout = d
		}
	}
}

func WithCache(c Cache) Option {
	return func(g *Gateway) {
		if c != nil {
			g.cache = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

func NewGateway(factories map[Provider]BackendFactory, opts ...Option) *Gateway {
	g := &Gateway{
		factories:   factories,
		sem:         semaphore.NewWeighted(10),
		cache:       NewMemoryCache(24*time.Hour, 1024),
		maxRetries:  3,
		retryBase:   500 * time.Millisecond,
		callTimeout: 45 * time.Second,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Resolve validates ref and builds a client for it. No network call happens here.
func (g *Gateway) Resolve(ref ModelRef) (*Client, error) {
	spec, ok := supportedModels[ref.Name]
	if !ok {
		return nil, &ModelNotAvailableError{Model: string(ref.Name)}
	}
	factory, ok := g.factories[spec.provider]
	if !ok || factory == nil {
		g.logger.Warn("llm.resolve.provider_not_wired", "model", ref.Name, "provider", spec.provider)
		return nil, &ModelNotAvailableError{Model: string(ref.Name)}
	}
	if spec.requiresKey && strings.TrimSpace(ref.APIKey) == "" {
		return nil, &APIKeyMissingError{Model: ref.Name}
	}
	backend, err := factory(ref.APIKey)
	if err != nil {
		return nil, fmt.Errorf("build %s backend: %w", spec.provider, err)
	}
	return &Client{gw: g, ref: ref, spec: spec, backend: backend}, nil
}

// Completion is the text a model produced plus how it was obtained.
type Completion struct {
	Text    string
	Cached  bool
	Elapsed time.Duration
}

// Client is a resolved model. It is cheap and meant to live for one request.
type Client struct {
	gw      *Gateway
	ref     ModelRef
	spec    modelSpec
	backend Backend
}

func (c *Client) Model() ModelName { return c.ref.Name }

// Complete sends prompt with temperature 0, serving from the cache when it can.
// Identical concurrent prompts share one upstream call. That call runs
// detached from any single caller; each caller stops waiting when its own ctx
// ends.
func (c *Client) Complete(ctx context.Context, prompt string) (Completion, error) {
	start := time.Now()
	key := cacheKey(c.ref.Name, c.ref.APIKey, prompt)

	if text, ok, err := c.gw.cache.Get(ctx, key); err != nil {
		c.gw.logger.Warn("llm.cache.get_error", "model", c.ref.Name, "error", err)
	} else if ok {
		c.gw.logger.Debug("llm.cache.hit", "model", c.ref.Name)
		return Completion{Text: text, Cached: true, Elapsed: time.Since(start)}, nil
	}
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}

	flight := c.gw.group.DoChan(key, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.gw.flightTimeout())
		defer cancel()
		text, err := c.call(flightCtx, prompt)
		if err != nil {
			return "", err
		}
		if err := c.gw.cache.Set(flightCtx, key, text); err != nil {
			c.gw.logger.Warn("llm.cache.set_error", "model", c.ref.Name, "error", err)
		}
		return text, nil
	})

	select {
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return Completion{}, res.Err
		}
		return Completion{Text: res.Val.(string), Elapsed: time.Since(start)}, nil
	}
}

// flightTimeout bounds a shared call: every attempt at its own timeout plus
// the largest total backoff.
func (g *Gateway) flightTimeout() time.Duration {
	return time.Duration(g.maxRetries+1)*g.callTimeout + g.retryBase<<min(g.maxRetries, 10)
}

func (c *Client) call(ctx context.Context, prompt string) (string, error) {
	rid := uuid.New().String()
	start := time.Now()
	log := c.gw.logger.With("req_id", rid, "model", c.ref.Name)

	if err := c.gw.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.gw.sem.Release(1)

	log.Info("llm.complete.start", "prompt_len", len(prompt))

	req := Request{
		Model:       c.ref.Name,
		Prompt:      prompt,
		Temperature: 0,
		MaxTokens:   c.spec.maxTokens,
	}
	attempt := 0
	var text string
	backoff := retry.WithMaxRetries(c.gw.maxRetries, retry.NewExponential(c.gw.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.gw.callTimeout)
		defer cancel()

		out, err := c.backend.Complete(callCtx, req)
		if err == nil {
			text = out
			return nil
		}
		err = translate(c.ref.Name, err)
		if !retryable(ctx, err) {
			return err
		}
		log.Warn("llm.complete.retry", "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		log.Error("llm.complete.error",
			"attempts", attempt,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", err
	}

	log.Info("llm.complete.ok",
		"attempts", attempt,
		"completion_len", len(text),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return text, nil
}

// retryable is true for transport failures, 408/429 and 5xx. Typed errors and
// a cancelled parent context are final.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var invalid *APIKeyInvalidError
	var bad *BadRequestReceivedError
	if errors.As(err, &invalid) || errors.As(err, &bad) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch {
		case pe.StatusCode == http.StatusRequestTimeout, pe.StatusCode == http.StatusTooManyRequests:
			return true
		case pe.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	return true
}

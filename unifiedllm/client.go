package unifiedllm

import (
	"context"
	"fmt"
	"sync"
)

// Middleware wraps one blocking model call; next continues down the chain.
type Middleware func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error)

// StreamMiddleware wraps one stream open.
type StreamMiddleware func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error)

// Client sends each request to one registered adapter. The provider is
// picked from Request.Provider, then the client default, then the model
// catalog. Complete and Stream make a single attempt; the Completer
// methods in completer.go add the retry policy.
type Client struct {
	mu              sync.RWMutex
	adapters        map[string]ProviderAdapter
	defaultProvider string

	callMW   []Middleware
	streamMW []StreamMiddleware
	retry    RetryPolicy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers adapter under name.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) { c.adapters[name] = adapter }
}

// WithDefaultProvider names the adapter used when a request names none.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) { c.defaultProvider = name }
}

// WithMiddleware appends call middleware. The first one given is outermost.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) { c.callMW = append(c.callMW, mw...) }
}

// WithStreamMiddleware appends stream middleware. The first one given is
// outermost.
func WithStreamMiddleware(mw ...StreamMiddleware) ClientOption {
	return func(c *Client) { c.streamMW = append(c.streamMW, mw...) }
}

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// NewClient builds a Client. A lone registered adapter becomes the default.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		adapters: make(map[string]ProviderAdapter),
		retry:    DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultProvider == "" && len(c.adapters) == 1 {
		for name := range c.adapters {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds an adapter after construction. The first one
// registered on a client without a default becomes the default.
func (c *Client) RegisterProvider(name string, adapter ProviderAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapters[name] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

func (c *Client) resolveProvider(req Request) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	switch {
	case name != "":
	case c.defaultProvider != "":
		name = c.defaultProvider
	default:
		if info := GetModelInfo(req.Model); info != nil {
			name = info.Provider
		}
	}
	if name == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "request names no provider and the client has no default",
		}}
	}

	adapter, ok := c.adapters[name]
	if !ok {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return adapter, nil
}

// wrap folds middleware around base so that mws[0] runs first.
func wrap[T any](base func(context.Context, Request) (T, error), mws []func(context.Context, Request, func(context.Context, Request) (T, error)) (T, error)) func(context.Context, Request) (T, error) {
	h := base
	for i := len(mws) - 1; i >= 0; i-- {
		mw, next := mws[i], h
		h = func(ctx context.Context, r Request) (T, error) { return mw(ctx, r, next) }
	}
	return h
}

// Complete makes one blocking call through the middleware chain.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}

	mws := make([]func(context.Context, Request, func(context.Context, Request) (*Response, error)) (*Response, error), len(c.callMW))
	for i, mw := range c.callMW {
		mws[i] = mw
	}
	return wrap(adapter.Complete, mws)(ctx, req)
}

// Stream opens one stream through the middleware chain. An error the
// adapter reports before the first delta is returned as the open error, so
// middleware sees it and CompleteStreaming can retry it.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}

	open := func(ctx context.Context, r Request) (<-chan StreamEvent, error) {
		ch, err := adapter.Stream(ctx, r)
		if err != nil {
			return nil, err
		}
		return primeStream(ctx, ch)
	}
	mws := make([]func(context.Context, Request, func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error), len(c.streamMW))
	for i, mw := range c.streamMW {
		mws[i] = mw
	}
	return wrap(open, mws)(ctx, req)
}

// Close closes every adapter that holds resources and returns the first
// error.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var first error
	for _, adapter := range c.adapters {
		closer, ok := adapter.(Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

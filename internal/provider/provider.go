// Package provider turns a paged cloud API client into a lazy, retrying
// sequence of resource descriptors.
package provider

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/vigil/pkg/compliance"
	"github.com/yairfalse/vigil/pkg/resource"
)

const (
	// DefaultPageTimeout bounds every API call made by a provider.
	DefaultPageTimeout = 30 * time.Second
	// MinAttempts is the fewest tries a transient fault gets before surfacing.
	MinAttempts = 3
)

// Page is one page of raw items returned by a Client.
type Page struct {
	Items     []resource.Resource
	NextToken string // empty on the last page
}

// Client is the cloud API collaborator. Implementations wrap retryable faults
// with compliance.ErrTransient and report vanished resources as
// *compliance.NotFoundError.
type Client interface {
	ListResources(ctx context.Context, kind resource.Kind, pageToken string) (Page, error)
	DescribeResource(ctx context.Context, kind resource.Kind, id string) (resource.Resource, error)
}

// Option configures a Provider.
type Option func(*Provider)

// WithPageTimeout sets the per-call timeout.
func WithPageTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.pageTimeout = d
		}
	}
}

// WithMaxAttempts sets the number of tries per call. Values below MinAttempts
// are raised to MinAttempts.
func WithMaxAttempts(n int) Option {
	return func(p *Provider) {
		p.maxAttempts = max(n, MinAttempts)
	}
}

// WithBackOff replaces the exponential backoff policy between tries.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(p *Provider) {
		if fn != nil {
			p.newBackOff = fn
		}
	}
}

// WithDetail makes the provider fetch each listed item's detail before
// yielding it.
func WithDetail() Option {
	return func(p *Provider) {
		p.detail = true
	}
}

// Provider enumerates resources of one kind.
type Provider struct {
	client      Client
	kind        resource.Kind
	pageTimeout time.Duration
	maxAttempts int
	newBackOff  func() backoff.BackOff
	detail      bool
}

// New creates a provider for kind backed by client.
func New(client Client, kind resource.Kind, opts ...Option) *Provider {
	p := &Provider{
		client:      client,
		kind:        kind,
		pageTimeout: DefaultPageTimeout,
		maxAttempts: MinAttempts,
		newBackOff:  defaultBackOff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	return b
}

// Kind returns the resource kind this provider enumerates.
func (p *Provider) Kind() resource.Kind {
	return p.kind
}

// Enumerate returns a lazy sequence of descriptors following every page
// token until the API reports the end of data. A *compliance.NotFoundError
// element and a *compliance.ProviderError with a non-empty ID (a failed
// detail fetch) are not terminal; any other error is the last element.
// Calling Enumerate again restarts from the first page.
func (p *Provider) Enumerate(ctx context.Context) iter.Seq2[resource.Resource, error] {
	return func(yield func(resource.Resource, error) bool) {
		token := ""
		seenTokens := make(map[string]bool)

		for {
			if err := ctx.Err(); err != nil {
				yield(resource.Resource{}, err)
				return
			}
			page, attempts, err := call(ctx, p, func(callCtx context.Context) (Page, error) {
				return p.client.ListResources(callCtx, p.kind, token)
			})
			if err != nil {
				yield(resource.Resource{}, p.wrap(ctx, "list", attempts, err))
				return
			}

			for _, item := range page.Items {
				if p.detail {
					if err := ctx.Err(); err != nil {
						yield(resource.Resource{}, err)
						return
					}
					detailed, attempts, err := call(ctx, p, func(callCtx context.Context) (resource.Resource, error) {
						return p.client.DescribeResource(callCtx, p.kind, item.ID)
					})
					if compliance.IsNotFound(err) {
						if !yield(item, err) {
							return
						}
						continue
					}
					if err != nil {
						werr := p.wrap(ctx, "describe "+item.ID, attempts, err)
						var perr *compliance.ProviderError
						if !errors.As(werr, &perr) {
							yield(resource.Resource{}, werr)
							return
						}
						perr.ID = item.ID
						if !yield(item, perr) {
							return
						}
						continue
					}
					item = detailed
				}
				if !yield(item, nil) {
					return
				}
			}

			if page.NextToken == "" {
				return
			}
			if seenTokens[page.NextToken] {
				yield(resource.Resource{}, &compliance.ProviderError{
					Kind:     p.kind,
					Op:       "list",
					Attempts: attempts,
					Err:      fmt.Errorf("page token %q repeated", page.NextToken),
				})
				return
			}
			seenTokens[page.NextToken] = true
			token = page.NextToken
		}
	}
}

// wrap converts a final call error into the error yielded to consumers.
// Cancellation of the parent context passes through untouched.
func (p *Provider) wrap(ctx context.Context, op string, attempts int, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &compliance.ProviderError{Kind: p.kind, Op: op, Attempts: attempts, Err: err}
}

// call runs op with a per-call timeout, retrying transient faults.
func call[T any](ctx context.Context, p *Provider, op func(context.Context) (T, error)) (T, int, error) {
	attempts := 0
	result, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, p.pageTimeout)
		defer cancel()

		v, err := op(callCtx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return v, backoff.Permanent(ctx.Err())
		}
		if !isTransient(callCtx, err) {
			return v, backoff.Permanent(err)
		}

		log.Debug().
			Err(err).
			Str("kind", string(p.kind)).
			Int("attempt", attempts).
			Msg("transient provider fault, retrying")
		return v, err
	},
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(uint(p.maxAttempts)),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	return result, attempts, err
}

// isTransient reports whether err should be retried. A call that hit its own
// timeout counts as transient.
func isTransient(callCtx context.Context, err error) bool {
	if errors.Is(err, compliance.ErrTransient) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)
}

package oauth2

import (
	"context"

	"github.com/sony/gobreaker"
)

type breakerProvider struct {
	Provider
	cb *gobreaker.CircuitBreaker
}

// WithBreaker guards p's network calls with a circuit breaker. While the
// breaker is open, ExchangeCode and UserProfile fail fast with
// gobreaker.ErrOpenState. AuthorizationURL is local and never guarded.
func WithBreaker(p Provider, st gobreaker.Settings) Provider {
	if st.Name == "" {
		st.Name = "oauth2:" + p.Name()
	}
	return &breakerProvider{Provider: p, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *breakerProvider) ExchangeCode(ctx context.Context, params TokenParams) (*Tokens, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.Provider.ExchangeCode(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Tokens), nil
}

func (b *breakerProvider) UserProfile(ctx context.Context, accessToken string) (*Profile, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.Provider.UserProfile(ctx, accessToken)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Profile), nil
}

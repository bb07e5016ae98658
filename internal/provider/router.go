package provider

import (
	"context"
	"errors"
	"log/slog"
)

// Router picks a backend per user: their preferred hosted provider when they
// have stored a key for it, otherwise the default local backend. A quota
// failure on a hosted backend falls back to the default for that request.
type Router struct {
	defaultProvider Provider
	prefs           *Prefs
	keys            *APIKeys
	logger          *slog.Logger

	// build constructs a hosted backend from a user's key; swapped in tests.
	build func(providerName, apiKey, model string) Provider
}

// NewRouter creates a router over the default provider.
func NewRouter(defaultProvider Provider, prefs *Prefs, keys *APIKeys, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		defaultProvider: defaultProvider,
		prefs:           prefs,
		keys:            keys,
		logger:          logger.With("component", "provider-router"),
		build:           buildHosted,
	}
}

func buildHosted(providerName, apiKey, model string) Provider {
	switch providerName {
	case "openai":
		return NewOpenAI(apiKey, model)
	case "anthropic":
		return NewAnthropic(apiKey, model)
	default:
		return nil
	}
}

// For resolves the provider and model to use for a user.
func (r *Router) For(userID string) (Provider, string) {
	if r.prefs == nil || r.keys == nil {
		return r.defaultProvider, ""
	}

	pref, ok := r.prefs.Get(userID)
	if !ok || pref.Provider == "" || pref.Provider == r.defaultProvider.Name() {
		return r.defaultProvider, pref.Model
	}

	key, ok := r.keys.Get(userID, pref.Provider)
	if !ok {
		r.logger.Debug("preferred provider has no key, using default",
			"user", userID, "provider", pref.Provider)
		return r.defaultProvider, ""
	}

	p := r.build(pref.Provider, key, pref.Model)
	if p == nil {
		r.logger.Warn("unknown preferred provider, using default",
			"user", userID, "provider", pref.Provider)
		return r.defaultProvider, ""
	}
	return p, pref.Model
}

// Generate runs the request on the user's provider, falling back to the
// default backend when the hosted one reports quota exhaustion. The returned
// fellBack flag lets callers annotate the reply.
func (r *Router) Generate(ctx context.Context, userID string, req *Request) (*Response, Provider, bool, error) {
	p, model := r.For(userID)
	if req.Model == "" {
		req.Model = model
	}

	resp, err := p.Generate(ctx, req)
	if err == nil {
		return resp, p, false, nil
	}

	if p != r.defaultProvider && errors.Is(err, ErrQuotaExhausted) {
		r.logger.Warn("provider quota exhausted, falling back to default",
			"user", userID, "provider", p.Name(), "error", err)
		req.Model = ""
		resp, err = r.defaultProvider.Generate(ctx, req)
		if err != nil {
			return nil, r.defaultProvider, true, err
		}
		return resp, r.defaultProvider, true, nil
	}

	return nil, p, false, err
}

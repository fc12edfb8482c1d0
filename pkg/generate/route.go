package generate

import (
	"context"
	"errors"
	"fmt"

	"github.com/pario-ai/linecompute/pkg/config"
)

// ErrNoProviders is reported when no provider can serve the configured model.
var ErrNoProviders = errors.New("no providers configured")

// target is one attempt in the fallback chain: a provider and the model name
// it is asked for.
type target struct {
	provider config.ProviderConfig
	model    string
}

func (t target) String() string { return t.provider.Name + "/" + t.model }

// chain expands model into the ordered targets the client tries. A router
// entry for model lists its targets, with an empty target model meaning model
// itself; targets naming an unknown provider are skipped and repeats are
// dropped. Without a router entry the first provider serves model as named.
func chain(model string, providers []config.ProviderConfig, routes []config.RouteConfig) ([]target, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	byName := make(map[string]config.ProviderConfig, len(providers))
	for _, p := range providers {
		if _, dup := byName[p.Name]; !dup {
			byName[p.Name] = p
		}
	}

	for _, route := range routes {
		if route.Model != model {
			continue
		}
		var out []target
		seen := make(map[string]bool)
		for _, rt := range route.Targets {
			p, ok := byName[rt.Provider]
			if !ok {
				continue
			}
			t := target{provider: p, model: rt.Model}
			if t.model == "" {
				t.model = model
			}
			if seen[t.String()] {
				continue
			}
			seen[t.String()] = true
			out = append(out, t)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("route %q: %w", model, ErrNoProviders)
		}
		return out, nil
	}

	return []target{{provider: providers[0], model: model}}, nil
}

// fallback reports whether a failed attempt should move on to the next target.
// Missing credentials, transport errors and 5xx answers fall through; a 4xx,
// an empty completion or a cancelled request end the chain.
func fallback(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if errors.Is(e.Err, ErrMissingCredential) {
		return true
	}
	if e.Status == 0 {
		return !errors.Is(e.Err, ErrEmptyCompletion) && !errors.Is(err, context.Canceled)
	}
	return e.Status >= 500
}

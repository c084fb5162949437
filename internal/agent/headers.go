package agent

import (
	"context"
	"maps"
	"strings"
)

// HeaderResolver produces the request headers for one run. It is called once per
// run, right before the request is sent, so short-lived credentials can be
// refreshed just in time.
type HeaderResolver interface {
	Resolve(ctx context.Context) (map[string]string, error)
}

// StaticHeaders is a fixed header map.
type StaticHeaders map[string]string

// Resolve returns a copy of h.
func (h StaticHeaders) Resolve(context.Context) (map[string]string, error) {
	return maps.Clone(map[string]string(h)), nil
}

// HeaderFunc resolves headers with a context-aware function that may block.
type HeaderFunc func(ctx context.Context) (map[string]string, error)

// Resolve calls f.
func (f HeaderFunc) Resolve(ctx context.Context) (map[string]string, error) {
	return f(ctx)
}

// HeaderSupplier resolves headers with a plain synchronous function.
type HeaderSupplier func() map[string]string

// Resolve calls f.
func (f HeaderSupplier) Resolve(context.Context) (map[string]string, error) {
	return f(), nil
}

// BearerToken sets Authorization from a token source. An empty token adds no header.
func BearerToken(token func(ctx context.Context) (string, error)) HeaderResolver {
	return HeaderFunc(func(ctx context.Context) (map[string]string, error) {
		tok, err := token(ctx)
		if err != nil {
			return nil, err
		}
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return nil, nil
		}
		return map[string]string{"Authorization": "Bearer " + tok}, nil
	})
}

// ChainHeaders merges several resolvers in order. Later resolvers win on conflicts.
func ChainHeaders(resolvers ...HeaderResolver) HeaderResolver {
	return HeaderFunc(func(ctx context.Context) (map[string]string, error) {
		out := map[string]string{}
		for _, r := range resolvers {
			if r == nil {
				continue
			}
			headers, err := r.Resolve(ctx)
			if err != nil {
				return nil, err
			}
			maps.Copy(out, headers)
		}
		return out, nil
	})
}

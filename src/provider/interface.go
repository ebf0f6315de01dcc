package provider

import (
	"fmt"
	"strings"
)

// Check identifies one CI report stream we wait on: the commit status
// context a vendor reports under, and the name we show for it.
type Check struct {
	ExternalKey string
	DisplayName string
}

// Registry is the fixed, ordered set of tracked checks.
type Registry []Check

// DefaultRegistry returns the checks reported by the CI configs shipped in
// the build repository.
func DefaultRegistry() Registry {
	return Registry{
		{ExternalKey: "continuous-integration/appveyor/branch", DisplayName: "Appveyor"},
		{ExternalKey: "continuous-integration/travis-ci/push", DisplayName: "Travis"},
	}
}

// Lookup finds the check registered under an exact status context.
func (r Registry) Lookup(context string) (Check, bool) {
	for _, c := range r {
		if c.ExternalKey == context {
			return c, true
		}
	}
	return Check{}, false
}

// Keys returns the external keys in registry order.
func (r Registry) Keys() []string {
	keys := make([]string, 0, len(r))
	for _, c := range r {
		keys = append(keys, c.ExternalKey)
	}
	return keys
}

// Validate rejects empty registries and duplicate keys or display names.
func (r Registry) Validate() error {
	if len(r) == 0 {
		return fmt.Errorf("%w: no CI checks configured", ErrConfig)
	}
	keys := make(map[string]bool, len(r))
	names := make(map[string]bool, len(r))
	for _, c := range r {
		if c.ExternalKey == "" || c.DisplayName == "" {
			return fmt.Errorf("%w: check %q has an empty key or name", ErrConfig, c.ExternalKey+"="+c.DisplayName)
		}
		if keys[c.ExternalKey] {
			return fmt.Errorf("%w: duplicate check context %s", ErrConfig, c.ExternalKey)
		}
		if names[c.DisplayName] {
			return fmt.Errorf("%w: duplicate check name %s", ErrConfig, c.DisplayName)
		}
		keys[c.ExternalKey] = true
		names[c.DisplayName] = true
	}
	return nil
}

// ParseRegistry reads "context=Display,context=Display".
func ParseRegistry(spec string) (Registry, error) {
	var r Registry
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, name, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%w: check %q must be context=Display", ErrConfig, part)
		}
		r = append(r, Check{
			ExternalKey: strings.TrimSpace(key),
			DisplayName: strings.TrimSpace(name),
		})
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

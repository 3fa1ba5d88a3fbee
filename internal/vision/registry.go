package vision

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Provider is one configured vision backend reachable over the
// OpenAI-compatible chat completions API.
type Provider struct {
	Name         string
	APIKey       string
	Models       []string
	DefaultModel string
	BaseURLs     []string

	mu  sync.Mutex
	idx int
}

// Credentialed reports whether the provider can be called at all. A
// bare base URL counts: self-hosted engines often need no key.
func (p *Provider) Credentialed() bool {
	return p.APIKey != "" || len(p.BaseURLs) > 0
}

// NextBaseURL round-robins over the configured endpoints. Empty means
// use the provider's canonical endpoint.
func (p *Provider) NextBaseURL() string {
	if len(p.BaseURLs) == 0 {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	url := p.BaseURLs[p.idx%len(p.BaseURLs)]
	p.idx++
	return url
}

// ValidateModel rejects models outside the provider's configured list.
// An empty list accepts anything.
func (p *Provider) ValidateModel(model string) error {
	if model == "" || len(p.Models) == 0 {
		return nil
	}
	for _, m := range p.Models {
		if m == model {
			return nil
		}
	}
	return fmt.Errorf("model %q is not configured for provider %s (allowed: %s)", model, p.Name, strings.Join(p.Models, ", "))
}

// Model resolves the model to call: explicit choice, else the
// provider's default, else the first configured model.
func (p *Provider) Model(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p.DefaultModel != "" {
		return p.DefaultModel
	}
	if len(p.Models) > 0 {
		return p.Models[0]
	}
	return ""
}

// Registry holds providers in declaration order.
type Registry struct {
	providers []*Provider
	byName    map[string]*Provider
}

// legacy key envs kept for pre-registry deployments
var legacyKeyEnvs = map[string]string{
	"openai": "OPENAI_API_KEY",
	"gemini": "GEMINI_API_KEY",
}

// NewRegistry builds providers from the environment for each name in
// choices. Per-provider settings live under VISION_*_<NAME> with the
// name uppercased and dashes mapped to underscores.
func NewRegistry(choices []string) *Registry {
	r := &Registry{byName: make(map[string]*Provider, len(choices))}
	for _, name := range choices {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		suffix := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		p := &Provider{
			Name:         name,
			APIKey:       os.Getenv("VISION_API_KEY_" + suffix),
			Models:       splitList(os.Getenv("VISION_MODELS_" + suffix)),
			DefaultModel: strings.TrimSpace(os.Getenv("VISION_DEFAULT_MODEL_" + suffix)),
			BaseURLs:     splitList(os.Getenv("VISION_BASE_URLS_" + suffix)),
		}
		if p.APIKey == "" {
			if legacy, ok := legacyKeyEnvs[name]; ok {
				p.APIKey = os.Getenv(legacy)
			}
		}
		r.providers = append(r.providers, p)
		r.byName[name] = p
	}
	return r
}

// Providers returns the declaration-order provider list.
func (r *Registry) Providers() []*Provider { return r.providers }

// Lookup finds a provider by name.
func (r *Registry) Lookup(name string) (*Provider, bool) {
	p, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Resolve picks the provider to use: explicit request, then the
// configured default, then the first credentialed provider, then the
// first choice.
func (r *Registry) Resolve(explicit, configured string) (*Provider, error) {
	if len(r.providers) == 0 {
		return nil, fmt.Errorf("no vision providers configured, set VISION_PROVIDER_CHOICES")
	}
	if explicit != "" {
		p, ok := r.Lookup(explicit)
		if !ok {
			return nil, fmt.Errorf("unknown vision provider %q, configured providers: %s", explicit, r.names())
		}
		return p, nil
	}
	if configured != "" {
		if p, ok := r.Lookup(configured); ok {
			return p, nil
		}
	}
	for _, p := range r.providers {
		if p.Credentialed() {
			return p, nil
		}
	}
	return r.providers[0], nil
}

func (r *Registry) names() string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name)
	}
	return strings.Join(names, ", ")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

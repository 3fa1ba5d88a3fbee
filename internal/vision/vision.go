package vision

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Limiter throttles provider calls. IsOpen/Open/Close drive a shared
// cooldown after rate limits; Allow caps local in-flight requests.
type Limiter interface {
	IsOpen(ctx context.Context, provider, model string) bool
	Open(ctx context.Context, provider, model string)
	Close(ctx context.Context, provider, model string)
	Allow(provider, model string) (release func(), ok bool)
}

// Service routes vision completions to the configured provider with
// one-shot fallback across the other credentialed providers.
type Service struct {
	registry *Registry
	client   *Client
	limiter  Limiter
	// defaultProvider and defaultModel are the VISION_PROVIDER and
	// VISION_MODEL settings, either may be empty
	defaultProvider string
	defaultModel    string
	// ContextWindow is the number of neighbor blocks on each side fed
	// into image prompts.
	ContextWindow int
}

// Request is one image description call.
type Request struct {
	ImagePath string
	Context   string
	Provider  string
	Model     string
	Prompt    string
}

// NewService wires the registry and client.
func NewService(registry *Registry, defaultProvider, defaultModel string, contextWindow int) *Service {
	if contextWindow <= 0 {
		contextWindow = 2
	}
	return &Service{
		registry:        registry,
		client:          NewClient(),
		defaultProvider: defaultProvider,
		defaultModel:    defaultModel,
		ContextWindow:   contextWindow,
	}
}

// UseLimiter attaches provider throttling. Safe to skip in reduced
// deployments; a nil limiter disables throttling.
func (s *Service) UseLimiter(l Limiter) { s.limiter = l }

// Complete describes the image. The chosen provider is tried first;
// on failure every other credentialed provider gets one attempt in
// declaration order.
func (s *Service) Complete(ctx context.Context, req Request) (string, error) {
	if req.Model == "" {
		req.Model = s.defaultModel
	}
	chosen, err := s.registry.Resolve(req.Provider, s.defaultProvider)
	if err != nil {
		return "", err
	}
	if err := chosen.ValidateModel(req.Model); err != nil {
		return "", err
	}

	prompt := BuildPrompt(req.Context, req.Prompt)

	text, firstErr := s.try(ctx, chosen, req, prompt)
	if firstErr == nil {
		return text, nil
	}
	log.Warn().Err(firstErr).Str("provider", chosen.Name).Msg("vision provider failed, trying fallbacks")

	for _, p := range s.registry.Providers() {
		if p == chosen || !p.Credentialed() {
			continue
		}
		// explicit model choices rarely exist on another provider
		if p.ValidateModel(req.Model) != nil {
			continue
		}
		text, err := s.try(ctx, p, req, prompt)
		if err == nil {
			return text, nil
		}
		log.Warn().Err(err).Str("provider", p.Name).Msg("vision fallback failed")
	}
	return "", fmt.Errorf("no working vision provider: %w", firstErr)
}

func (s *Service) try(ctx context.Context, p *Provider, req Request, prompt string) (string, error) {
	if !p.Credentialed() {
		return "", fmt.Errorf("provider %s has no credentials or base URL", p.Name)
	}
	model := p.Model(req.Model)
	if model == "" {
		return "", fmt.Errorf("provider %s has no model configured", p.Name)
	}
	if s.limiter != nil {
		if s.limiter.IsOpen(ctx, p.Name, model) {
			return "", fmt.Errorf("provider %s model %s is cooling down", p.Name, model)
		}
		release, ok := s.limiter.Allow(p.Name, model)
		if !ok {
			return "", fmt.Errorf("provider %s model %s is at max in-flight", p.Name, model)
		}
		defer release()
	}
	text, err := s.client.Complete(ctx, p, model, prompt, req.ImagePath)
	if s.limiter != nil {
		switch {
		case errors.Is(err, ErrRateLimited):
			s.limiter.Open(ctx, p.Name, model)
		case err == nil:
			s.limiter.Close(ctx, p.Name, model)
		}
	}
	return text, err
}

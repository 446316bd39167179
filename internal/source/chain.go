package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"contractor-status-relay/internal/config"
	"contractor-status-relay/internal/model"
)

// Chain tries its backends in order and returns the first non-empty result.
type Chain struct {
	descriptor string
	sources    []MessageSource
}

// NewChain builds a chain labelled with descriptor.
func NewChain(descriptor string, sources ...MessageSource) *Chain {
	return &Chain{descriptor: descriptor, sources: sources}
}

// Descriptor names the configured backend choice, e.g. "auto".
func (c *Chain) Descriptor() string { return c.descriptor }

// Backends lists the backend names in the order they are tried.
func (c *Chain) Backends() []string {
	names := make([]string, 0, len(c.sources))
	for _, s := range c.sources {
		names = append(names, s.Name())
	}
	return names
}

// Fetch never fails. Backend errors are logged and the next backend is
// tried; when every backend comes back empty a single warning is logged.
// The returned name is the backend that produced the messages.
func (c *Chain) Fetch(ctx context.Context, filters FilterSettings) ([]model.ContractorMessage, string) {
	for _, src := range c.sources {
		log := logrus.WithFields(logrus.Fields{"backend": src.Name(), "chain": c.descriptor})

		messages, err := src.Fetch(ctx, filters)
		switch {
		case errors.Is(err, ErrConfigurationIncomplete):
			log.Infof("Skipping mail backend: %v", err)
		case err != nil:
			log.Errorf("Mail backend failed: %v", err)
		case len(messages) == 0:
			log.Info("Mail backend returned no messages")
		default:
			log.Infof("Fetched %d message(s)", len(messages))
			return messages, src.Name()
		}
	}

	logrus.WithField("backend", c.descriptor).Warnf("No contractor messages received from mail backend %q", c.descriptor)
	return nil, ""
}

// Registry holds one adapter per backend kind.
type Registry struct {
	OAuth   MessageSource
	Local   MessageSource
	Fixture MessageSource
}

// NewRegistry builds the adapters from configuration.
func NewRegistry(cfg *config.Config) Registry {
	return Registry{
		OAuth:   NewGmailSource(cfg.OAuth),
		Local:   NewLocalSource(cfg.Local),
		Fixture: NewFixtureSource(),
	}
}

// Resolve picks the chain for a backend name. useFixtures overrides the
// backend with the fixture set.
func (r Registry) Resolve(backend string, useFixtures bool) (*Chain, error) {
	if useFixtures {
		return NewChain(config.BackendFixture, r.Fixture), nil
	}

	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", config.BackendAuto:
		return NewChain(config.BackendAuto, r.OAuth, r.Local), nil
	case config.BackendOAuth:
		return NewChain(config.BackendOAuth, r.OAuth), nil
	case config.BackendLocal:
		return NewChain(config.BackendLocal, r.Local), nil
	case config.BackendFixture:
		return NewChain(config.BackendFixture, r.Fixture), nil
	default:
		return nil, fmt.Errorf("%w: %q (expected one of %s)", ErrUnknownBackend, backend, strings.Join(config.Backends, ", "))
	}
}

package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Repository persists settings rows. store/sqlite.Store implements it.
type Repository interface {
	LoadConfig(ctx context.Context) (map[string]json.RawMessage, error)
	SaveConfig(ctx context.Context, values map[string]json.RawMessage) error
}

// Provider holds the current settings. Readers get a snapshot that is not
// affected by later updates.
type Provider struct {
	mu   sync.RWMutex
	cur  Settings
	repo Repository
}

// NewProvider starts from Default(). repo may be nil for tests.
func NewProvider(repo Repository) *Provider {
	return &Provider{cur: Default(), repo: repo}
}

// NewStaticProvider serves fixed settings with no persistence.
func NewStaticProvider(s Settings) *Provider {
	return &Provider{cur: s.Clone()}
}

// Load replaces the current settings with the stored rows.
func (p *Provider) Load(ctx context.Context) error {
	if p.repo == nil {
		return nil
	}
	raw, err := p.repo.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	s, err := Decode(raw)
	if err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("stored settings invalid: %w", err)
	}

	p.mu.Lock()
	p.cur = s
	p.mu.Unlock()
	return nil
}

// Current returns a deep copy of the active settings.
func (p *Provider) Current() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cur.Clone()
}

// Update validates, persists and then swaps in s.
func (p *Provider) Update(ctx context.Context, s Settings) error {
	if s.DefaultCountry == "" {
		s.DefaultCountry = DefaultCountryCode
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if p.repo != nil {
		raw, err := Encode(s)
		if err != nil {
			return err
		}
		if err := p.repo.SaveConfig(ctx, raw); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
	}

	p.mu.Lock()
	p.cur = s.Clone()
	p.mu.Unlock()
	return nil
}

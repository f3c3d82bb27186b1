// Package credentials resolves model-provider secrets for agents from a chain
// of providers (environment, JSON file).
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kandev/agentmux/internal/common/logger"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no provider holds the requested key.
var ErrNotFound = errors.New("credential not found")

// Credential represents a stored credential.
type Credential struct {
	Key    string // Environment variable name (e.g., OPENAI_API_KEY)
	Value  string // The secret value (never logged)
	Source string // Provider that supplied it
}

// Provider is a source of credentials.
type Provider interface {
	// GetCredential retrieves a credential by key.
	GetCredential(ctx context.Context, key string) (*Credential, error)

	// Name returns the provider name.
	Name() string
}

// Manager queries providers in registration order and caches hits.
type Manager struct {
	providers []Provider
	cache     map[string]*Credential
	mu        sync.RWMutex
	logger    *logger.Logger
}

// NewManager creates a new credentials manager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		providers: make([]Provider, 0),
		cache:     make(map[string]*Credential),
		logger:    log.WithComponent("credentials-manager"),
	}
}

// AddProvider appends a credential provider to the lookup chain.
func (m *Manager) AddProvider(provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.providers = append(m.providers, provider)
	m.logger.Debug("added credential provider", zap.String("provider", provider.Name()))
}

// GetCredential retrieves a credential from the first provider that has it.
func (m *Manager) GetCredential(ctx context.Context, key string) (*Credential, error) {
	m.mu.RLock()
	if cred, ok := m.cache[key]; ok {
		m.mu.RUnlock()
		return cred, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, provider := range m.providers {
		cred, err := provider.GetCredential(ctx, key)
		if err == nil {
			m.cache[key] = cred
			m.logger.Debug("credential retrieved",
				zap.String("key", key),
				zap.String("source", cred.Source))
			return cred, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
}

// GetCredentialValue retrieves just the value of a credential.
func (m *Manager) GetCredentialValue(ctx context.Context, key string) (string, error) {
	cred, err := m.GetCredential(ctx, key)
	if err != nil {
		return "", err
	}
	return cred.Value, nil
}

// FirstValue returns the value of the first key any provider can supply.
// The empty string and false are returned when none is found.
func (m *Manager) FirstValue(ctx context.Context, keys ...string) (string, bool) {
	for _, key := range keys {
		if value, err := m.GetCredentialValue(ctx, key); err == nil && value != "" {
			return value, true
		}
	}
	return "", false
}

// ClearCache drops every cached credential so later lookups go back to the
// providers.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache = make(map[string]*Credential)
}

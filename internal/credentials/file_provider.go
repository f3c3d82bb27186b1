package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileProvider provides credentials from a JSON file of the form
// {"OPENAI_API_KEY": "sk-...", ...}. A missing file holds no credentials.
type FileProvider struct {
	path        string
	credentials map[string]*Credential
	mu          sync.RWMutex
	loaded      bool
}

// NewFileProvider creates a new file provider.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{
		path:        path,
		credentials: make(map[string]*Credential),
	}
}

// Name returns the provider name.
func (p *FileProvider) Name() string {
	return "file"
}

func (p *FileProvider) load() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded {
		return nil
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			p.loaded = true
			return nil
		}
		return fmt.Errorf("failed to read credentials file: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse credentials file: %w", err)
	}

	for key, value := range raw {
		p.credentials[key] = &Credential{Key: key, Value: value, Source: "file"}
	}

	p.loaded = true
	return nil
}

// GetCredential retrieves a credential from the file.
func (p *FileProvider) GetCredential(ctx context.Context, key string) (*Credential, error) {
	if err := p.load(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	cred, ok := p.credentials[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return cred, nil
}

package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentmux/internal/backend"
	"github.com/kandev/agentmux/internal/backend/inprocess"
	"github.com/kandev/agentmux/internal/common/config"
	"github.com/kandev/agentmux/internal/common/logger"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return log
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadWithPath(t.TempDir())
	require.NoError(t, err)
	return cfg
}

func TestDefaultKinds(t *testing.T) {
	r := NewDefault(newTestLogger())
	assert.Equal(t, []backend.Kind{backend.KindInProcess, backend.KindPTY, backend.KindTmux}, r.Kinds())
}

func TestNewBuildsEachKind(t *testing.T) {
	cfg := testConfig(t)
	r := NewDefault(newTestLogger())
	deps := Deps{
		Session: inprocess.NewSessionConfig(inprocess.SessionOptions{SessionID: "s1", WorkingDir: t.TempDir()}),
		Tasks: &inprocess.FuncFactory{Run: func(ctx context.Context, _ inprocess.RuntimeConfig, _ backend.RuntimeSpec, _ <-chan string) error {
			return nil
		}},
	}

	for _, kind := range r.Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			b, err := r.New(kind, cfg, deps)
			require.NoError(t, err)
			assert.Equal(t, kind, b.Name())
		})
	}
}

func TestNewUnknownKind(t *testing.T) {
	r := NewDefault(newTestLogger())
	_, err := r.New("screen", testConfig(t), Deps{})
	assert.ErrorIs(t, err, ErrBackendNotFound)
}

func TestInProcessRequiresCollaborators(t *testing.T) {
	r := NewDefault(newTestLogger())
	_, err := r.New(backend.KindInProcess, testConfig(t), Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task factory")
}

func TestFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend.Kind = string(backend.KindPTY)

	b, err := NewDefault(newTestLogger()).FromConfig(cfg, Deps{})
	require.NoError(t, err)
	assert.Equal(t, backend.KindPTY, b.Name())
}

func TestRegisterReplacesFactory(t *testing.T) {
	r := New(newTestLogger())
	boom := errors.New("boom")
	r.Register(backend.KindTmux, func(*config.Config, Deps) (backend.Backend, error) { return nil, boom })

	_, err := r.New(backend.KindTmux, testConfig(t), Deps{})
	assert.ErrorIs(t, err, boom)

	r.Register(backend.KindTmux, newTmux)
	b, err := r.New(backend.KindTmux, testConfig(t), Deps{})
	require.NoError(t, err)
	assert.Equal(t, backend.KindTmux, b.Name())
	assert.Len(t, r.Kinds(), 1)
}

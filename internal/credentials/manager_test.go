package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kandev/agentmux/internal/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{
		Level:  "error",
		Format: "json",
	})
	return log
}

func writeCredsFile(t *testing.T, creds map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "creds.json")
	data, err := json.Marshal(creds)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestManager_GetCredential_FromEnv(t *testing.T) {
	t.Setenv("AGENTMUX_TEST_CRED_KEY", "test-secret-value")

	mgr := NewManager(newTestLogger())
	mgr.AddProvider(NewEnvProvider(""))

	cred, err := mgr.GetCredential(context.Background(), "AGENTMUX_TEST_CRED_KEY")
	require.NoError(t, err)
	assert.Equal(t, "test-secret-value", cred.Value)
	assert.Equal(t, "environment", cred.Source)
}

func TestManager_GetCredential_Cached(t *testing.T) {
	t.Setenv("AGENTMUX_TEST_CACHED", "cached-value")

	mgr := NewManager(newTestLogger())
	mgr.AddProvider(NewEnvProvider(""))
	ctx := context.Background()

	_, err := mgr.GetCredential(ctx, "AGENTMUX_TEST_CACHED")
	require.NoError(t, err)
	require.NoError(t, os.Unsetenv("AGENTMUX_TEST_CACHED"))

	value, err := mgr.GetCredentialValue(ctx, "AGENTMUX_TEST_CACHED")
	require.NoError(t, err)
	assert.Equal(t, "cached-value", value)

	mgr.ClearCache()
	_, err = mgr.GetCredential(ctx, "AGENTMUX_TEST_CACHED")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestManager_GetCredential_NotFound(t *testing.T) {
	mgr := NewManager(newTestLogger())
	mgr.AddProvider(NewEnvProvider(""))

	_, err := mgr.GetCredential(context.Background(), "AGENTMUX_NON_EXISTENT_999")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestManager_ProviderOrder(t *testing.T) {
	t.Setenv("AGENTMUX_TEST_ORDER", "from-env")
	path := writeCredsFile(t, map[string]string{"AGENTMUX_TEST_ORDER": "from-file"})

	mgr := NewManager(newTestLogger())
	mgr.AddProvider(NewFileProvider(path))
	mgr.AddProvider(NewEnvProvider(""))

	cred, err := mgr.GetCredential(context.Background(), "AGENTMUX_TEST_ORDER")
	require.NoError(t, err)
	assert.Equal(t, "from-file", cred.Value)
	assert.Equal(t, "file", cred.Source)
}

func TestManager_FirstValue(t *testing.T) {
	t.Setenv("AGENTMUX_TEST_SECOND", "second")

	mgr := NewManager(newTestLogger())
	mgr.AddProvider(NewEnvProvider(""))
	ctx := context.Background()

	value, ok := mgr.FirstValue(ctx, "AGENTMUX_TEST_FIRST_MISSING", "AGENTMUX_TEST_SECOND")
	assert.True(t, ok)
	assert.Equal(t, "second", value)

	_, ok = mgr.FirstValue(ctx, "AGENTMUX_TEST_FIRST_MISSING")
	assert.False(t, ok)
}

func TestEnvProvider_GetCredential_WithPrefix(t *testing.T) {
	t.Setenv("AGENTMUX_MY_SECRET", "prefixed-value")

	provider := NewEnvProvider("AGENTMUX_")
	cred, err := provider.GetCredential(context.Background(), "MY_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "MY_SECRET", cred.Key)
	assert.Equal(t, "prefixed-value", cred.Value)
}

func TestFileProvider_GetCredential(t *testing.T) {
	path := writeCredsFile(t, map[string]string{"SECRET_KEY": "secret-value"})
	provider := NewFileProvider(path)
	ctx := context.Background()

	cred, err := provider.GetCredential(ctx, "SECRET_KEY")
	require.NoError(t, err)
	assert.Equal(t, "secret-value", cred.Value)
	assert.Equal(t, "file", cred.Source)

	_, err = provider.GetCredential(ctx, "MISSING")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileProvider_NonExistentFile(t *testing.T) {
	provider := NewFileProvider("/path/does/not/exist.json")

	_, err := provider.GetCredential(context.Background(), "ANY_KEY")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileProvider_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid.json")
	require.NoError(t, os.WriteFile(path, []byte("invalid json"), 0o600))

	_, err := NewFileProvider(path).GetCredential(context.Background(), "ANY_KEY")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

package credentials

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/llmgateway/provider"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestEnv_Credentials(t *testing.T) {
	catalog := provider.DefaultCatalog()
	env := map[string]string{
		"OPENAI_API_KEY": "sk-env",
		"ZHIPU_API_KEY":  "zk",
		"ZHIPU_VARIANT":  "coding",
	}

	src, err := NewEnv(catalog, WithLookup(lookupFrom(env)))
	require.NoError(t, err)

	creds, err := src.Credentials(context.Background(), "openai")
	require.NoError(t, err)
	assert.Equal(t, provider.Credentials{Secret: "sk-env"}, creds)

	creds, err = src.Credentials(context.Background(), "zhipu")
	require.NoError(t, err)
	assert.Equal(t, "coding", creds.Variant)

	_, err = src.Credentials(context.Background(), "anthropic")
	assert.ErrorIs(t, err, provider.ErrNoCredentials)
}

func TestEnv_DotenvAndRefresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("DEEPSEEK_API_KEY=old\n"), 0o600))

	src, err := NewEnv(nil,
		WithLookup(lookupFrom(nil)),
		WithDotenv(path, filepath.Join(dir, "missing.env")),
	)
	require.NoError(t, err)

	creds, err := src.Credentials(context.Background(), "deepseek")
	require.NoError(t, err)
	assert.Equal(t, "old", creds.Secret)

	require.NoError(t, os.WriteFile(path, []byte("DEEPSEEK_API_KEY=rotated\n"), 0o600))

	creds, err = src.Credentials(context.Background(), "deepseek")
	require.NoError(t, err)
	assert.Equal(t, "old", creds.Secret, "dotenv is only re-read on refresh")

	creds, err = src.Refresh(context.Background(), "deepseek", creds)
	require.NoError(t, err)
	assert.Equal(t, "rotated", creds.Secret)
}

func TestEnv_ProcessEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("OPENAI_API_KEY=from-file\n"), 0o600))

	src, err := NewEnv(nil,
		WithLookup(lookupFrom(map[string]string{"OPENAI_API_KEY": "from-env"})),
		WithDotenv(path),
	)
	require.NoError(t, err)

	creds, err := src.Credentials(context.Background(), "openai")
	require.NoError(t, err)
	assert.Equal(t, "from-env", creds.Secret)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "OPENAI_COMPAT", envName("openai-compat"))
	assert.Equal(t, "MY_HOST_AI", envName("my.host-ai"))
}

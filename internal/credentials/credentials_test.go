package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "id_test")
	require.NoError(t, os.WriteFile(keyPath, []byte("KEYDATA"), 0o600))

	path := filepath.Join(dir, "creds.yaml")
	body := "credentials:\n  lab-root:\n    password: hunter2\n  prod-ssh:\n    private_key_file: " + keyPath + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	store, err := LoadFile(path)
	require.NoError(t, err)

	sec, err := store.Resolve(context.Background(), "lab-root")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", sec.Password)

	sec, err = store.Resolve(context.Background(), "prod-ssh")
	require.NoError(t, err)
	key, err := sec.Key()
	require.NoError(t, err)
	assert.Equal(t, "KEYDATA", string(key))

	_, err = store.Resolve(context.Background(), "missing")
	assert.True(t, errors.Is(err, chaoserr.ErrAuthentication))
}

func TestChainWithEnv(t *testing.T) {
	t.Setenv("CHAOS_TEST_PW", "s3cret")
	r := Chain{Static{"a": {Password: "x"}}, Env{}}

	sec, err := r.Resolve(context.Background(), "env:CHAOS_TEST_PW")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", sec.Password)

	sec, err = r.Resolve(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "x", sec.Password)

	_, err = r.Resolve(context.Background(), "env:CHAOS_TEST_UNSET_VAR")
	assert.Error(t, err)
}

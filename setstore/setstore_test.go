package setstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemSetStore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	s := NewMemSetStore()
	ok, err := s.InSet(ctx, "exempt", "u1")
	assert.NoError(err)
	assert.False(ok)

	s.Put("exempt", []string{"u1", "u2"})
	ok, err = s.InSet(ctx, "exempt", "u1")
	assert.NoError(err)
	assert.True(ok)
	ok, err = s.InSet(ctx, "exempt", "u3")
	assert.NoError(err)
	assert.False(ok)
}

func TestLoadFromFileJSON(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	p := filepath.Join(t.TempDir(), "sets.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"privileged-accounts": ["admin1", "admin2"], "empty": []}`), 0644))

	s := NewMemSetStore()
	require.NoError(t, s.LoadFromFileJSON(p))

	ok, err := s.InSet(ctx, "privileged-accounts", "admin2")
	assert.NoError(err)
	assert.True(ok)
	ok, err = s.InSet(ctx, "empty", "admin2")
	assert.NoError(err)
	assert.False(ok)

	assert.Error(s.LoadFromFileJSON(filepath.Join(t.TempDir(), "missing.json")))
}

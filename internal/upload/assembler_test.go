package upload

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/crashdock/crashdock/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleOrderIndependent(t *testing.T) {
	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	assembler := NewAssembler(blobs)

	registry := NewRegistry(t.TempDir())
	session, err := registry.Create("mod pack.zip", "CLIENT", 12, 3)
	require.NoError(t, err)

	// Arrival order must not matter, only index order
	for _, c := range []struct {
		index   int
		payload string
	}{
		{2, "GAMMA"},
		{0, "ALPHA"},
		{1, "BETA"},
	} {
		_, _, err := session.store.Put(c.index, strings.NewReader(c.payload))
		require.NoError(t, err)
	}

	path, err := assembler.Assemble(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, "client/mod_pack.zip", path)

	rc, err := blobs.Retrieve(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()

	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "ALPHABETAGAMMA", string(content))
}

func TestAssembleRejectsIncompleteSet(t *testing.T) {
	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	assembler := NewAssembler(blobs)

	registry := NewRegistry(t.TempDir())
	session, err := registry.Create("partial.bin", "SERVER", 10, 3)
	require.NoError(t, err)

	_, _, err = session.store.Put(0, strings.NewReader("AAAA"))
	require.NoError(t, err)
	_, _, err = session.store.Put(2, strings.NewReader("CC"))
	require.NoError(t, err)

	_, err = assembler.Assemble(context.Background(), session)
	assert.True(t, errors.Is(err, ErrIncompleteSet))

	// Nothing may be visible in artifact storage after a failed assembly
	paths, err := blobs.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

package upload

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyZipCountsEntries(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"mod.json", "assets/icon.png", "classes/Main.class"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("content"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	count, err := ArchiveClassifier{}.Classify("mod.jar", bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestClassifyTextCountsLines(t *testing.T) {
	content := "line one\nline two\nline three"

	count, err := ArchiveClassifier{}.Classify("crash.log", strings.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestClassifyCorruptZip(t *testing.T) {
	garbage := []byte("this is not a zip archive")

	_, err := ArchiveClassifier{}.Classify("broken.zip", bytes.NewReader(garbage), int64(len(garbage)))
	assert.Error(t, err)
}

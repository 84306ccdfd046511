package utils

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("hunter22", 4)
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)

	assert.True(t, CheckPassword("hunter22", hash))
	assert.False(t, CheckPassword("wrong", hash))
}

func TestGenerateAndValidateJWT(t *testing.T) {
	userID := uuid.New()
	secret := "test-secret"

	token, err := GenerateJWT(userID, secret, time.Hour)
	require.NoError(t, err)

	parsed, err := ValidateJWT(token, secret)
	require.NoError(t, err)
	assert.Equal(t, userID, parsed)

	_, err = ValidateJWT(token, "other-secret")
	assert.Error(t, err)
}

func TestValidateJWT_Expired(t *testing.T) {
	userID := uuid.New()
	token, err := GenerateJWT(userID, "secret", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateJWT(token, "secret")
	assert.Error(t, err)
}

func TestComputeSHA256(t *testing.T) {
	data := []byte("hello world")
	// Well-known digest of "hello world"
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

	assert.Equal(t, want, ComputeSHA256(data))

	fromReader, err := ComputeSHA256FromReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, want, fromReader)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"clean name unchanged", "server-1.2.3.jar", "server-1.2.3.jar"},
		{"spaces replaced", "my server.zip", "my_server.zip"},
		{"path traversal neutralized", "../../etc/passwd", ".._.._etc_passwd"},
		{"unicode replaced", "сборка.jar", "______.jar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeFilename(tt.input))
		})
	}
}

func TestSanitizeFilename_Degenerate(t *testing.T) {
	assert.True(t, strings.HasPrefix(SanitizeFilename(""), "file_"))
	assert.True(t, strings.HasPrefix(SanitizeFilename(".."), "file_"))
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, "SERVER", NormalizeCategory("server"))
	assert.Equal(t, "CLIENT", NormalizeCategory("CLIENT"))
	assert.Equal(t, "OTHER", NormalizeCategory("modpack"))
}

func TestVersionAtLeast(t *testing.T) {
	assert.True(t, VersionAtLeast("1.7.10", "1.7.0"))
	assert.True(t, VersionAtLeast("1.7.0", "1.7.0"))
	assert.False(t, VersionAtLeast("1.6.4", "1.7.0"))
	assert.False(t, VersionAtLeast("not-a-version", "1.7.0"))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "5.0 MB", FormatBytes(5*1024*1024))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
}

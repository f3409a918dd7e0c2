package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := `# database
DATABASE_URL=postgres://localhost/app
export API_TOKEN="abc123"

EMPTY=
BROKEN LINE
DATABASE_URL=postgres://localhost/override
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	values, order, err := parseEnvFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"DATABASE_URL", "API_TOKEN", "EMPTY"}, order)
	assert.Equal(t, "postgres://localhost/override", values["DATABASE_URL"], "last assignment wins")
	assert.Equal(t, "abc123", values["API_TOKEN"], "export prefix and quotes stripped")
	assert.Equal(t, "", values["EMPTY"])
	assert.NotContains(t, values, "BROKEN")
}

func TestParseEnvFileMissing(t *testing.T) {
	values, order, err := parseEnvFile(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, values)
	assert.Empty(t, order)
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		key   string
		value string
		want  string
	}{
		{"DATABASE_URL", "postgres://x", "postgres://x"},
		{"API_TOKEN", "abc", "********"},
		{"SECRET_SAUCE", "abc", "********"},
		{"AWS_ACCESS_KEY_ID", "abc", "********"},
		{"stripe_password", "abc", "********"},
		{"EMPTY_TOKEN", "", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, maskSecret(tt.key, tt.value), tt.key)
	}
}

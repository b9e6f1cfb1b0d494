package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	inside := filepath.Join(base, "captures", "run1.pcap")
	require.NoError(t, os.MkdirAll(filepath.Dir(inside), 0o755))
	require.NoError(t, os.WriteFile(inside, []byte("x"), 0o644))

	assert.NoError(t, ValidatePathWithinDirectory(inside, base))
	assert.NoError(t, ValidatePathWithinDirectory(filepath.Join(base, "new", "file.pcap"), base), "non-existent paths inside are fine")
	assert.Error(t, ValidatePathWithinDirectory(filepath.Join(base, "..", "escape.pcap"), base))
	assert.Error(t, ValidatePathWithinDirectory("/etc/passwd", base))
}

func TestValidatePathWithinDirectory_Symlink(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(base, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	assert.Error(t, ValidatePathWithinDirectory(filepath.Join(link, "file.pcap"), base))
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	t.Parallel()
	a, b := t.TempDir(), t.TempDir()
	assert.NoError(t, ValidatePathWithinAllowedDirs(filepath.Join(b, "x.json"), []string{a, b}))
	assert.Error(t, ValidatePathWithinAllowedDirs(filepath.Join(b, "x.json"), []string{a}))
	assert.Error(t, ValidatePathWithinAllowedDirs("x.json", nil))
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"":                   "unknown",
		"session 42/../x":    "session_42_.._x",
		"waterfall-2025.png": "waterfall-2025.png",
		"..hidden..":         "hidden",
		"ünïcode name":       "n_code_name",
		"___":                "unknown",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
}

package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touchExecutable(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
}

func TestResolveOverrideWins(t *testing.T) {
	exe := filepath.Join(t.TempDir(), "custom-engine")
	touchExecutable(t, exe)

	got, err := Resolve(Config{ExecutablePath: exe})
	require.NoError(t, err)
	assert.Equal(t, exe, got)
}

func TestResolveBrokenOverrideDoesNotFallThrough(t *testing.T) {
	dir := t.TempDir()
	// A resolvable build-dir binary exists, but the override is broken:
	// the chain must stop at the override.
	touchExecutable(t, filepath.Join(dir, "build", "henkan-server"))

	_, err := Resolve(Config{
		ExecutablePath: filepath.Join(dir, "no-such-engine"),
		BuildDirs:      []string{filepath.Join(dir, "build")},
	})
	assert.ErrorIs(t, err, ErrExecutableNotFound)
}

func TestResolveBuildDirFallback(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "target", "debug", "henkan-server")
	touchExecutable(t, exe)

	got, err := Resolve(Config{
		ExecutableName: "henkan-server",
		BuildDirs: []string{
			filepath.Join(dir, "target", "release"),
			filepath.Join(dir, "target", "debug"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, exe, got)
}

func TestResolveNothingFound(t *testing.T) {
	_, err := Resolve(Config{
		ExecutableName: "definitely-not-installed-engine",
		BuildDirs:      []string{t.TempDir()},
	})
	assert.ErrorIs(t, err, ErrExecutableNotFound)
}

package engine

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// DefaultExecutableName is the engine binary resolved when no override is
// configured.
const DefaultExecutableName = "henkan-server"

// defaultBuildDirs are searched last, so a locally built engine is picked
// up without any configuration.
var defaultBuildDirs = []string{
	filepath.Join("target", "release"),
	filepath.Join("target", "debug"),
}

// Resolve walks the executable fallback chain: explicit override, then the
// installed binary on PATH, then local build directories. A configured
// override that does not exist is an error, not a fall-through.
func Resolve(cfg Config) (string, error) {
	if cfg.ExecutablePath != "" {
		if fileExists(cfg.ExecutablePath) {
			return cfg.ExecutablePath, nil
		}
		return "", fmt.Errorf("%w: configured path %s does not exist",
			ErrExecutableNotFound, cfg.ExecutablePath)
	}

	name := cfg.ExecutableName
	if name == "" {
		name = DefaultExecutableName
	}
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		name += ".exe"
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	dirs := cfg.BuildDirs
	if len(dirs) == 0 {
		dirs = defaultBuildDirs
	}
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if fileExists(candidate) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: %s not on PATH and no build directory holds it",
		ErrExecutableNotFound, name)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

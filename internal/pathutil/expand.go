package pathutil

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

const (
	configDirName  = ".sdd"
	configFileName = "config.yaml"
)

// Expand resolves $VARS and a leading "~" in a configured path.
func Expand(path string) (string, error) {
	p := os.ExpandEnv(strings.TrimSpace(path))
	if p == "" {
		return "", nil
	}

	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := Home()
		if err != nil {
			return "", fmt.Errorf("expand %q: %w", path, err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return filepath.Clean(p), nil
}

// Home returns an absolute home directory. A HOME that still starts with
// "~" is rejected.
func Home() (string, error) {
	candidates := make([]string, 0, 3)
	if h, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, h)
	}
	if u, err := user.Current(); err == nil {
		candidates = append(candidates, u.HomeDir)
	}
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" && !strings.HasPrefix(c, "~") {
			return c, nil
		}
	}

	env := strings.TrimSpace(os.Getenv("HOME"))
	switch {
	case env == "":
		return "", fmt.Errorf("HOME is not set")
	case strings.HasPrefix(env, "~"):
		return "", fmt.Errorf("HOME is not fully resolved: %s", env)
	}
	return env, nil
}

// ConfigDir is the per-user directory holding config.yaml.
func ConfigDir() (string, error) {
	home, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configDirName), nil
}

func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// EnsureDir creates dir and its parents and fails if the path exists as a
// regular file.
func EnsureDir(dir string, perm os.FileMode) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("empty directory path")
	}
	if err := os.MkdirAll(dir, perm); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

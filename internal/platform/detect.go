package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appName = "voxscribe"

// Dirs are the on-disk locations voxscribe reads models and bundled samples from.
type Dirs struct {
	Data    string
	Models  string
	Samples string
}

func Target() string {
	return runtime.GOOS + "/" + NormalizeArch(runtime.GOARCH)
}

func NormalizeArch(arch string) string {
	switch arch {
	case "x86_64":
		return "amd64"
	case "aarch64":
		return "arm64"
	default:
		return arch
	}
}

// DirsFor computes the default layout for goos without touching the environment.
func DirsFor(goos, homeDir, xdgDataHome string) (Dirs, error) {
	data, err := dataDirFor(goos, homeDir, xdgDataHome)
	if err != nil {
		return Dirs{}, err
	}
	return Dirs{
		Data:    data,
		Models:  filepath.Join(data, "models"),
		Samples: filepath.Join(data, "samples"),
	}, nil
}

// ResolveDirs returns the default layout for this host with non-empty overrides applied.
// Overrides are used even when the platform has no default data directory.
func ResolveDirs(modelsOverride, samplesOverride string) (Dirs, error) {
	var dirs Dirs
	if modelsOverride == "" || samplesOverride == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return Dirs{}, fmt.Errorf("resolve user home: %w", err)
		}
		dirs, err = DirsFor(runtime.GOOS, homeDir, os.Getenv("XDG_DATA_HOME"))
		if err != nil {
			return Dirs{}, err
		}
	}

	if modelsOverride != "" {
		dirs.Models = filepath.Clean(modelsOverride)
	}
	if samplesOverride != "" {
		dirs.Samples = filepath.Clean(samplesOverride)
	}
	return dirs, nil
}

func dataDirFor(goos, homeDir, xdgDataHome string) (string, error) {
	if homeDir == "" {
		return "", errors.New("home directory is empty")
	}

	switch goos {
	case "linux", "freebsd":
		if xdgDataHome != "" {
			return filepath.Join(xdgDataHome, appName), nil
		}
		return filepath.Join(homeDir, ".local", "share", appName), nil
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", appName), nil
	default:
		return "", fmt.Errorf("unsupported OS %s: pass --models-dir and --samples-dir", goos)
	}
}

package state

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

const (
	// EnvStateDir overrides the state directory when set and non-empty.
	EnvStateDir = "TTSD_STATE_DIR"

	appDirName = "ttsd"
)

// Platform carries the host facts that decide where state lives.
type Platform struct {
	GOOS string
	Home string
}

// CurrentPlatform describes the running host.
func CurrentPlatform() Platform {
	home, _ := os.UserHomeDir()
	return Platform{GOOS: runtime.GOOS, Home: home}
}

// ResolveDir picks the state directory. A non-empty override is used as-is
// (made absolute); otherwise the platform convention applies:
//
//	darwin:  ~/Library/Application Support/ttsd
//	windows: %LOCALAPPDATA%\ttsd
//	other:   $XDG_STATE_HOME/ttsd or ~/.local/state/ttsd
func ResolveDir(p Platform, override string, getenv func(string) string) (string, error) {
	if override != "" {
		return filepath.Abs(override)
	}

	switch p.GOOS {
	case "darwin":
		if p.Home == "" {
			return "", errors.New("cannot determine home directory")
		}
		return filepath.Join(p.Home, "Library", "Application Support", appDirName), nil
	case "windows":
		if dir := getenv("LOCALAPPDATA"); dir != "" {
			return filepath.Join(dir, appDirName), nil
		}
		home := p.Home
		if home == "" {
			home = getenv("USERPROFILE")
		}
		if home == "" {
			return "", errors.New("cannot determine local app data directory")
		}
		return filepath.Join(home, "AppData", "Local", appDirName), nil
	default:
		if dir := getenv("XDG_STATE_HOME"); dir != "" {
			return filepath.Join(dir, appDirName), nil
		}
		if p.Home == "" {
			return "", errors.New("cannot determine home directory")
		}
		return filepath.Join(p.Home, ".local", "state", appDirName), nil
	}
}

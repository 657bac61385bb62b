package log

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	diagFileName       = "diagnostics_log.txt"
	transcriptFileName = "transcribe_log.txt"
)

// ResolveDir picks the log directory: the -logpath flag, then
// PAROLE_LOG_PATH, then the per-user default for the platform.
func ResolveDir(flagPath string) (string, error) {
	for _, p := range []string{flagPath, os.Getenv("PAROLE_LOG_PATH")} {
		if p != "" {
			return filepath.Abs(p)
		}
	}
	return defaultDir()
}

// defaultDir is ~/Library/Logs/parole on macOS and <config dir>/parole/logs
// elsewhere (XDG_CONFIG_HOME on Linux, %AppData% on Windows).
func defaultDir() (string, error) {
	if runtime.GOOS == "darwin" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Logs", "parole"), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "parole", "logs"), nil
}

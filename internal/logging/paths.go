package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	logDirName  = ".storysearch"
	logFileName = "storysearch.log"
)

// DefaultLogDir returns where storysearch writes its logs
// (~/.storysearch/logs). Falls back to the temp directory when no home
// directory is available.
func DefaultLogDir() string {
	base, err := os.UserHomeDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, logDirName, "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), logFileName)
}

// FindLogFile resolves the log file for the logs command. An explicit
// path is used as given; otherwise the default path is tried. Either way
// the file must already exist.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if !fileExists(explicit) {
			return "", fmt.Errorf("log file not found: %s", explicit)
		}
		return explicit, nil
	}

	path := DefaultLogPath()
	if !fileExists(path) {
		return "", fmt.Errorf("no log file found.\nExpected at: %s\nStart the server, or run any command with --debug, to create it", path)
	}
	return path, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Package pidfile creates and removes the process's PID file.
package pidfile

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pgvictoria/pgvictoria/pgerr"
)

// Create writes the current process's PID to path, failing if the file
// already exists (O_EXCL) so a stale PID file is never silently
// clobbered by a second instance starting up.
func Create(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return pgerr.ConfigError(pgerr.ConfigFileError, "create pidfile %s: %v", path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return pgerr.TransportError("write pidfile %s: %v", path, err)
	}
	return nil
}

// Remove deletes path. It is not an error for path to already be gone.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return pgerr.TransportError("remove pidfile %s: %v", path, err)
	}
	return nil
}

// Read returns the PID recorded in path.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, pgerr.ConfigError(pgerr.ConfigFileError, "read pidfile %s: %v", path, err)
	}
	pid, err := strconv.Atoi(trimNewline(string(data)))
	if err != nil {
		return 0, pgerr.ConfigError(pgerr.ConfigFileError, "malformed pidfile %s: %v", path, err)
	}
	return pid, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

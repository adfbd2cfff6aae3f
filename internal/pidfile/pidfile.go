// Package pidfile writes and reads the server's PID file: path configurable,
// written on startup, removed on exit; "-s reload" reads it to locate the
// running instance.
package pidfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Write records the current process's PID at path, overwriting any
// existing file.
func Write(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// Remove deletes the PID file; a missing file is not an error.
func Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadPID reads the PID recorded at path, for "-s reload" to locate the
// running instance.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	return pid, nil
}

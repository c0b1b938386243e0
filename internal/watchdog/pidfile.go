package watchdog

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockPidFile opens (creating if needed) s.PidFile and takes an
// exclusive advisory lock on it with flock(2), refusing to start a
// second supervisor against the same file, then writes the current pid.
func (s *Supervisor) lockPidFile() (unlock func(), err error) {
	if s.PidFile == "" {
		return func() {}, nil
	}

	f, err := os.OpenFile(s.PidFile, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("watchdog: open pid file %q: %w", s.PidFile, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("watchdog: pid file %q already locked, another supervisor is running: %w", s.PidFile, err)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("watchdog: truncate pid file: %w", err)
	}
	if _, err := f.WriteString(fmt.Sprintf("%d\n", os.Getpid())); err != nil {
		f.Close()
		return nil, fmt.Errorf("watchdog: write pid file: %w", err)
	}

	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		os.Remove(s.PidFile)
	}, nil
}

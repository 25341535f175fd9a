package instance

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

type unixProcess struct {
	name string
}

func platformProcess() Process {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return unixProcess{name: filepath.Base(exe)}
}

// Alive sends signal 0: delivery is checked without signalling.
func (p unixProcess) Alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// IsRecorder compares the executable name in /proc/<pid>/cmdline with ours.
func (p unixProcess) IsRecorder(pid int) bool {
	cmdline, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline"))
	if err != nil || len(cmdline) == 0 {
		return false
	}
	argv0, _, _ := bytes.Cut(cmdline, []byte{0})
	return filepath.Base(string(argv0)) == p.name
}

func (p unixProcess) Terminate(pid int) error {
	if err := unix.Kill(pid, unix.SIGTERM); err != nil && err != unix.ESRCH {
		return fmt.Errorf("kill %d: %w", pid, err)
	}
	return nil
}

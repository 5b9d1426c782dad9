package executor

import (
	"errors"
	"os"
	"os/exec"
)

// ErrNoPrivileges is returned when a command needs root but the process can
// neither run as root nor use sudo.
var ErrNoPrivileges = errors.New("this operation requires root privileges, but neither running as root nor sudo is available")

// IsRoot reports whether the process runs with effective uid 0.
func IsRoot() bool {
	return os.Geteuid() == 0
}

// HasSudo reports whether sudo is on PATH.
func HasSudo() bool {
	_, err := exec.LookPath("sudo")
	return err == nil
}

// CanElevate reports whether privileged commands can run at all.
func CanElevate() bool {
	return IsRoot() || HasSudo()
}

// elevate returns the program and arguments that run name with root
// privileges. Unless interactive, sudo fails instead of asking for a password.
func elevate(name string, args []string, interactive bool) (string, []string, error) {
	if IsRoot() {
		return name, args, nil
	}
	if !HasSudo() {
		return "", nil, ErrNoPrivileges
	}
	full := []string{name}
	if !interactive {
		full = []string{"-n", name}
	}
	return "sudo", append(full, args...), nil
}

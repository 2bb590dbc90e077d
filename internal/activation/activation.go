// Package activation opens the listener of the watch-mode HTTP server,
// preferring a socket passed in by systemd.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// Systemd passes file descriptors starting at fd 3
// (0=stdin, 1=stdout, 2=stderr)
const firstFD = 3

// Listen returns the systemd-activated socket if there is one, otherwise a
// TCP listener on addr. It returns nil without error when neither is
// available. activated reports which of the two was used.
func Listen(addr string) (ln net.Listener, activated bool, err error) {
	count, err := socketCount(os.Getenv("LISTEN_PID"), os.Getenv("LISTEN_FDS"))
	if err != nil {
		return nil, false, err
	}

	if count > 0 {
		ln, err := fileListener(firstFD)
		if err != nil {
			return nil, false, err
		}
		// Only the first socket is served; close the rest
		for i := 1; i < count; i++ {
			if f := os.NewFile(uintptr(firstFD+i), "systemd-socket-"+strconv.Itoa(i)); f != nil {
				_ = f.Close()
			}
		}

		// Unset the environment variables so child processes don't inherit them
		_ = os.Unsetenv("LISTEN_PID")
		_ = os.Unsetenv("LISTEN_FDS")
		_ = os.Unsetenv("LISTEN_FDNAMES")
		return ln, true, nil
	}

	if addr == "" {
		return nil, false, nil
	}
	ln, err = net.Listen("tcp", addr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, false, nil
}

// socketCount interprets LISTEN_PID and LISTEN_FDS. Sockets meant for another
// process count as none.
func socketCount(pidStr, fdsStr string) (int, error) {
	if pidStr == "" {
		return 0, nil
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if pid != os.Getpid() {
		return 0, nil
	}

	if fdsStr == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(fdsStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

func fileListener(fd int) (net.Listener, error) {
	file := os.NewFile(uintptr(fd), fmt.Sprintf("systemd-socket-%d", fd-firstFD))
	if file == nil {
		return nil, fmt.Errorf("failed to create file for fd %d", fd)
	}
	// the listener holds its own duplicate of the descriptor
	defer func() { _ = file.Close() }()

	ln, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
	}
	return ln, nil
}

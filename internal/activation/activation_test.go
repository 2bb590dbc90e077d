package activation

import (
	"os"
	"strconv"
	"testing"
)

func TestSocketCount(t *testing.T) {
	self := strconv.Itoa(os.Getpid())

	tests := []struct {
		name    string
		pid     string
		fds     string
		want    int
		wantErr bool
	}{
		{name: "no environment", pid: "", fds: "", want: 0},
		{name: "other process", pid: "99999999", fds: "1", want: 0},
		{name: "invalid pid", pid: "not-a-number", fds: "1", wantErr: true},
		{name: "invalid fds", pid: self, fds: "not-a-number", wantErr: true},
		{name: "missing fds", pid: self, fds: "", want: 0},
		{name: "zero fds", pid: self, fds: "0", want: 0},
		{name: "two sockets", pid: self, fds: "2", want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := socketCount(tt.pid, tt.fds)
			if (err != nil) != tt.wantErr {
				t.Fatalf("socketCount() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("socketCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestListen_NoActivationNoAddr(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	ln, activated, err := Listen("")
	if err != nil {
		t.Fatalf("Listen() unexpected error: %v", err)
	}
	if ln != nil || activated {
		t.Errorf("expected no listener, got %v (activated=%v)", ln, activated)
	}
}

func TestListen_TCPFallback(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	ln, activated, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() unexpected error: %v", err)
	}
	defer func() { _ = ln.Close() }()

	if activated {
		t.Error("fallback listener reported as activated")
	}
	if ln.Addr().Network() != "tcp" {
		t.Errorf("unexpected network %s", ln.Addr().Network())
	}
}

func TestListen_InvalidEnvironment(t *testing.T) {
	t.Setenv("LISTEN_PID", "not-a-number")
	t.Setenv("LISTEN_FDS", "1")

	if _, _, err := Listen("127.0.0.1:0"); err == nil {
		t.Error("expected error for invalid LISTEN_PID, got nil")
	}
}

func TestListen_InvalidAddress(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	if _, _, err := Listen("not an address"); err == nil {
		t.Error("expected error for invalid address")
	}
}

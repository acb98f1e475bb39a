package motor

import (
	"bufio"
	"bytes"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var sclHeader = []byte{0x00, 0x07}

// mockDrive emulates the TCP command port of an STM23 drive. Commands are
// answered from defaultDriveReplies unless a test installs its own handler; a
// handler returning nil falls back to the defaults.
type mockDrive struct {
	t  *testing.T
	ln net.Listener

	mu      sync.Mutex
	cmds    []string
	conns   []net.Conn
	handler func(cmd string) []string
}

var defaultDriveReplies = map[string]string{
	"PR": "PR=000000100",
	"RS": "RS=R",
	"IP": "IP=0",
	"AL": "AL=0000",
	"CC": "CC=4.0",
	"CI": "CI=1.2",
	"EG": "EG=20000",
	"ER": "ER=4000",
	"VE": "VE=4.0000",
	"AC": "AC=25.000",
	"DE": "DE=25.000",
}

func newMockDrive(t *testing.T) *mockDrive {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	d := &mockDrive{t: t, ln: ln}
	go d.acceptLoop()

	t.Cleanup(d.close)

	return d
}

func (d *mockDrive) port() int {
	return d.ln.Addr().(*net.TCPAddr).Port
}

func (d *mockDrive) setHandler(h func(cmd string) []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

// commands returns every command received so far, in arrival order.
func (d *mockDrive) commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.cmds...)
}

// dropConnections closes every live connection, simulating a drive power
// cycle. The listener stays up so the actor can reconnect.
func (d *mockDrive) dropConnections() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, conn := range d.conns {
		_ = conn.Close()
	}
	d.conns = nil
}

func (d *mockDrive) close() {
	_ = d.ln.Close()
	d.dropConnections()
}

func (d *mockDrive) acceptLoop() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}

		d.mu.Lock()
		d.conns = append(d.conns, conn)
		d.mu.Unlock()

		go d.serve(conn)
	}
}

func (d *mockDrive) serve(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	reader := bufio.NewReader(conn)
	for {
		raw, err := reader.ReadBytes('\r')
		if err != nil {
			return
		}

		cmd := strings.TrimSuffix(string(bytes.TrimPrefix(raw, sclHeader)), "\r")

		d.mu.Lock()
		d.cmds = append(d.cmds, cmd)
		handler := d.handler
		d.mu.Unlock()

		var replies []string
		if handler != nil {
			replies = handler(cmd)
		}
		if replies == nil {
			replies = []string{defaultDriveReply(cmd)}
		}

		for _, reply := range replies {
			frame := append([]byte{}, sclHeader...)
			frame = append(frame, reply...)
			frame = append(frame, '\r')
			if _, err := conn.Write(frame); err != nil {
				return
			}
		}
	}
}

func defaultDriveReply(cmd string) string {
	if reply, ok := defaultDriveReplies[cmd]; ok {
		return reply
	}

	// anything else is a setter or immediate command; acknowledge it
	return "%"
}

// testConfig builds a config pointed at the mock drive with short timeouts.
func testConfig(t *testing.T, port int, opts ...Option) *Config {
	t.Helper()

	base := []Option{
		WithName(t.Name()),
		WithPort(port),
		WithConnectTimeout(200 * time.Millisecond),
		WithReadTimeout(500 * time.Millisecond),
	}
	base = append(base, opts...)

	cfg, err := NewConfig("127.0.0.1", base...)
	require.NoError(t, err)

	return cfg
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.Fail(t, "condition never met", msg)
}

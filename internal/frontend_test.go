package internal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/romgate/internal/core"
	"github.com/dcrodman/romgate/internal/core/client"
	"github.com/dcrodman/romgate/internal/protocol"
	"github.com/dcrodman/romgate/internal/ratelimit"
	"github.com/dcrodman/romgate/internal/registry"
)

// scriptedConn is a net.Conn that serves a preloaded byte stream to reads and
// captures writes, so a whole session can be driven without a real socket.
type scriptedConn struct {
	incoming *bytes.Reader

	mu     sync.Mutex
	sent   bytes.Buffer
	closed bool
}

func newScriptedConn(frames ...[]byte) *scriptedConn {
	var stream bytes.Buffer
	for _, payload := range frames {
		stream.Write(protocol.EncodeFrame(payload))
	}
	return &scriptedConn{incoming: bytes.NewReader(stream.Bytes())}
}

func (s *scriptedConn) Read(b []byte) (int, error) {
	return s.incoming.Read(b)
}

func (s *scriptedConn) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent.Write(b)
}

func (s *scriptedConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptedConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12000}
}

func (s *scriptedConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 49152}
}

func (s *scriptedConn) SetDeadline(t time.Time) error      { return nil }
func (s *scriptedConn) SetReadDeadline(t time.Time) error  { return nil }
func (s *scriptedConn) SetWriteDeadline(t time.Time) error { return nil }

func (s *scriptedConn) sentFrames(t *testing.T) [][]byte {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	var frames [][]byte
	r := bytes.NewReader(s.sent.Bytes())
	for {
		payload, err := protocol.ReadFrame(r)
		if err == io.EOF {
			return frames
		}
		if err != nil {
			t.Fatalf("failed to decode sent frame: %s", err)
		}
		frames = append(frames, payload)
	}
}

// recordingBackend records every frame Handle receives and whether Teardown
// ran. Frames matching terminateOn flip the session to its terminal state and
// frames matching failOn return an error, mimicking the two ways a backend
// ends a session.
type recordingBackend struct {
	terminateOn string
	failOn      string

	handled   [][]byte
	teardowns int
}

func (b *recordingBackend) Identifier() string               { return "TEST" }
func (b *recordingBackend) Init(_ context.Context) error     { return nil }
func (b *recordingBackend) Handshake(_ *client.Client) error { return nil }

func (b *recordingBackend) Handle(_ context.Context, c *client.Client, payload []byte) error {
	b.handled = append(b.handled, payload)
	if b.failOn != "" && string(payload) == b.failOn {
		return errors.New("handler failed")
	}
	if b.terminateOn != "" && string(payload) == b.terminateOn {
		c.State = client.Terminated
	}
	return nil
}

func (b *recordingBackend) Teardown(c *client.Client) {
	b.teardowns++
	c.State = client.Terminated
}

func setUpFrontend(backend Backend, limiterCfg ratelimit.Config) *frontend {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return &frontend{
		Address:  "localhost:9999",
		Backend:  backend,
		Config:   &core.Config{MaxConnections: 10},
		Logger:   logger,
		Registry: registry.New(logger),
		Limiter:  ratelimit.New(limiterCfg),
	}
}

func runSession(f *frontend, conn *scriptedConn) *client.Client {
	c := client.NewClient(conn)
	f.Registry.Add(c)
	f.Limiter.Register(c.IPAddr(), c.Port())
	f.processFrames(context.Background(), c)
	return c
}

func TestProcessFrames_DispatchesUntilEOF(t *testing.T) {
	backend := &recordingBackend{}
	f := setUpFrontend(backend, ratelimit.Config{Enabled: false})
	conn := newScriptedConn([]byte("MAN"), []byte("INFO|Tetris.gb"))

	runSession(f, conn)

	if len(backend.handled) != 2 {
		t.Fatalf("backend handled %d frames, want 2", len(backend.handled))
	}
	if got := string(backend.handled[0]); got != "MAN" {
		t.Errorf("first frame = %q, want %q", got, "MAN")
	}
	if !conn.closed {
		t.Error("connection was not closed after EOF")
	}
}

func TestProcessFrames_StopsOnTerminatedState(t *testing.T) {
	backend := &recordingBackend{terminateOn: "QUITGAME"}
	f := setUpFrontend(backend, ratelimit.Config{Enabled: false})
	conn := newScriptedConn([]byte("QUITGAME"), []byte("MAN"))

	runSession(f, conn)

	// The frame after the terminal one is never dispatched.
	if len(backend.handled) != 1 {
		t.Errorf("backend handled %d frames, want 1", len(backend.handled))
	}
}

func TestProcessFrames_StopsOnHandlerError(t *testing.T) {
	backend := &recordingBackend{failOn: "REG|alice"}
	f := setUpFrontend(backend, ratelimit.Config{Enabled: false})
	conn := newScriptedConn([]byte("REG|alice"), []byte("MAN"))

	runSession(f, conn)

	if len(backend.handled) != 1 {
		t.Errorf("backend handled %d frames, want 1", len(backend.handled))
	}
	if backend.teardowns != 1 {
		t.Errorf("Teardown() ran %d times, want 1", backend.teardowns)
	}
}

func TestProcessFrames_EmptyFrameEndsSession(t *testing.T) {
	backend := &recordingBackend{}
	f := setUpFrontend(backend, ratelimit.Config{Enabled: false})
	conn := newScriptedConn([]byte{}, []byte("MAN"))

	runSession(f, conn)

	if len(backend.handled) != 0 {
		t.Errorf("backend handled %d frames, want 0", len(backend.handled))
	}
	if !conn.closed {
		t.Error("connection was not closed")
	}
}

func TestProcessFrames_RateLimitNoticeAndDisconnect(t *testing.T) {
	backend := &recordingBackend{}
	f := setUpFrontend(backend, ratelimit.Config{
		Enabled:     true,
		MaxRequests: 2,
		TimeWindow:  10 * time.Second,
		BanDuration: 30 * time.Second,
	})
	conn := newScriptedConn([]byte("MAN"), []byte("MAN"), []byte("MAN"), []byte("MAN"))

	runSession(f, conn)

	// Two frames within quota, the third trips the limiter before dispatch.
	if len(backend.handled) != 2 {
		t.Fatalf("backend handled %d frames, want 2", len(backend.handled))
	}
	frames := conn.sentFrames(t)
	if len(frames) != 1 {
		t.Fatalf("client received %d frames, want 1", len(frames))
	}
	if got, want := string(frames[0]), string(protocol.RateLimitExceeded()); got != want {
		t.Errorf("notice frame = %q, want %q", got, want)
	}
	if !conn.closed {
		t.Error("connection was not closed")
	}
}

func TestCloseConnectionAndRecover_ReleasesSessionState(t *testing.T) {
	backend := &recordingBackend{}
	f := setUpFrontend(backend, ratelimit.Config{Enabled: false})
	conn := newScriptedConn()

	c := runSession(f, conn)

	if count := f.Registry.Count(); count != 0 {
		t.Errorf("registry count = %d after session end, want 0", count)
	}
	if backend.teardowns != 1 {
		t.Errorf("Teardown() ran %d times, want 1", backend.teardowns)
	}
	if c.State != client.Terminated {
		t.Errorf("client state = %s, want terminated", c.State)
	}
}

func TestCloseConnectionAndRecover_CatchesPanics(t *testing.T) {
	backend := &recordingBackend{}
	f := setUpFrontend(backend, ratelimit.Config{Enabled: false})
	conn := newScriptedConn()
	c := client.NewClient(conn)
	f.Registry.Add(c)

	func() {
		defer f.closeConnectionAndRecover("TEST", c)
		panic("handler blew up")
	}()

	if !conn.closed {
		t.Error("connection was not closed after panic")
	}
	if count := f.Registry.Count(); count != 0 {
		t.Errorf("registry count = %d after panic recovery, want 0", count)
	}
	if backend.teardowns != 1 {
		t.Errorf("Teardown() ran %d times, want 1", backend.teardowns)
	}
}

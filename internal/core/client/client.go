// Package client defines the server-side handle for one connected launcher.
package client

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dcrodman/romgate/internal/protocol"
)

// DefaultUsername is the placeholder bound to a session until the client
// authenticates.
const DefaultUsername = "NoName"

// State is the position of a session in its lifecycle.
type State int

const (
	// Anonymous is the initial state; only REG/LOG (and a few read-only
	// commands) are meaningful here.
	Anonymous State = iota
	// Authenticated means the session has a bound account.
	Authenticated
	// InGame means the client has downloaded a ROM and is playing.
	InGame
	// Terminated is the final state; the session loop exits once it is set.
	Terminated
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	case InGame:
		return "in-game"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// Client represents a user connected through the launcher client. All fields
// are owned by the session goroutine serving the connection; the username is
// additionally mirrored into the Registry for presence queries.
type Client struct {
	connection net.Conn
	ipAddr     string
	port       string

	// Username bound to the session, DefaultUsername until REG/LOG succeeds.
	Username string
	// State tracks the session lifecycle. Handlers transition it; the
	// session loop stops once it reaches Terminated.
	State State
	// ConnectedAt is when the connection was accepted.
	ConnectedAt time.Time

	// Debug enables frame logging for this client.
	Debug bool

	// Frames are written to the connection both by the session goroutine
	// (replies) and by other sessions' broadcasts, so writes are serialized.
	writeMu sync.Mutex
}

func NewClient(connection net.Conn) *Client {
	ipAddr, port, err := net.SplitHostPort(connection.RemoteAddr().String())
	if err != nil {
		ipAddr = connection.RemoteAddr().String()
	}

	return &Client{
		connection:  connection,
		ipAddr:      ipAddr,
		port:        port,
		Username:    DefaultUsername,
		ConnectedAt: time.Now(),
	}
}

func (c *Client) IPAddr() string { return c.ipAddr }
func (c *Client) Port() string   { return c.port }

// Read consumes the available bytes directly from the client's connection.
func (c *Client) Read(b []byte) (int, error) {
	return c.connection.Read(b)
}

// Close the connection.
func (c *Client) Close() error {
	return c.connection.Close()
}

// Send frames the payload and writes it to the client in full.
func (c *Client) Send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := protocol.WriteFrame(c.connection, payload); err != nil {
		return fmt.Errorf("failed to send to client %v: %w", c.ipAddr, err)
	}
	return nil
}

package internal

import (
	"context"

	"github.com/dcrodman/romgate/internal/core/client"
)

// Backend is an interface for a protocol server that handles a specific set
// of client interactions, keeping the lower level connection details in the
// frontend.
type Backend interface {
	// Identifier returns a uniquely identifying string.
	Identifier() string

	// Init is called before a Backend is started as a hook for the Backend to
	// perform any necessary initialization before it can accept clients.
	Init(ctx context.Context) error

	// Handshake performs any connection initialization necessary to begin
	// communicating with the client.
	Handshake(c *client.Client) error

	// Handle is the main entry point for processing client frames. It's
	// responsible for handling all decoded frames from a client as well as
	// sending any responses.
	Handle(ctx context.Context, c *client.Client, payload []byte) error

	// Teardown is invoked exactly once from the session finalizer, after the
	// client has been removed from the shared tables, so the Backend can
	// release anything it bound to the session (such as the account slot).
	Teardown(c *client.Client)
}

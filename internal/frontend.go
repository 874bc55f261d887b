package internal

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/romgate/internal/core"
	"github.com/dcrodman/romgate/internal/core/client"
	"github.com/dcrodman/romgate/internal/protocol"
	"github.com/dcrodman/romgate/internal/ratelimit"
	"github.com/dcrodman/romgate/internal/registry"
)

// frontend implements the concurrent client connection logic.
//
// Frames are read from any connected clients, run through the rate limiter,
// and passed to a backend instance, abstracting the lower level connection
// details away from the Backends.
type frontend struct {
	Address  string
	Backend  Backend
	Config   *core.Config
	Logger   *logrus.Logger
	Registry *registry.Registry
	Limiter  *ratelimit.Limiter
}

// Start initializes the server backend and opens a TLS socket for the
// specified server. A blocking loop for accepting client connections is spun
// off in its own goroutine and added to the WaitGroup. Context cancellations
// will stop the server.
func (f *frontend) Start(ctx context.Context, wg *sync.WaitGroup) error {
	if err := f.Backend.Init(ctx); err != nil {
		return fmt.Errorf("error initializing %s server: %v", f.Backend.Identifier(), err)
	}

	socket, err := f.createSocket()
	if err != nil {
		return fmt.Errorf("error creating socket on %s: %v", f.Address, err)
	}

	wg.Add(1)
	go f.startBlockingLoop(ctx, socket, wg)

	return nil
}

// createSocket opens a TLS listener on the Address provided to the frontend,
// using the certificate pair from the config. Clients only ever speak to the
// server through this encrypted transport.
func (f *frontend) createSocket() (net.Listener, error) {
	certificate, err := tls.LoadX509KeyPair(f.Config.TLS.CertificateFile, f.Config.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("error loading certificate pair: %w", err)
	}

	socket, err := tls.Listen("tcp", f.Address, &tls.Config{
		Certificates: []tls.Certificate{certificate},
	})
	if err != nil {
		return nil, fmt.Errorf("error listening on socket: %s", err.Error())
	}

	return socket, nil
}

// startBlockingLoop implements a connection handling loop that's purely
// responsible for accepting new connections and spinning off goroutines for
// the Backend to handle them.
func (f *frontend) startBlockingLoop(ctx context.Context, socket net.Listener, wg *sync.WaitGroup) {
	defer wg.Done()
	defer socket.Close()

	f.Logger.Printf("[%s] waiting for connections on %v", f.Backend.Identifier(), f.Address)

	connections := make(chan net.Conn)
	go func() {
		for {
			// Poll until we can accept more clients.
			for f.Registry.Count() > f.Config.MaxConnections {
				time.Sleep(10 * time.Second)
			}

			connection, err := socket.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
				}
				f.Logger.Warnf("failed to accept connection: %s", err.Error())
				continue
			}

			connections <- connection
		}
	}()

	clientWg := &sync.WaitGroup{}
handleLoop:
	for {
		select {
		case <-ctx.Done():
			break handleLoop
		case connection := <-connections:
			clientWg.Add(1)
			go f.acceptClient(ctx, connection, clientWg)
		}
	}

	f.Logger.Infof("[%v] shutting down (waiting for connections to close)", f.Backend.Identifier())
	clientWg.Wait()
	f.Logger.Infof("[%v] exited", f.Backend.Identifier())
}

// acceptClient takes a connection and attempts to initiate a session: the
// TLS handshake is driven to completion under a deadline, banned origins are
// turned away, and the client is entered into the shared tables before the
// goroutine moves into the frame processing loop.
func (f *frontend) acceptClient(ctx context.Context, connection net.Conn, wg *sync.WaitGroup) {
	defer wg.Done()

	c := client.NewClient(connection)
	c.Debug = f.Config.Debugging.PacketLoggingEnabled

	f.Logger.Infof("[%s] accepted connection from %s", f.Backend.Identifier(), c.IPAddr())

	// Complete the handshake eagerly so a client that stalls mid-negotiation
	// is abandoned here instead of hanging a session goroutine on its first read.
	if tlsConn, ok := connection.(*tls.Conn); ok {
		_ = tlsConn.SetDeadline(time.Now().Add(f.Config.HandshakeTimeout()))
		if err := tlsConn.Handshake(); err != nil {
			f.Logger.Warnf("[%s] TLS handshake with %s failed: %s", f.Backend.Identifier(), c.IPAddr(), err)
			_ = connection.Close()
			return
		}
		_ = tlsConn.SetDeadline(time.Time{})
	}

	// Fully banned origins get one notice and the door.
	if f.Limiter.FullBanActive(c.IPAddr()) {
		f.Logger.Infof("[%s] rejected connection from banned origin %s", f.Backend.Identifier(), c.IPAddr())
		_ = c.Send(protocol.Ban())
		_ = connection.Close()
		return
	}

	f.Registry.Add(c)
	f.Limiter.Register(c.IPAddr(), c.Port())

	if err := f.Backend.Handshake(c); err != nil {
		f.Logger.Errorf("Handshake() failed for client %s: %s", c.IPAddr(), err)
	}

	f.processFrames(ctx, c)
}

// processFrames starts a blocking loop dedicated to reading frames sent from
// a client and only returns once the connection has closed or the session
// reached its terminal state.
func (f *frontend) processFrames(ctx context.Context, c *client.Client) {
	defer f.closeConnectionAndRecover(f.Backend.Identifier(), c)

	for {
		select {
		case <-ctx.Done():
			// Just allow the deferred function to close the connection.
			return
		default:
		}

		payload, err := protocol.ReadFrame(c)
		if err == io.EOF {
			return
		} else if err != nil {
			f.Logger.Warnf("[%s] read from %s failed: %s", f.Backend.Identifier(), c.IPAddr(), err)
			return
		}

		// An empty frame is the client's way of hanging up.
		if len(payload) == 0 {
			return
		}

		if !f.applyRateLimit(c, protocol.IsHeartbeat(payload)) {
			return
		}

		if err = f.Backend.Handle(ctx, c, payload); err != nil {
			f.Logger.Warnf("error in client communication: %s", err.Error())
			return
		}

		if c.State == client.Terminated {
			return
		}
	}
}

// applyRateLimit runs one frame through the limiter, delivers any final
// notice the verdict calls for, and reports whether the session may continue.
func (f *frontend) applyRateLimit(c *client.Client, heartbeat bool) bool {
	verdict := f.Limiter.Check(c.IPAddr(), c.Port(), c.Username, heartbeat)

	switch verdict {
	case ratelimit.Allow:
		return true
	case ratelimit.FullBanned:
		_ = c.Send(protocol.Ban())
	case ratelimit.RateExceeded:
		f.Logger.Infof("[%s] rate limit exceeded by %s:%s", f.Backend.Identifier(), c.IPAddr(), c.Port())
		_ = c.Send(protocol.RateLimitExceeded())
	case ratelimit.Stalled:
		f.Logger.Infof("[%s] kicking stalled client %s:%s", f.Backend.Identifier(), c.IPAddr(), c.Port())
		_ = c.Send(protocol.TimeoutKick())
	case ratelimit.SoftBanned:
		// Silent; stream closure is the signal.
	}
	return false
}

// closeConnectionAndRecover is the failsafe that catches any panics,
// disconnects the client, and releases every shared-state entry for the
// session regardless of which branch ended it. Each step tolerates having
// already run so racing error paths cannot corrupt the tables.
func (f *frontend) closeConnectionAndRecover(serverName string, c *client.Client) {
	if err := recover(); err != nil {
		f.Logger.Errorf("error in client communication with %s: error=%s, trace: %s",
			c.IPAddr(), err, debug.Stack())
	}

	if err := c.Close(); err != nil {
		f.Logger.Warnf("failed to close client connection: %s", err)
	}

	f.Registry.Remove(c)
	f.Limiter.Remove(c.IPAddr(), c.Port())
	f.Backend.Teardown(c)

	f.Logger.Infof("[%s] disconnected client %s", serverName, c.IPAddr())
}

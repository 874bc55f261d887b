// Package gate implements the launcher-facing protocol server: account
// registration and login, the game manifest, ROM downloads, and info pages.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dcrodman/romgate/internal/core"
	"github.com/dcrodman/romgate/internal/core/auth"
	"github.com/dcrodman/romgate/internal/core/client"
	"github.com/dcrodman/romgate/internal/core/data"
	"github.com/dcrodman/romgate/internal/core/debug"
	"github.com/dcrodman/romgate/internal/protocol"
	"github.com/dcrodman/romgate/internal/registry"
	"github.com/dcrodman/romgate/internal/vault"
)

// UserStore is the durable account store the gate authenticates against.
type UserStore interface {
	Register(username, password string) error
	Login(username, password string) error
	Logout(username string) error
	SetPlaying(username string, playing bool) error
	OnlineRanked() ([]data.Account, error)
}

// ResourceVault reads the game resources served to clients.
type ResourceVault interface {
	Manifest() (string, error)
	ReadROM(name string) ([]byte, error)
	ReadInfoText(name string) ([]string, error)
	FindArt(prefix string) (string, []byte, error)
}

// Server is the GATE server implementation. One instance handles every
// connected client; per-connection state lives on the Client.
type Server struct {
	Name     string
	Config   *core.Config
	Logger   *logrus.Logger
	Users    UserStore
	Vault    ResourceVault
	Registry *registry.Registry
	Limiter  Limiter
}

// Limiter is the slice of the rate limiter the dispatcher consults directly
// for the soft-ban gates on REG and LOG.
type Limiter interface {
	SoftBanActive(ip string) bool
	SoftBanBlocks(ip, username string) bool
}

func (s *Server) Identifier() string {
	return s.Name
}

// Init verifies the vault is readable before we start accepting clients.
func (s *Server) Init(_ context.Context) error {
	if _, err := s.Vault.Manifest(); err != nil {
		return fmt.Errorf("checking game vault: %w", err)
	}
	return nil
}

// Handshake is a no-op; this protocol sends nothing until the client speaks.
func (s *Server) Handshake(_ *client.Client) error {
	return nil
}

// Handle dispatches one decoded frame. A parse error terminates the session;
// per-command failures are handled according to each command's contract.
func (s *Server) Handle(_ context.Context, c *client.Client, payload []byte) error {
	cmd, err := protocol.ParseCommand(payload)
	if err != nil {
		return err
	}

	if c.Debug {
		debug.LogFrame(s.Logger, c.IPAddr(), true, payload, cmd)
	}

	switch cmd.Kind {
	case protocol.KindRegister:
		return s.handleRegister(c, cmd)
	case protocol.KindLogin:
		return s.handleLogin(c, cmd)
	case protocol.KindManifest:
		return s.handleManifest(c)
	case protocol.KindBack:
		return s.handleBack(c, cmd)
	case protocol.KindGame:
		return s.handleGame(c, cmd)
	case protocol.KindInfo:
		return s.handleInfo(c, cmd)
	case protocol.KindQuitGame:
		c.State = client.Terminated
		return nil
	case protocol.KindHeartbeat:
		// Nothing to do; the session loop already reset stall detection.
		return nil
	case protocol.KindUnknown:
		s.Logger.Debugf("[%s] ignoring unknown command from %s", s.Name, c.IPAddr())
		return nil
	}
	return nil
}

func (s *Server) handleRegister(c *client.Client, cmd protocol.Command) error {
	// Any active soft ban on the origin refuses new registrations outright.
	if s.Limiter.SoftBanActive(c.IPAddr()) {
		c.State = client.Terminated
		return nil
	}

	if err := s.Users.Register(cmd.Username, cmd.Password); err != nil {
		s.Logger.Infof("[%s] registration failed for %q: %s", s.Name, cmd.Username, err)
		if errors.Is(err, auth.ErrUnknown) {
			return c.Send(protocol.ServerError(titleCase(err.Error())))
		}
		return c.Send(protocol.UserCreationError())
	}

	s.Logger.Infof("[%s] created user %q for %s", s.Name, cmd.Username, c.IPAddr())
	s.bindUsername(c, cmd.Username)
	s.broadcastOnlineList()

	return c.Send(protocol.UserCreated(cmd.Username))
}

func (s *Server) handleLogin(c *client.Client, cmd protocol.Command) error {
	if s.Limiter.SoftBanBlocks(c.IPAddr(), cmd.Username) {
		c.State = client.Terminated
		return nil
	}

	if err := s.Users.Login(cmd.Username, cmd.Password); err != nil {
		s.Logger.Infof("[%s] login failed for %q: %s", s.Name, cmd.Username, err)
		if errors.Is(err, auth.ErrUnknown) {
			return c.Send(protocol.ServerError(titleCase(err.Error())))
		}
		return c.Send(protocol.UserLoginError())
	}

	s.Logger.Infof("[%s] user %q logged in from %s", s.Name, cmd.Username, c.IPAddr())
	s.bindUsername(c, cmd.Username)
	s.broadcastOnlineList()

	return c.Send(protocol.UserLoggedIn(cmd.Username))
}

func (s *Server) handleManifest(c *client.Client) error {
	manifest, err := s.Vault.Manifest()
	if err != nil {
		return fmt.Errorf("building game manifest: %w", err)
	}
	return c.Send(protocol.GameList(manifest))
}

// handleBack returns the client to the menu: the account logs out and the
// session drops back to its unauthenticated state while staying connected.
func (s *Server) handleBack(c *client.Client, cmd protocol.Command) error {
	if cmd.Destination != "MEN" {
		return nil
	}

	if c.Username != client.DefaultUsername {
		if err := s.Users.Logout(c.Username); err != nil {
			s.Logger.Warnf("[%s] error logging out %q: %s", s.Name, c.Username, err)
		}
	}

	s.Registry.SetUsername(c, client.DefaultUsername)
	c.Username = client.DefaultUsername
	c.State = client.Anonymous
	s.broadcastOnlineList()
	return nil
}

// handleGame streams the requested ROM. A missing or unreadable ROM sends no
// reply at all; the client treats the silence as the error signal.
func (s *Server) handleGame(c *client.Client, cmd protocol.Command) error {
	rom, err := s.Vault.ReadROM(cmd.Title)
	if err != nil {
		s.Logger.Warnf("[%s] error loading rom %q: %s", s.Name, cmd.Title, err)
		return nil
	}

	if err := c.Send(protocol.GameData(rom)); err != nil {
		return err
	}

	if c.Username != client.DefaultUsername {
		if err := s.Users.SetPlaying(c.Username, true); err != nil {
			s.Logger.Warnf("[%s] error marking %q playing: %s", s.Name, c.Username, err)
		}
	}
	c.State = client.InGame
	// Playing users drop out of the ranked list, so presence changed.
	s.broadcastOnlineList()
	return nil
}

// handleInfo assembles the info page reply for a title: the two fields of its
// text record plus the first art asset matching the title's stem. Any missing
// piece logs and sends nothing.
func (s *Server) handleInfo(c *client.Client, cmd protocol.Command) error {
	stem := strings.SplitN(cmd.Title, ".", 2)[0]

	fields, err := s.Vault.ReadInfoText(stem)
	if err != nil {
		s.Logger.Warnf("[%s] error loading info page for %q: %s", s.Name, stem, err)
		return nil
	}

	resolvedName, art, err := s.Vault.FindArt(stem)
	if err != nil {
		s.Logger.Warnf("[%s] error loading art for %q: %s", s.Name, stem, err)
		return nil
	}

	return c.Send(protocol.Info(resolvedName, fields[0], fields[1], art))
}

// Teardown runs once per connection from the session finalizer. It releases
// the account slot if one was bound and lets the other clients know.
func (s *Server) Teardown(c *client.Client) {
	if c.Username != client.DefaultUsername {
		if err := s.Users.Logout(c.Username); err != nil {
			s.Logger.Warnf("[%s] error logging out %q during teardown: %s", s.Name, c.Username, err)
		}
		c.Username = client.DefaultUsername
		s.broadcastOnlineList()
	}
	c.State = client.Terminated
}

func (s *Server) bindUsername(c *client.Client, username string) {
	c.Username = username
	c.State = client.Authenticated
	s.Registry.SetUsername(c, username)
}

// broadcastOnlineList snapshots the ranked online users and fans the rendered
// list out to every connected client.
func (s *Server) broadcastOnlineList() {
	accounts, err := s.Users.OnlineRanked()
	if err != nil {
		s.Logger.Warnf("[%s] error building online list: %s", s.Name, err)
		return
	}

	users := make([]protocol.OnlineUser, len(accounts))
	for i, account := range accounts {
		users[i] = protocol.OnlineUser{Name: account.Username, Points: account.Points}
	}
	s.Registry.Broadcast(protocol.OnlineUserList(users))
}

func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

// compile-time checks that the concrete store and vault satisfy the
// interfaces the Server depends on.
var (
	_ UserStore     = (*auth.Service)(nil)
	_ ResourceVault = (*vault.Vault)(nil)
)

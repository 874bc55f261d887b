package protocol

import (
	"bytes"
	"fmt"
	"strings"
)

// CommandKind identifies one of the client commands the server understands.
type CommandKind int

const (
	// KindUnknown is any payload whose tag doesn't match a known command.
	// The dispatcher ignores these without a reply or state change.
	KindUnknown CommandKind = iota
	KindRegister
	KindLogin
	KindManifest
	KindBack
	KindGame
	KindInfo
	KindQuitGame
	KindHeartbeat
)

func (k CommandKind) String() string {
	switch k {
	case KindRegister:
		return "REG"
	case KindLogin:
		return "LOG"
	case KindManifest:
		return "MAN"
	case KindBack:
		return "BACK"
	case KindGame:
		return "GAME"
	case KindInfo:
		return "INFO"
	case KindQuitGame:
		return "QUITGAME"
	case KindHeartbeat:
		return "check"
	}
	return "UNKNOWN"
}

// Command is a decoded client message. Only the fields relevant to the Kind
// are populated.
type Command struct {
	Kind CommandKind

	// Username and Password are set for REG and LOG.
	Username string
	Password string

	// Destination is set for BACK (the menu the client is returning to).
	Destination string

	// Title is set for GAME and INFO.
	Title string
}

var heartbeatPayload = []byte("check")

// IsHeartbeat reports whether payload is a bare heartbeat frame without going
// through a full parse. Used by the session loop to exempt heartbeats from
// stall detection before rate accounting.
func IsHeartbeat(payload []byte) bool {
	return bytes.Equal(payload, heartbeatPayload)
}

// ParseCommand interprets a frame payload as a pipe-delimited command. A
// recognized tag with missing required fields is a protocol error and
// terminates the session; an unrecognized tag parses successfully as
// KindUnknown.
func ParseCommand(payload []byte) (Command, error) {
	fields := strings.Split(string(payload), "|")

	switch fields[0] {
	case "REG":
		if len(fields) < 3 {
			return Command{}, fmt.Errorf("malformed REG command (%d fields)", len(fields))
		}
		return Command{Kind: KindRegister, Username: fields[1], Password: fields[2]}, nil
	case "LOG":
		if len(fields) < 3 {
			return Command{}, fmt.Errorf("malformed LOG command (%d fields)", len(fields))
		}
		return Command{Kind: KindLogin, Username: fields[1], Password: fields[2]}, nil
	case "MAN":
		return Command{Kind: KindManifest}, nil
	case "BACK":
		if len(fields) < 2 {
			return Command{}, fmt.Errorf("malformed BACK command (%d fields)", len(fields))
		}
		return Command{Kind: KindBack, Destination: fields[1]}, nil
	case "GAME":
		if len(fields) < 2 {
			return Command{}, fmt.Errorf("malformed GAME command (%d fields)", len(fields))
		}
		return Command{Kind: KindGame, Title: fields[1]}, nil
	case "INFO":
		if len(fields) < 2 {
			return Command{}, fmt.Errorf("malformed INFO command (%d fields)", len(fields))
		}
		return Command{Kind: KindInfo, Title: fields[1]}, nil
	case "QUITGAME":
		return Command{Kind: KindQuitGame}, nil
	case "check":
		return Command{Kind: KindHeartbeat}, nil
	}

	return Command{Kind: KindUnknown}, nil
}

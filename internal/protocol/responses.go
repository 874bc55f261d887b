package protocol

import (
	"bytes"
	"fmt"
	"strings"
)

// Server responses are textual tags, optionally followed by pipe-delimited
// fields. GAMEDATA and INFO embed raw file bytes directly after their textual
// prefixes; the frame length prefix delimits them so no escaping is needed.

// OnlineUser is one entry in the ranked online list broadcast to clients.
type OnlineUser struct {
	Name   string
	Points int
}

// UserCreated is the reply to a successful registration.
func UserCreated(username string) []byte {
	return []byte("User created Successfully|" + username)
}

// UserCreationError is the reply to a failed registration.
func UserCreationError() []byte {
	return []byte("Error in user creation")
}

// UserLoggedIn is the reply to a successful login.
func UserLoggedIn(username string) []byte {
	return []byte("User Logged in Successfully|" + username)
}

// UserLoginError is the reply to a failed login.
func UserLoginError() []byte {
	return []byte("Error in user login")
}

// OnlineUserList renders the broadcast sent to every client when presence
// changes. Users appear as name:points pairs in ranking order, each followed
// by a pipe.
func OnlineUserList(users []OnlineUser) []byte {
	var b strings.Builder
	b.WriteString("Online user list|")
	for _, u := range users {
		fmt.Fprintf(&b, "%s:%d|", u.Name, u.Points)
	}
	return []byte(b.String())
}

// GameList is the reply to a MAN request carrying the ROM manifest.
func GameList(manifest string) []byte {
	return []byte("Online game list|" + manifest)
}

// GameData is the reply to a GAME request. The ROM image is embedded raw.
func GameData(rom []byte) []byte {
	reply := make([]byte, 0, len("GAMEDATA|")+len(rom))
	reply = append(reply, "GAMEDATA|"...)
	return append(reply, rom...)
}

// Info is the reply to an INFO request: the resolved art filename, the two
// description fields from the title's text record, and the raw art bytes.
func Info(resolvedName, field0, field1 string, art []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "INFO||%s||%s||%s||", resolvedName, field0, field1)
	b.Write(art)
	return b.Bytes()
}

// ServerError relays an unexpected server-side failure to the client.
func ServerError(reason string) []byte {
	return []byte("Error|" + reason)
}

// Ban is the single notice sent to a fully banned origin before disconnect.
func Ban() []byte {
	return []byte("BAN")
}

// TimeoutKick is the notice sent to a stalled client before disconnect.
func TimeoutKick() []byte {
	return []byte("Timeout, kick")
}

// RateLimitExceeded is the notice sent when an origin goes over its request
// quota, just before the connection is dropped.
func RateLimitExceeded() []byte {
	return []byte("Error|Rate limit exceeded. Please slow down. You will be disconnected for 30 seconds")
}

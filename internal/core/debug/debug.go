// Package debug holds the optional debugging utilities: the pprof server and
// frame logging for the wire protocol.
package debug

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
)

// StartPprofServer starts the default pprof HTTP server that can be accessed
// via localhost to get runtime information about the server.
// See https://golang.org/pkg/net/http/pprof/
func StartPprofServer(logger *logrus.Logger, port int) {
	listenerAddr := fmt.Sprintf("localhost:%d", port)
	logger.Infof("starting pprof server on %s", listenerAddr)

	go func() {
		if err := http.ListenAndServe(listenerAddr, nil); err != nil {
			logger.Infof("error starting pprof server: %s", err)
		}
	}()
}

// Truncate frame dumps beyond this; ROM downloads would otherwise flood the log.
const maxDumpedBytes = 256

var dumpConfig = spew.ConfigState{Indent: "  ", DisableMethods: true}

// LogFrame writes one decoded frame to the debug log when packet logging is
// enabled. command is the parsed form when one exists and may be nil.
func LogFrame(logger *logrus.Logger, origin string, clientFrame bool, payload []byte, command interface{}) {
	direction := "server->client"
	if clientFrame {
		direction = "client->server"
	}

	dumped := payload
	truncated := ""
	if len(dumped) > maxDumpedBytes {
		dumped = dumped[:maxDumpedBytes]
		truncated = fmt.Sprintf(" (truncated from %d bytes)", len(payload))
	}

	logger.Debugf("[%s] %s frame (%d bytes)%s\n%s", origin, direction, len(payload), truncated, dumped)
	if command != nil {
		logger.Debugf("[%s] decoded: %s", origin, dumpConfig.Sdump(command))
	}
}

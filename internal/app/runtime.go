package app

import (
	"os"
	"strconv"
	"strings"
)

// SkipStartupEnv makes the server and worker binaries return before they connect to
// Postgres or Redis. CI sets it to smoke-run the built commands.
const SkipStartupEnv = "ODYSSEY_SKIP_STARTUP"

// SkipStartup reports whether SkipStartupEnv holds a true value. The variable is read on
// every call.
func SkipStartup() bool {
	on, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(SkipStartupEnv)))
	return err == nil && on
}

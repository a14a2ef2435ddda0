// Package flags adds the command-line flags common to every daemon binary
// in this module: log level selection, version printing, and env-var
// fallbacks for string/int/duration settings.
package flags

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/galnet-eddn/bus/pkg/version"
	log "github.com/sirupsen/logrus"
)

// ConfigureAndParse adds flags common to all daemons, parses cmd against
// args, and applies the resulting log level / version flags. It must be
// called after all other flags on cmd have been registered.
func ConfigureAndParse(cmd *flag.FlagSet, args []string) {
	logLevel := cmd.String("log-level", log.InfoLevel.String(),
		"log level, must be one of: panic, fatal, error, warn, info, debug")
	printVersion := cmd.Bool("version", false, "print version and exit")

	cmd.Parse(args)

	setLogLevel(*logLevel)
	maybePrintVersionAndExit(*printVersion)
}

func setLogLevel(logLevel string) {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("invalid log-level: %s", logLevel)
	}
	log.SetLevel(level)
}

func maybePrintVersionAndExit(printVersion bool) {
	if printVersion {
		fmt.Println(version.Version)
		os.Exit(0)
	}
	log.Infof("running version %s", version.Version)
}

// StringEnv returns the value of the named environment variable, or def
// when unset or empty.
func StringEnv(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// IntEnv returns the named environment variable parsed as an int, or def
// when unset, empty, or unparsable.
func IntEnv(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warnf("invalid int in %s=%q, using default %d", name, v, def)
		return def
	}
	return n
}

// DurationEnv returns the named environment variable parsed as a
// time.Duration (Go duration syntax, e.g. "15m"), or def when unset,
// empty, or unparsable.
func DurationEnv(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warnf("invalid duration in %s=%q, using default %s", name, v, def)
		return def
	}
	return d
}

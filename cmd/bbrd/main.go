// bbrd is the Thread Backbone Router multicast forwarding daemon.
//
// It follows the Backbone Router role and, while Primary, forwards IPv6
// multicast between the Thread and Backbone interfaces through the kernel
// multicast routing socket or an smcroute daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/psaab/bbrd/pkg/config"
	"github.com/psaab/bbrd/pkg/daemon"
	"github.com/psaab/bbrd/pkg/logging"
)

func main() {
	configFile := flag.String("config", config.DefaultPath, "configuration file path")
	debug := flag.Bool("debug", false, "enable debug logging")
	noConsole := flag.Bool("no-console", false, "run without the interactive event console")
	flag.Parse()

	// Set up structured logging
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	syslogHandler := logging.NewSyslogSlogHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(slog.New(syslogHandler))

	d := daemon.New(daemon.Options{
		ConfigFile: *configFile,
		Console:    !*noConsole,
		Syslog:     syslogHandler,
	})

	if err := d.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "bbrd: %v\n", err)
		os.Exit(1)
	}
}

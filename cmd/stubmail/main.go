// Command stubmail runs the mail test double standalone. Configuration
// comes from a TOML file, from GreenMail-style -Dgreenmail.* property
// arguments, or both (properties win):
//
//	stubmail -Dgreenmail.setup.test.all -Dgreenmail.users=to:secret@localhost
//	stubmail -config stubmail.toml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/stubmail/stubmail"
	"github.com/stubmail/stubmail/config"
	"github.com/stubmail/stubmail/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML configuration file")
	fLogOutput := flag.String("logoutput", "", "Log output: 'stderr', 'stdout' or a file path (overrides config)")
	fVerbose := flag.Bool("verbose", false, "Enable debug logging and protocol traces (overrides config)")

	flag.Usage = usage
	flag.Parse()

	// Everything after the flags may be -Dgreenmail.* property definitions.
	props, err := parsePropertyArgs(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		usage()
		os.Exit(2)
	}

	var cfg *config.Config
	if *configPath != "" {
		cfg, err = config.LoadConfigFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(props) > 0 {
			fmt.Fprintln(os.Stderr, "Error: -config and -Dgreenmail.* properties are mutually exclusive")
			os.Exit(2)
		}
	} else {
		cfg, err = config.FromProperties(props)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			usage()
			os.Exit(2)
		}
	}

	if *fLogOutput != "" {
		cfg.Logging.Output = *fLogOutput
	}
	if *fVerbose {
		cfg.Logging.Level = "debug"
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	if !cfg.AnyServerEnabled() {
		fmt.Fprintln(os.Stderr, "Error: no listeners enabled")
		fmt.Fprintln(os.Stderr)
		usage()
		os.Exit(2)
	}

	srv, err := stubmail.New(cfg)
	if err != nil {
		logger.Fatal("Failed to create server", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startErr := make(chan error, 1)
	go func() { startErr <- srv.Start(ctx) }()

	startupTimer := time.NewTimer(cfg.GetStartupTimeout())
	defer startupTimer.Stop()
	select {
	case err := <-startErr:
		if err != nil {
			logger.Fatal("Failed to start", "error", err)
		}
	case <-startupTimer.C:
		logger.Fatal("Startup timed out", "timeout", cfg.GetStartupTimeout())
	}

	logger.Info("Server started", "hostname", cfg.GetHostname())

	<-ctx.Done()
	logger.Info("Shutting down")
	if err := srv.Stop(); err != nil {
		logger.Error("Shutdown error", "error", err)
		os.Exit(1)
	}
}

// parsePropertyArgs turns trailing -Dgreenmail.key[=value] arguments into
// a property map. Valueless properties are presence flags.
func parsePropertyArgs(args []string) (map[string]string, error) {
	props := make(map[string]string)
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-D") {
			return nil, fmt.Errorf("unexpected argument %q", arg)
		}
		def := strings.TrimPrefix(arg, "-D")
		key, value, _ := strings.Cut(def, "=")
		if !strings.HasPrefix(key, config.PropertyPrefix) {
			return nil, fmt.Errorf("unknown property %q, expected %s* keys", key, config.PropertyPrefix)
		}
		props[key] = value
	}
	return props, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [flags] [-Dgreenmail.property[=value] ...]

In-memory SMTP/IMAP/POP3 mail server for tests.

Flags:
`, os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Properties (GreenMail-compatible):
  -Dgreenmail.setup.all                 start smtp,smtps,imap,imaps,pop3,pop3s on default ports
  -Dgreenmail.setup.test.all            same, on default ports +3000, bound to 127.0.0.1
  -Dgreenmail.setup.<protocol>          start one protocol (also setup.test.<protocol>)
  -Dgreenmail.<protocol>.hostname=HOST  bind address for one protocol (requires .port)
  -Dgreenmail.<protocol>.port=PORT      port for one protocol (requires .hostname)
  -Dgreenmail.hostname=HOST             advertised mail domain (default localhost)
  -Dgreenmail.users=LIST                comma-separated login:pwd@domain users
  -Dgreenmail.users.login=FORM          login form: local_part (default) or email
  -Dgreenmail.auth.disabled             accept any credentials, auto-create users
  -Dgreenmail.verbose                   debug logging and protocol traces
  -Dgreenmail.startup.timeout=MILLIS    startup deadline (default 1000)
  -Dgreenmail.foldersCreate=SPEC        login:folder1,folder2 created at startup
  -Dgreenmail.emlFileLoad=SPEC          login:/path/message.eml loaded at startup
  -Dgreenmail.emlFilesDirLoad=SPEC      login:/path/dir of .eml files loaded at startup
  -Dgreenmail.api.port=PORT             start the HTTP control API

Example:
  %s -Dgreenmail.setup.test.all -Dgreenmail.users=to:secret@localhost
`, os.Args[0])
}

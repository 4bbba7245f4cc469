// Package main implements the VNC (RFB) server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rcarmo/go-vnc-server/internal/config"
	"github.com/rcarmo/go-vnc-server/internal/input"
	"github.com/rcarmo/go-vnc-server/internal/logging"
	"github.com/rcarmo/go-vnc-server/internal/screen"
	"github.com/rcarmo/go-vnc-server/internal/vncserver"
)

var (
	appName    = "Go VNC Server"
	appVersion = "dev" // injected at build time via -ldflags
)

func main() {
	args, action := parseFlags()
	if action != "" {
		return
	}
	if err := run(args); err != nil {
		log.Fatalln(err)
	}
}

type parsedArgs struct {
	host            string
	port            string
	password        string
	logLevel        string
	configFile      string
	networkProfile  string
	maxConnections  int
	disableWebsocket bool
}

func parseFlags() (parsedArgs, string) {
	return parseFlagsWithArgs(os.Args[1:])
}

func parseFlagsWithArgs(args []string) (parsedArgs, string) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	hostFlag := fs.String("host", "", "VNC server listen host")
	portFlag := fs.String("port", "", "VNC server listen port")
	passwordFlag := fs.String("password", "", "VNC authentication password (empty disables authentication)")
	logLevelFlag := fs.String("log-level", "", "log level (debug, info, warn, error)")
	configFlag := fs.String("config", "", "path to a YAML configuration file")
	profileFlag := fs.String("network-profile", "", "force a network profile: localhost, lan, or wan")
	maxConnFlag := fs.Int("max-connections", 0, "maximum concurrent client connections")
	noWebsocketFlag := fs.Bool("no-websocket", false, "disable the WebSocket transport, accept raw RFB only")
	helpFlag := fs.Bool("help", false, "show help")
	versionFlag := fs.Bool("version", false, "show version")

	_ = fs.Parse(args)

	if *helpFlag {
		showHelp()
		return parsedArgs{}, "help"
	}
	if *versionFlag {
		showVersion()
		return parsedArgs{}, "version"
	}

	return parsedArgs{
		host:             strings.TrimSpace(*hostFlag),
		port:             strings.TrimSpace(*portFlag),
		password:         *passwordFlag,
		logLevel:         strings.TrimSpace(*logLevelFlag),
		configFile:       strings.TrimSpace(*configFlag),
		networkProfile:   strings.TrimSpace(*profileFlag),
		maxConnections:   *maxConnFlag,
		disableWebsocket: *noWebsocketFlag,
	}, ""
}

func run(args parsedArgs) error {
	enableWS := !args.disableWebsocket
	opts := config.LoadOptions{
		Host:                   args.host,
		Port:                   args.port,
		Password:               args.password,
		LogLevel:               args.logLevel,
		ConfigFile:             args.configFile,
		NetworkProfileOverride: args.networkProfile,
		MaxConnections:         args.maxConnections,
	}
	if args.disableWebsocket {
		opts.EnableWebSocket = &enableWS
	}

	cfg, err := config.LoadWithOverrides(opts)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	setupLogging(cfg.Logging)

	screenSrc, err := newScreenSource()
	if err != nil {
		return fmt.Errorf("failed to initialize screen capture: %w", err)
	}
	sink := newInputSink()

	supervisor := vncserver.New(cfg, screenSrc, sink)

	authStatus := "disabled"
	if cfg.VNC.Password != "" {
		authStatus = "enabled"
	}
	wsStatus := "disabled"
	if cfg.WebSocket.Enable {
		wsStatus = "enabled"
	}
	logging.Info("Starting %s on %s:%d (auth=%s, websocket=%s)", appName, cfg.Server.Host, cfg.Server.Port, authStatus, wsStatus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	installSignalHandler(cancel)

	return supervisor.ListenAndServe(ctx)
}

// installSignalHandler cancels ctx on SIGINT/SIGTERM/SIGHUP, giving
// Supervisor.ListenAndServe a chance to drain connections within their
// configured grace period before the process exits.
func installSignalHandler(cancel context.CancelFunc) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigc
		logging.Info("received signal %s, shutting down", sig)
		cancel()
	}()
}

func setupLogging(cfg config.LoggingConfig) {
	log.SetFlags(log.LstdFlags | log.LUTC)

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			log.Printf("failed to open log file %s, logging to stderr: %v", cfg.File, err)
		} else {
			logging.SetOutput(f)
		}
	}

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	logging.SetLevelFromString(level)
}

func showHelp() {
	fmt.Println(appName)
	fmt.Println("USAGE: go-vnc-server [options]")
	fmt.Println("OPTIONS:")
	fmt.Println("  -host               Set server listen host (default 0.0.0.0)")
	fmt.Println("  -port               Set server listen port (default 5900)")
	fmt.Println("  -password           Set VNC authentication password")
	fmt.Println("  -log-level          Set log level (debug, info, warn, error)")
	fmt.Println("  -config             Path to a YAML configuration file")
	fmt.Println("  -network-profile    Force a network profile: localhost, lan, wan")
	fmt.Println("  -max-connections    Maximum concurrent client connections")
	fmt.Println("  -no-websocket       Disable the WebSocket transport")
	fmt.Println("  -version            Show version information")
	fmt.Println("  -help               Show this help message")
	fmt.Println("ENVIRONMENT VARIABLES: VNC_HOST, VNC_PORT, VNC_PASSWORD, LOG_LEVEL, VNC_NETWORK_PROFILE, VNC_MAX_CONNECTIONS, VNC_ENABLE_WEBSOCKET")
	fmt.Println("EXAMPLES: go-vnc-server -host 0.0.0.0 -port 5900")
}

func showVersion() {
	fmt.Printf("%s %s\n", appName, appVersion)
	fmt.Println("Built with Go", time.Now().Year())
	fmt.Println("Protocol: RFB 3.3-3.8")
}

// newScreenSource builds the screen.Source this binary actually runs
// against. Real display capture is a platform-specific collaborator that
// this module never implements (see internal/screen's package doc); the
// synthetic pattern generator lets the server run end to end without one.
func newScreenSource() (screen.Source, error) {
	return screen.NewSynthetic(1024, 768), nil
}

// newInputSink builds the input.Sink this binary runs against. Real input
// injection is likewise a platform-specific collaborator outside this
// module's scope; DiscardSink logs and drops every event.
func newInputSink() input.Sink {
	return input.NewDiscardSink()
}

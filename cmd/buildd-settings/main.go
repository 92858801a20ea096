package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/buildd-settings/internal/application"
	"github.com/eugenenazirov/buildd-settings/internal/logging"
	"github.com/eugenenazirov/buildd-settings/internal/settings"
)

var signalNotify = signal.Notify

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Environ()); err != nil {
		fmt.Fprintf(os.Stderr, "buildd-settings: %v\n", err)
		os.Exit(1)
	}
}

// cli holds the parsed command line.
type cli struct {
	app *kingpin.Application

	configFile *string
	options    *map[string]string
	logLevel   *string
	logFormat  *string

	show       *kingpin.CmdClause
	showFormat *string
	showKeys   *[]string

	get    *kingpin.CmdClause
	getKey *string

	overrides *kingpin.CmdClause
	pack      *kingpin.CmdClause

	apply     *kingpin.CmdClause
	applyFile *string

	serve     *kingpin.CmdClause
	serveOpts application.Options
}

func newCLI() *cli {
	c := &cli{}
	c.app = kingpin.New("buildd-settings", "Inspect, pack and serve the build daemon settings")
	c.configFile = c.app.Flag("config", "Settings file (default <conf-dir>/daemon.conf)").String()
	c.options = c.app.Flag("option", "Explicit override KEY=VALUE (repeatable)").Short('o').StringMap()
	c.logLevel = c.app.Flag("log-level", "Log level (debug, info, warn, error)").Default("info").String()
	c.logFormat = c.app.Flag("log-format", "Log encoding").Default("json").Enum("json", "console")

	c.show = c.app.Command("show", "Print effective settings").Default()
	c.showFormat = c.show.Flag("format", "Output format").Default(formatText).Enum(formatText, formatYAML, formatJSON)
	c.showKeys = c.show.Arg("key", "Settings to print (default all)").Strings()

	c.get = c.app.Command("get", "Print one effective setting")
	c.getKey = c.get.Arg("key", "Setting name").Required().String()

	c.overrides = c.app.Command("overrides", "Print the override layer")
	c.pack = c.app.Command("pack", "Print the packed override layer for a worker process")

	c.apply = c.app.Command("apply", "Apply a packed override blob and print the effective settings")
	c.applyFile = c.apply.Arg("file", "Packed blob, - for stdin").Default("-").String()

	defaults := application.DefaultOptions()
	c.serve = c.app.Command("serve", "Run the diagnostics HTTP API")
	c.serve.Flag("listen", "Listen address").Default(defaults.Listen).StringVar(&c.serveOpts.Listen)
	c.serve.Flag("rate-limit-rps", "Requests per second allowed (0 disables)").
		Default(fmt.Sprint(defaults.RateLimitRPS)).Float64Var(&c.serveOpts.RateLimitRPS)
	c.serve.Flag("rate-limit-burst", "Burst capacity for the rate limiter (0 disables)").
		Default(fmt.Sprint(defaults.RateLimitBurst)).IntVar(&c.serveOpts.RateLimitBurst)
	c.serve.Flag("allow-set", "Accept PUT /api/overrides/{key}").BoolVar(&c.serveOpts.AllowSet)
	c.serve.Flag("request-logging", "Log every request").
		Default(fmt.Sprint(defaults.EnableRequestLogging)).BoolVar(&c.serveOpts.EnableRequestLogging)
	c.serve.Flag("shutdown-grace-period", "Time allowed for in-flight requests on shutdown").
		Default(defaults.ShutdownGracePeriod.String()).DurationVar(&c.serveOpts.ShutdownGracePeriod)
	c.serve.Flag("read-header-timeout", "HTTP read header timeout").
		Default(defaults.ReadHeaderTimeout.String()).DurationVar(&c.serveOpts.ReadHeaderTimeout)
	c.serve.Flag("write-timeout", "HTTP write timeout").
		Default(defaults.WriteTimeout.String()).DurationVar(&c.serveOpts.WriteTimeout)
	c.serve.Flag("idle-timeout", "HTTP idle timeout").
		Default(defaults.IdleTimeout.String()).DurationVar(&c.serveOpts.IdleTimeout)
	return c
}

func run(args []string, stdin io.Reader, stdout io.Writer, environ []string) error {
	c := newCLI()
	command, err := c.app.Parse(args)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Level: *c.logLevel, Encoding: *c.logFormat})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	s, err := settings.Load(settings.LoadOptions{
		ConfigFile: *c.configFile,
		Environ:    settings.ParseEnviron(environ),
		Overrides:  *c.options,
	}, settings.WithLogger(logger))
	if err != nil {
		return err
	}
	settings.SetGlobal(s)

	switch command {
	case c.show.FullCommand():
		return writeSettings(stdout, s.Current(), *c.showFormat, *c.showKeys)
	case c.get.FullCommand():
		return writeSetting(stdout, s.Current(), *c.getKey)
	case c.overrides.FullCommand():
		return writeOverrides(stdout, s.Overrides())
	case c.pack.FullCommand():
		_, err := io.WriteString(stdout, s.Pack())
		return err
	case c.apply.FullCommand():
		if err := applyPacked(s, *c.applyFile, stdin); err != nil {
			return err
		}
		return writeSettings(stdout, s.Current(), formatText, nil)
	case c.serve.FullCommand():
		return serve(c.serveOpts, s, logger)
	}
	return fmt.Errorf("unknown command %q", command)
}

func applyPacked(s *settings.Settings, path string, stdin io.Reader) error {
	var (
		blob []byte
		err  error
	)
	if path == "-" {
		blob, err = io.ReadAll(stdin)
	} else {
		blob, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read packed overrides: %w", err)
	}
	if err := s.ApplyPacked(string(blob)); err != nil {
		return fmt.Errorf("apply packed overrides: %w", err)
	}
	return s.Update()
}

func serve(opts application.Options, s *settings.Settings, logger *zap.Logger) error {
	app, err := application.New(opts, s, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	shutdown(app.Server(), opts.ShutdownGracePeriod, logger)
	return nil
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}

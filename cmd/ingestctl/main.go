package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/sensorctl/internal/admin"
	"github.com/danmuck/sensorctl/internal/config"
	"github.com/danmuck/sensorctl/internal/ingest"
	"github.com/danmuck/sensorctl/internal/logging"
	"github.com/danmuck/sensorctl/internal/sink"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

const version = "0.1.0"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ingestctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	settings, showVersion, err := parseSettings(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("ingestctl %s\n", version)
		return nil
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	logging.ConfigureRuntime()
	log.Logger = log.Logger.With().Str("node", settings.ID).Logger()

	sk, err := sink.New(settings.Sink)
	if err != nil {
		return err
	}
	svc := ingest.NewService(settings.Ingest, sk)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adminErr := make(chan error, 1)
	if settings.AdminAddr != "" {
		srv := admin.New(admin.Config{
			ID:          settings.ID,
			Addr:        settings.AdminAddr,
			Version:     version,
			CORSOrigins: settings.CORSOrigins,
		}, svc)
		go func() {
			adminErr <- srv.Serve(ctx)
		}()
	}

	log.Info().
		Str("addr", settings.Ingest.Addr()).
		Str("data_root", sk.Root()).
		Str("format", string(sk.Format())).
		Bool("restart", settings.Ingest.Restart).
		Msg("ingestctl starting")

	runErr := make(chan error, 1)
	go func() {
		runErr <- svc.Run(ctx)
	}()

	select {
	case err := <-runErr:
		stop()
		return err
	case err := <-adminErr:
		if err != nil {
			stop()
			<-runErr
			return fmt.Errorf("admin server: %w", err)
		}
		return <-runErr
	}
}

// parseSettings loads --config when given and applies flags on top.
func parseSettings(args []string) (config.Settings, bool, error) {
	var (
		configPath string
		host       string
		port       int
		dataRoot   string
		adminAddr  string
		restart    bool
		showVer    bool
	)
	flagSet := pflag.NewFlagSet("ingestctl", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to a TOML settings file")
	flagSet.StringVar(&host, "host", ingest.DefaultHost, "capture listen host")
	flagSet.IntVarP(&port, "port", "p", ingest.DefaultPort, "capture listen port")
	flagSet.StringVar(&dataRoot, "data-root", "", "directory that receives photovideo/, leftfront/, rightfront/")
	flagSet.StringVar(&adminAddr, "admin-addr", "", "admin HTTP listen address (disabled when empty)")
	flagSet.BoolVar(&restart, "restart", false, "listen again after a session closes (peer shutdown only ends a session when empty_read_retry is false)")
	flagSet.BoolVar(&showVer, "version", false, "print version and exit")
	if err := flagSet.Parse(args); err != nil {
		return config.Settings{}, false, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return config.Settings{}, false, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	settings := config.Defaults()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return config.Settings{}, false, err
		}
		settings = loaded
	}

	if flagSet.Changed("host") {
		settings.Ingest.Host = host
	}
	if flagSet.Changed("port") {
		settings.Ingest.Port = port
	}
	if flagSet.Changed("data-root") {
		settings.Sink.Root = dataRoot
	}
	if flagSet.Changed("admin-addr") {
		settings.AdminAddr = adminAddr
	}
	if flagSet.Changed("restart") {
		settings.Ingest.Restart = restart
	}
	return settings, showVer, nil
}

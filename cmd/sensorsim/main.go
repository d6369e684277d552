package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/sensorctl/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	addr := pflag.StringP("addr", "a", "127.0.0.1:9090", "ingest service address")
	count := pflag.IntP("count", "n", 10, "frames to send (0 runs until interrupted)")
	interval := pflag.Duration("interval", 100*time.Millisecond, "delay between frames")
	kinds := pflag.String("kinds", "p,f,m", "comma separated frame tags to cycle through")
	chunk := pflag.Int("chunk", 0, "split each frame into writes of this many bytes")
	pflag.Parse()

	logging.ConfigureRuntime()

	selected, err := parseKinds(*kinds)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sensorsim: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sensorsim: dial %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()
	log.Info().Str("addr", *addr).Msg("connected to ingest service")

	sim := simulator{kinds: selected, count: *count, interval: *interval, chunk: *chunk}
	sent, err := sim.run(ctx, conn)
	log.Info().Int("sent", sent).Msg("simulation finished")
	if err != nil {
		fmt.Fprintf(os.Stderr, "sensorsim: %v\n", err)
		os.Exit(1)
	}
}

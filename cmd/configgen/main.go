package main

import (
	"fmt"
	"os"

	"github.com/danmuck/sensorctl/internal/config"
	"github.com/danmuck/sensorctl/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

const defaultPath = "cmd/ingestctl/config.toml"

func main() {
	output := pflag.StringP("output", "o", defaultPath, "output path for the settings template")
	validate := pflag.Bool("validate", false, "validate an existing settings file")
	input := pflag.StringP("input", "i", defaultPath, "settings path for validation")
	force := pflag.BoolP("force", "f", false, "overwrite an existing settings file")
	pflag.Parse()

	logging.ConfigureRuntime()

	if *validate {
		cfg, err := config.ValidateFile(*input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
			os.Exit(1)
		}
		log.Info().Str("path", *input).Str("addr", cfg.Ingest.Addr()).Msg("settings valid")
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
	log.Info().Str("path", *output).Msg("wrote settings template")
}

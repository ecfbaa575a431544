package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/xlloop/internal/config"
	"github.com/danmuck/xlloop/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	kind := flag.String("kind", config.KindServer, "config kind: server|client")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	stdout := flag.Bool("stdout", false, "print the template instead of writing it")
	flag.Parse()
	logging.ConfigureRuntime()

	if err := run(*kind, *output, *input, *validate, *force, *stdout); err != nil {
		log.Error().Err(err).Str("kind", *kind).Msg("configgen failed")
		os.Exit(1)
	}
}

func run(kind, output, input string, validate, force, stdout bool) error {
	if validate {
		path := input
		if path == "" {
			var err error
			if path, err = defaultPath(kind); err != nil {
				return err
			}
		}
		if err := config.Validate(path, kind); err != nil {
			return err
		}
		log.Info().Str("kind", kind).Str("path", path).Msg("config validated")
		return nil
	}

	if stdout {
		body, err := config.Template(kind)
		if err != nil {
			return err
		}
		fmt.Print(body)
		return nil
	}

	target := output
	if target == "" {
		var err error
		if target, err = defaultPath(kind); err != nil {
			return err
		}
	}
	if err := config.WriteTemplate(target, kind, force); err != nil {
		return err
	}
	log.Info().Str("kind", kind).Str("path", target).Msg("config template written")
	return nil
}

func defaultPath(kind string) (string, error) {
	switch kind {
	case config.KindServer:
		return "cmd/xlloopd/config.toml", nil
	case config.KindClient:
		return "cmd/xlcall/config.toml", nil
	default:
		return "", fmt.Errorf("unknown kind: %s", kind)
	}
}

package main

import (
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	cli "github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("exiting")
	}
}

func run(args []string) error {
	app := cli.App{
		Name:  "forumguard",
		Usage: "content moderation and reporting service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "json for JSON logs, anything else for console output",
				EnvVars: []string{"LOG_FORMAT"},
			},
		},
		Before: func(cctx *cli.Context) error {
			configureLogging(cctx.String("log-level"), cctx.String("log-format"))
			return nil
		},
		Commands: []*cli.Command{serveCmd},
	}
	return app.Run(args)
}

// configureLogging sets the global zerolog level and output
func configureLogging(level, format string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Use pretty console logging in development, JSON in production
	if format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}
}

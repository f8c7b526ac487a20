// Command titanic trains, serves and queries the Titanic survival model.
package main

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"titanic-predictor/internal/cfg"
)

type app struct {
	settings cfg.Settings
	logFile  io.Closer
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:           "titanic",
		Short:         "Titanic passenger survival predictor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s, err := cfg.Load()
			if err != nil {
				return err
			}
			a.settings = s
			a.setupLogging()
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logFile != nil {
				a.logFile.Close()
			}
		},
	}
	root.AddCommand(a.trainCmd(), a.serveCmd(), a.predictCmd())

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// setupLogging points the global logger at stderr, in console form when
// pretty output is asked for, and also at a rotating file when one is set.
func (a *app) setupLogging() {
	level, err := zerolog.ParseLevel(a.settings.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var console io.Writer = os.Stderr
	if a.settings.LogPretty {
		console = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	out := console
	if a.settings.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   a.settings.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		a.logFile = file
		out = zerolog.MultiLevelWriter(console, file)
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

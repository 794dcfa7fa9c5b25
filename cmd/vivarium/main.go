package main

import (
	"fmt"
	"io"
	"os"

	"github.com/go-go-golems/vivarium/cmd/vivarium/cmds"
	"github.com/go-go-golems/vivarium/pkg/settings"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "vivarium",
	Short: "vivarium talks to a streaming conversation service",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// flags are parsed now, so --log-level and co apply
		return initLogger()
	},
	SilenceUsage: true,
}

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
}

func initLogger() error {
	logLevel := viper.GetString("log-level")
	if viper.GetBool("verbose") && logLevel != "trace" {
		logLevel = "debug"
	}
	return InitLogger(&logConfig{
		Level:      logLevel,
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
	})
}

func InitLogger(config *logConfig) error {
	var logWriter io.Writer
	switch config.LogFormat {
	case "json":
		logWriter = os.Stderr
	case "text", "":
		logWriter = zerolog.ConsoleWriter{
			Out:     os.Stderr,
			NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
		}
	default:
		return fmt.Errorf("unknown log format %q (text, json)", config.LogFormat)
	}

	logger := zerolog.New(logWriter).With().Timestamp()
	if config.WithCaller {
		logger = logger.Caller()
	}
	log.Logger = logger.Logger()

	level := config.Level
	if level == "" {
		level = "warn"
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("unknown log level %q", config.Level)
	}
	zerolog.SetGlobalLevel(l)

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("with-caller", false, "Log caller")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (json, text)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ~/.vivarium/config.yaml)")
	settings.AddFlags(rootCmd.PersistentFlags())

	// parse the flags one time just to catch --config
	configFile := ""
	for idx, arg := range os.Args {
		if arg == "--config" && len(os.Args) > idx+1 {
			configFile = os.Args[idx+1]
		}
	}

	if err := settings.InitViper(viper.GetViper(), configFile, rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cobra.CheckErr(initLogger())

	log.Debug().Str("config", viper.ConfigFileUsed()).Msg("loaded configuration")

	rootCmd.AddCommand(
		cmds.NewChatCommand(),
		cmds.NewConversationsCommand(),
		cmds.NewTagsCommand(),
		cmds.NewPromptsCommand(),
		cmds.NewTranscriptCommand(),
		cmds.NewSchemaCommand(),
		cmds.NewConfigCommand(),
	)
}

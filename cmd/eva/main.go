// Command eva publishes to and consumes from topics on any registered
// transport, and inspects agency configuration documents.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	_ "github.com/casualjim/eva/transport/kafka"
	_ "github.com/casualjim/eva/transport/memory"
	_ "github.com/casualjim/eva/transport/nats"
	_ "github.com/casualjim/eva/transport/sqlqueue"
	_ "github.com/casualjim/eva/transport/watermill"

	"github.com/casualjim/eva/pkg/slogx"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("eva failed", slogx.Error(err))
		stop()
		os.Exit(1)
	}
}

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	broker     string
	topic      string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "eva",
		Short: "eva - broker agnostic topic client",
		Long: `eva publishes documents to and consumes them from topics.

A topic is addressed by a broker URI and a topic name. The URI scheme picks
the transport (see "eva transports"). Defaults come from the configuration
document named by --config or EVA_CONFIG, and are overridden by --broker and
--topic (EVA_BROKER, EVA_TOPIC).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(cmd.ErrOrStderr(), g.logLevel)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", os.Getenv("EVA_CONFIG"), "configuration document")
	flags.StringVarP(&g.broker, "broker", "b", os.Getenv("EVA_BROKER"), "default broker URI")
	flags.StringVarP(&g.topic, "topic", "t", os.Getenv("EVA_TOPIC"), "default topic")
	flags.StringVar(&g.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		newPublishCmd(g),
		newConsumeCmd(g),
		newConfigCmd(g),
		newTransportsCmd(),
	)
	return root
}

func setupLogging(w io.Writer, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: time.Stamp}
	log := zerolog.New(output).With().Timestamp().Logger()
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: lvl}),
	))
	return nil
}

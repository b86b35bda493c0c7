package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/casualjim/eva"
	"github.com/casualjim/eva/transport"
	"github.com/fatih/color"
	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"
)

func newConsumeCmd(g *globals) *cobra.Command {
	var (
		count  int
		wait   time.Duration
		pretty bool
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume messages from the default topic",
		Long: `Consume up to --count messages (0 for no limit) and print one per line.

When a topic has nothing to deliver, consume retries every --wait, or stops
when --wait is 0. With --all every subscription declared in the configuration
document is consumed in turn.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.openAgency()
			if err != nil {
				return err
			}
			defer a.Close()

			var topics []*eva.Topic
			if all {
				topics = a.Topics()
				if len(topics) == 0 {
					return errors.New("configuration declares no subscriptions")
				}
			} else {
				topics = []*eva.Topic{a.Subscribe(eva.Key{}, nil, nil)}
			}

			out := cmd.OutOrStdout()
			printMsg := printPlain
			if pretty {
				printMsg = printPretty
			}
			notify := func(_ context.Context, _ *eva.Topic, msg transport.Message, state any) error {
				return printMsg(state.(io.Writer), msg)
			}
			for _, t := range topics {
				a.Subscribe(t.Key(), notify, eva.Own(out, func(any) {}))
			}

			n, err := consumeLoop(cmd.Context(), topics, count, wait)
			fmt.Fprintln(cmd.ErrOrStderr(), color.CyanString("consumed %d message(s)", n))
			return err
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of messages to consume, 0 for no limit")
	cmd.Flags().DurationVarP(&wait, "wait", "w", 0, "retry interval when no message is available, 0 to stop")
	cmd.Flags().BoolVarP(&pretty, "pretty", "p", false, "pretty print messages")
	cmd.Flags().BoolVar(&all, "all", false, "consume every configured subscription")
	return cmd
}

// consumeLoop polls the topics round robin until count messages were
// delivered, the context ends, or every topic came up empty with wait 0.
func consumeLoop(ctx context.Context, topics []*eva.Topic, count int, wait time.Duration) (int, error) {
	var n int
	for {
		empty := 0
		for _, t := range topics {
			if count > 0 && n >= count {
				return n, nil
			}
			err := t.Poll(ctx)
			switch {
			case err == nil:
				n++
			case errors.Is(err, transport.ErrNoMessage):
				empty++
			case ctx.Err() != nil:
				return n, nil
			default:
				return n, err
			}
		}
		if empty < len(topics) {
			continue
		}
		if wait <= 0 {
			return n, nil
		}
		select {
		case <-ctx.Done():
			return n, nil
		case <-time.After(wait):
		}
	}
}

func printPlain(w io.Writer, msg transport.Message) error {
	_, err := fmt.Fprintln(w, string(msg.Payload))
	return err
}

type prettyMessage struct {
	ID        string
	Topic     string
	Key       string
	Timestamp string
	Metadata  map[string]string
	Document  any
}

func printPretty(w io.Writer, msg transport.Message) error {
	printer := pp.New()
	printer.SetOutput(w)
	printer.SetColoringEnabled(!color.NoColor)
	_, err := printer.Println(prettyMessage{
		ID:        msg.ID,
		Topic:     msg.Topic,
		Key:       msg.Key,
		Timestamp: msg.Timestamp.String(),
		Metadata:  msg.Metadata,
		Document:  msg.Document().Value(),
	})
	return err
}

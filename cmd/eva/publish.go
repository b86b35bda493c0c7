package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/casualjim/eva"
	"github.com/casualjim/eva/transport"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

func newPublishCmd(g *globals) *cobra.Command {
	var (
		key     string
		headers []string
	)
	cmd := &cobra.Command{
		Use:   "publish [document...]",
		Short: "Publish JSON documents to the default topic",
		Long: `Publish each argument as one message. Without arguments every line read
from standard input is published.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			meta := make(map[string]string, len(headers))
			for _, h := range headers {
				k, v, ok := strings.Cut(h, "=")
				if !ok {
					return fmt.Errorf("header %q is not key=value", h)
				}
				meta[k] = v
			}

			a, err := g.openAgency()
			if err != nil {
				return err
			}
			defer a.Close()
			topic := a.Subscribe(eva.Key{}, nil, nil)

			docs := args
			if len(docs) == 0 {
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					if line := strings.TrimSpace(sc.Text()); line != "" {
						docs = append(docs, line)
					}
				}
				if err := sc.Err(); err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
			}

			for i, doc := range docs {
				if !gjson.Valid(doc) {
					return fmt.Errorf("document %d is not valid JSON", i+1)
				}
				msg := transport.Message{Key: key, Payload: []byte(doc), Metadata: meta}
				if err := topic.PublishMessage(cmd.Context(), msg); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("published %d message(s) to %s", len(docs), topic.Endpoint()))
			return nil
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "message key")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "message metadata as key=value, repeatable")
	return cmd
}

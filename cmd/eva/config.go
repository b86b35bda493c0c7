package main

import (
	"fmt"

	"github.com/casualjim/eva"
	"github.com/casualjim/eva/transport"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

func newConfigCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration documents",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "dump",
			Short: "Print the effective configuration with overrides applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := g.openAgency()
				if err != nil {
					return err
				}
				defer a.Close()
				doc, err := a.Snapshot()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), gjson.GetBytes(doc, "@pretty").Raw)
				return nil
			},
		},
		&cobra.Command{
			Use:   "schema",
			Short: "Print the JSON schema of the configuration document",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				b, err := json.MarshalIndent(eva.ConfigSchema(), "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return nil
			},
		},
	)
	return cmd
}

func newTransportsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transports",
		Short: "List the broker URI schemes this binary can dial",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, s := range transport.Schemes() {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
		},
	}
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/miladsoleymani/ackmux/broker"
	"github.com/miladsoleymani/ackmux/core"
	"github.com/miladsoleymani/ackmux/internal/config"
)

func newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "Print the resolved container properties without connecting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			opts, err := cfg.ContainerOptions()
			if err != nil {
				return err
			}
			props, err := core.NewProperties(opts...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "broker:        %s %s\n", cfg.Broker.Type, strings.Join(cfg.Broker.Brokers, ","))
			fmt.Fprintf(out, "registered:    %s\n", strings.Join(broker.Names(), ", "))
			fmt.Fprintf(out, "transactional: %t\n", cfg.Broker.TransactionalIDPrefix != "")
			fmt.Fprintf(out, "properties:    %s\n", props)
			return nil
		},
	}
}

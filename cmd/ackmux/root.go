package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	// Import plugins to trigger self-registration via init()
	_ "github.com/miladsoleymani/ackmux/plugins/kafka"
	_ "github.com/miladsoleymani/ackmux/plugins/nats"
	_ "github.com/miladsoleymani/ackmux/plugins/rabbitmq"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ackmux",
	Short: "Listener container with configurable commit policies",
	Long: `ackmux consumes topics from Kafka, NATS JetStream or RabbitMQ and commits
consumption progress according to the configured ack mode, optionally inside
broker transactions.

Configuration is read from a YAML file and ACKMUX_* environment variables.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	rootCmd.AddCommand(
		newRunCmd(),
		newDescribeCmd(),
	)
}

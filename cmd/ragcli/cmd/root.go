// Package cmd defines the ragcli command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codexrag/ragcli/internal/app"
	"github.com/codexrag/ragcli/internal/config"
	"github.com/codexrag/ragcli/internal/tui"
)

var (
	baseURL string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "ragcli",
	Short: "Terminal client for the knowledge-grounded chat service",
	Long: `ragcli talks to a document-retrieval chat service: upload a document,
build a searchable knowledge base from it, then converse with an assistant
that cites the retrieved passages.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(baseURL, debug)
		if err != nil {
			return err
		}

		application, err := app.New(cfg)
		if err != nil {
			return err
		}
		defer application.Close()

		application.Bootstrap(cmd.Context())

		return tui.Run(application)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "service base URL (default from RAGCLI_BASE_URL or config file)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log to stderr instead of the state-dir log file")
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memohai/wechatbot/internal/version"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "wechatbot",
		Short:        "Persona chat bot gateway for WeCom and WeChat official accounts",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.toml (default: $CONFIG_PATH or ./config.toml)")

	root.AddCommand(
		newServeCmd(),
		newEnvelopeCmd(),
		newSignCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the callback server and reply workers",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			runServe(resolveConfigPath())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetInfo())
		},
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return os.Getenv("CONFIG_PATH")
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/config"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cfg := config.LoadPortal()
	var mode string

	root := &cobra.Command{
		Use:           "portal",
		Short:         "Payment gateway portal - sign in and manage your account",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.APIURL, "api", cfg.APIURL, "Portal API base URL")
	flags.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "Directory for the session and diagnostics files")
	flags.StringVar(&cfg.Storage, "storage", cfg.Storage, "Session storage: file, redis or memory")
	flags.StringVar(&mode, "mode", "signin", "Form mode for submit: signin or signup")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Minimum level printed to stderr")

	root.AddCommand(
		submitCmd(cfg, &mode),
		signInCmd(cfg),
		signUpCmd(cfg),
		oauthCmd(cfg),
		signOutCmd(cfg),
		passwordResetCmd(cfg),
		refreshCmd(cfg),
		whoamiCmd(cfg),
		profileCmd(cfg),
		logsCmd(cfg),
	)
	return root
}

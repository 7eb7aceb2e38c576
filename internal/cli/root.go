// Package cli implements the authcore command line.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore"
)

type app struct {
	configPath string
	envFile    string

	cfg    authcore.Config
	logger *zap.Logger

	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand returns the authcore command tree writing to the process
// streams.
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdout, os.Stderr)
}

// NewRootCommandWithIO is NewRootCommand with explicit output streams.
func NewRootCommandWithIO(out, errOut io.Writer) *cobra.Command {
	return newRootCommand(out, errOut)
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:           "authcore",
		Short:         "Token, session and abuse-guard service",
		Long:          "authcore issues and rotates JWT sessions, guards logins against abuse, manages IP rules and second factors.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: ./authcore.yaml or /etc/authcore/authcore.yaml)")
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", "", "dotenv file loaded before the config (default: .env if present)")

	cmd.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newCleanupCmd(a),
		newUserCmd(a),
		newIPCmd(a),
		newReportCmd(a),
		newConfigCmd(a),
		newLoadtestCmd(a),
	)
	return cmd
}

// init loads the env file, the config and the logger once per invocation.
func (a *app) init() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg, err := authcore.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	logger, err := authcore.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

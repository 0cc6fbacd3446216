// Package cli implements the closer command line.
package cli

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/soyeahso/closer/internal/config"
	"github.com/soyeahso/closer/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// set by PersistentPreRunE
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "closer",
		Short: "closer: conversational sales assistant",
		Long: "closer talks to prospects on messaging channels, qualifies them, " +
			"sends payment links and follows up, handing off to a human operator when needed.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			if err := loadEnvFiles(".env", paths.Env); err != nil {
				return err
			}
			log = logging.New(nil, cmp.Or(logLevel, "info"))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.closer/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error, silent)")

	cmd.AddGroup(
		&cobra.Group{ID: "run", Title: "Running the engine:"},
		&cobra.Group{ID: "ops", Title: "Working conversations:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)
	add := func(group string, cmds ...*cobra.Command) {
		for _, c := range cmds {
			c.GroupID = group
			cmd.AddCommand(c)
		}
	}
	add("run", newServeCmd(), newChatCmd())
	add("ops", newSessionsCmd(), newOperatorCmd(), newKnowledgeCmd())
	add("setup", newConfigCmd(), newStatusCmd(), newVersionCmd())

	return cmd
}

// loadEnvFiles loads KEY=value files in order. Variables already in the
// environment win, and missing files are skipped.
func loadEnvFiles(files ...string) error {
	for _, f := range files {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// loadConfig loads and validates the config file. The --log-level flag
// overrides logging.level.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return err
}

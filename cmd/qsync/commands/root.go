// Package commands implements the qsync CLI.
package commands

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/unkn0wn-root/querysync/cmd/qsync/internal/app"
	"github.com/unkn0wn-root/querysync/cmd/qsync/internal/config"
)

// CLI represents the command line interface for qsync.
type CLI struct {
	rootCmd *cobra.Command
	out     io.Writer
	logw    io.Writer
}

// New creates a CLI writing results to out and diagnostics to logw.
func New(out, logw io.Writer) *CLI {
	if out == nil {
		out = os.Stdout
	}
	if logw == nil {
		logw = os.Stderr
	}
	rootCmd := &cobra.Command{
		Use:           "qsync",
		Short:         "Query the users/posts API through the querysync cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.InitDefaultHelpFlag()
	rootCmd.Flags().Lookup("help").Usage = "Show help for command"

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("base-url", "", "API base URL (overrides the config file)")

	c := &CLI{rootCmd: rootCmd, out: out, logw: logw}
	rootCmd.SetOut(out)
	rootCmd.SetErr(logw)

	rootCmd.AddCommand(c.newUsersCmd())
	rootCmd.AddCommand(c.newUserCmd())
	rootCmd.AddCommand(c.newPostsCmd())
	rootCmd.AddCommand(c.newCommentsCmd())
	rootCmd.AddCommand(c.newSearchCmd())
	rootCmd.AddCommand(c.newAddUserCmd())
	rootCmd.AddCommand(c.newUpdateUserCmd())
	rootCmd.AddCommand(c.newDeleteUserCmd())

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// withApp loads the config named by the flags, builds the app and closes it
// after fn.
func (c *CLI) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) (err error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if u, _ := cmd.Flags().GetString("base-url"); u != "" {
		cfg.BaseURL = u
	}
	a, err := app.New(cfg, c.logw)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.Background()); err == nil {
			err = cerr
		}
	}()
	return fn(cmd.Context(), a)
}

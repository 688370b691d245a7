package cli

import (
	"github.com/spf13/cobra"
)

// CLI is the top-level command of the application.
type CLI struct {
	rootCmd *cobra.Command
}

// NewCLI creates a new CLI instance.
func NewCLI(name, description string) *CLI {
	cmd := &cobra.Command{
		Use:           name,
		Short:         description,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	return &CLI{
		rootCmd: cmd,
	}
}

// AddCommands registers sub commands.
func (c *CLI) AddCommands(cmds ...*cobra.Command) *CLI {
	for _, cmd := range cmds {
		c.rootCmd.AddCommand(cmd)
	}
	return c
}

// Run executes the CLI.
func (c *CLI) Run() error {
	return c.rootCmd.Execute()
}

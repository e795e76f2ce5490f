// Package command holds small helpers for building the cobra command
// tree.
package command

import "github.com/spf13/cobra"

// NewSubcommandGroup returns a command that only groups subcommands and
// prints usage when invoked directly.
func NewSubcommandGroup(name string, subcommands ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use: name,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	cmd.AddCommand(subcommands...)
	return cmd
}

package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var root = &cobra.Command{
	Use:           "domaincorn",
	Short:         "fault-isolating domain runtime",
	Example:       "  domaincorn run --crash 2\n  domaincorn invoke vfs alloc_inode\n  domaincorn stress --rounds 500 --crash-rate 0.1",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Register adds a subcommand. Subcommand packages call it from init, so
// linking a package into main is enough to get its command.
func Register(c *cobra.Command) {
	root.AddCommand(c)
}

func Main() {
	Global.setupFlags(root)
	root.PersistentPreRunE = func(c *cobra.Command, args []string) error {
		return Global.setup(c)
	}
	root.PersistentPostRunE = func(c *cobra.Command, args []string) error {
		return Global.teardown()
	}
	if err := root.Execute(); err != nil {
		Global.teardown()
		PrintError(err)
		os.Exit(1)
	}
}

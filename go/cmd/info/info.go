package info

import (
	"github.com/spf13/cobra"

	"github.com/lunixbochs/domaincorn/go/cmd"
)

func init() {
	var brief bool
	c := &cobra.Command{
		Use:   "info [domain...]",
		Short: "boot domains and print the registry, heap and store as yaml",
		RunE: func(c *cobra.Command, args []string) error {
			k, err := cmd.Global.Boot(args...)
			if err != nil {
				return err
			}
			if brief {
				cmd.Global.PrintDomains(k)
				cmd.Global.Printf("%s\n", k.Heap)
				return nil
			}
			return k.WriteInfo(cmd.Global.Out)
		},
	}
	c.Flags().BoolVar(&brief, "brief", false, "one line per domain")
	cmd.Register(c)
}

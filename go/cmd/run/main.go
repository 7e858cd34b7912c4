package run

import (
	"github.com/spf13/cobra"

	"github.com/lunixbochs/domaincorn/go/cmd"
)

func init() {
	var crash int
	var crashBlock int
	c := &cobra.Command{
		Use:   "run",
		Short: "boot the sample domains and run the block workload",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			k, err := cmd.Global.Boot()
			if err != nil {
				return err
			}
			if crash > 0 {
				k.Faults.CrashNext(crash)
			}
			if crashBlock >= 0 {
				k.Faults.CrashOn(uint32(crashBlock))
			}
			report, err := k.BlockWorkload(c.Context())
			if err != nil {
				return err
			}
			cmd.Global.PrintDomains(k)
			return cmd.Global.PrintYAML(report)
		},
	}
	c.Flags().IntVar(&crash, "crash", 0, "crash the RAM disk on its next N accesses")
	c.Flags().IntVar(&crashBlock, "crash-block", -1, "crash the RAM disk on every access to this block")
	cmd.Register(c)
}

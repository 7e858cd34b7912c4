package stress

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/lunixbochs/domaincorn/go/cmd"
)

func init() {
	var rounds int
	var rate float64
	var seed int64
	c := &cobra.Command{
		Use:   "stress",
		Short: "run the hart workload in parallel while crashing the RAM disk",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			k, err := cmd.Global.Boot()
			if err != nil {
				return err
			}
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			start := time.Now()
			report, err := k.Stress(c.Context(), rounds, rate, seed)
			if err != nil {
				return err
			}
			cmd.Global.PrintDomains(k)
			cmd.Global.Printf("# seed %d, %s\n", seed, time.Since(start))
			return cmd.Global.PrintYAML(report)
		},
	}
	c.Flags().IntVar(&rounds, "rounds", 100, "rounds per hart")
	c.Flags().Float64Var(&rate, "crash-rate", 0.05, "probability of an injected crash per round")
	c.Flags().Int64Var(&seed, "seed", 0, "random seed (default: time based)")
	cmd.Register(c)
}

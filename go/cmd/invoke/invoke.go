package invoke

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/lunixbochs/domaincorn/go/cmd"
	"github.com/lunixbochs/domaincorn/go/kernel"
	"github.com/lunixbochs/domaincorn/go/models"
	"github.com/lunixbochs/domaincorn/go/models/heap"
)

func init() {
	var list bool
	var crash int
	c := &cobra.Command{
		Use:     "invoke <domain> [method [args...]]",
		Short:   "call a domain method by name",
		Example: "  domaincorn invoke vfs open /dev/null\n" +
			"  domaincorn invoke memblk capacity\n" +
			"  domaincorn invoke fifo --list",
		Args: cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			k, err := cmd.Global.Boot()
			if err != nil {
				return err
			}
			d, ok := k.GetDomain(args[0])
			if !ok {
				return errors.Wrapf(models.ENOENT, "no domain %q (loaded: %s)", args[0], strings.Join(k.Names(), ", "))
			}
			inv, ok := d.(kernel.Invoker)
			if !ok {
				return errors.Errorf("domain %q does not support invoke", args[0])
			}
			if list || len(args) == 1 {
				for _, m := range inv.Methods() {
					cmd.Global.Printf("%s\n", m)
				}
				return nil
			}
			if crash > 0 {
				k.Faults.CrashNext(crash)
			}
			method, rest := args[1], args[2:]
			in := make([]interface{}, len(rest))
			for i, a := range rest {
				in[i] = a
			}
			out, err := inv.Invoke(method, in...)
			cmd.Global.Printf("%s%s\n", k.Trace(method, in), k.TraceRet(out))
			for _, v := range out {
				if buf, ok := v.(*heap.Buffer); ok && buf.Live() && cmd.Global.Config.Verbose {
					for _, line := range models.HexDump(buf.Addr(), buf.AsSlice()) {
						cmd.Global.Printf("%s\n", line)
					}
				}
			}
			return err
		},
	}
	c.Flags().BoolVar(&list, "list", false, "list the domain's methods")
	c.Flags().IntVar(&crash, "crash", 0, "crash the RAM disk on its next N accesses")
	cmd.Register(c)
}

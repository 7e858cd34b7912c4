package cmd

import (
	"fmt"
	"io"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lunixbochs/domaincorn/go/kernel"
	"github.com/lunixbochs/domaincorn/go/log"
	"github.com/lunixbochs/domaincorn/go/models"
)

// Cmd is the state shared by all subcommands: the layered config, the kernel
// built from it and the global flags.
type Cmd struct {
	Config *models.Config
	Kernel *kernel.Kernel
	Out    io.Writer

	flags struct {
		logLevel   string
		verbose    bool
		color      bool
		pageSize   uint64
		heapLimit  uint64
		harts      int
		blocks     uint32
		metrics    bool
		cpuprofile string
	}
	profile *os.File
}

var Global = &Cmd{Out: os.Stdout}

func (c *Cmd) setupFlags(root *cobra.Command) {
	fs := root.PersistentFlags()
	fs.StringVar(&c.flags.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	fs.BoolVarP(&c.flags.verbose, "verbose", "v", false, "verbose output")
	fs.BoolVar(&c.flags.color, "color", true, "colorize output")
	fs.Uint64Var(&c.flags.pageSize, "page-size", 0, "shared heap page size")
	fs.Uint64Var(&c.flags.heapLimit, "heap-limit", 0, "shared heap size limit")
	fs.IntVar(&c.flags.harts, "harts", 0, "number of simulated harts")
	fs.Uint32Var(&c.flags.blocks, "blocks", 0, "RAM disk size in blocks")
	fs.BoolVar(&c.flags.metrics, "metrics", false, "dump metrics on exit")
	fs.StringVar(&c.flags.cpuprofile, "cpuprofile", "", "write cpu profile to <file>")
}

// setup layers changed flags over the loaded config and configures logging.
func (c *Cmd) setup(cc *cobra.Command) error {
	cfg, err := models.LoadConfig()
	if err != nil {
		return err
	}
	fs := cc.Flags()
	if fs.Changed("log-level") {
		cfg.LogLevel = c.flags.logLevel
	}
	if fs.Changed("verbose") {
		cfg.Verbose = c.flags.verbose
	}
	if fs.Changed("color") {
		cfg.Color = c.flags.color
	}
	if fs.Changed("page-size") {
		cfg.PageSize = c.flags.pageSize
	}
	if fs.Changed("heap-limit") {
		cfg.HeapLimit = c.flags.heapLimit
	}
	if fs.Changed("harts") {
		cfg.Harts = c.flags.harts
	}
	if fs.Changed("blocks") {
		cfg.Blocks = c.flags.blocks
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Verbose && cfg.LogLevel == "info" {
		cfg.LogLevel = "debug"
	}
	c.Config = cfg
	log.Setup(cfg.LogLevel, os.Stderr, cfg.Color)

	if c.flags.cpuprofile != "" {
		f, err := os.Create(c.flags.cpuprofile)
		if err != nil {
			return errors.Wrap(err, "cpuprofile")
		}
		c.profile = f
		if err := pprof.StartCPUProfile(f); err != nil {
			return errors.Wrap(err, "cpuprofile")
		}
	}
	return nil
}

func (c *Cmd) teardown() error {
	if c.profile != nil {
		pprof.StopCPUProfile()
		c.profile.Close()
		c.profile = nil
	}
	if c.flags.metrics && c.Kernel != nil {
		c.Kernel.Sample()
		fmt.Fprintln(os.Stderr, strings.Repeat("-", 40))
		return c.Kernel.Metrics.Write(os.Stderr)
	}
	return nil
}

// Boot builds the kernel from the config and loads the given domains, or
// the default set.
func (c *Cmd) Boot(names ...string) (*kernel.Kernel, error) {
	k, err := kernel.New(c.Config, log.L)
	if err != nil {
		return nil, err
	}
	c.Kernel = k
	if err := k.Boot(names...); err != nil {
		return k, err
	}
	return k, nil
}

func (c *Cmd) Printf(format string, args ...interface{}) {
	fmt.Fprintf(c.Out, format, args...)
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// PrintError prints err, the crash it carries if any, and a stack trace if
// one is available.
func PrintError(err error) {
	color := Global.Config == nil || Global.Config.Color
	fmt.Fprintf(os.Stderr, "%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	var crash *models.CrashError
	if errors.As(err, &crash) {
		fmt.Fprintf(os.Stderr, "%s domain %s (%s) panicked in %s: %v\n",
			Paint("crash:", crashColor, color), crash.Domain, crash.Identity, crash.Method, crash.Value)
		fmt.Fprintf(os.Stderr, "incident %s, errno %d (%s)\n", crash.Incident, models.SyscallErrno(err), models.SyscallErrno(err))
		if Global.Config != nil && Global.Config.Verbose {
			os.Stderr.Write(crash.Stack)
		}
	}
	if err, ok := err.(stackTracer); ok {
		// parse full path and method name for each stack frame
		var frames [][]string
		for _, f := range err.StackTrace() {
			fullpath := ""
			fileline := fmt.Sprintf("%s:%d", f, f)
			method := fmt.Sprintf("%n", f)

			frame := fmt.Sprintf("%+s", f)
			tmp := strings.SplitN(frame, "\n", 3)
			if len(tmp) == 2 {
				pathsplit := strings.Split(tmp[0], "/")
				method = pathsplit[len(pathsplit)-1]
				fullpath = strings.TrimSpace(tmp[1])
			}
			frames = append(frames, []string{fullpath, fileline, method})
			if method == "main.main" {
				break
			}
		}
		// calculate column widths
		widths := make([]int, 3)
		for _, f := range frames {
			for i, s := range f {
				if len(s) > widths[i] {
					widths[i] = len(s)
				}
			}
		}
		for _, f := range frames {
			method := f[2]
			for i := 0; i < 2; i++ {
				if widths[i] > 0 {
					pad := strings.Repeat(" ", widths[i]-len(f[i]))
					fmt.Fprintf(os.Stderr, "%s%s | ", f[i], pad)
				}
			}
			fmt.Fprintf(os.Stderr, "%s()\n", method)
		}
	}
}

// PrintYAML writes v to the command output.
func (c *Cmd) PrintYAML(v interface{}) error {
	enc := yaml.NewEncoder(c.Out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "encoding output")
	}
	return enc.Close()
}

// PrintDomains prints one line per loaded domain with its colored state.
func (c *Cmd) PrintDomains(k *kernel.Kernel) {
	color := c.Config.Color
	for _, e := range k.Registry.Entries() {
		c.Printf("%-12s %-18s %s %-10s crashes=%d reloads=%d\n",
			e.Name, e.Type, StateColumn(e.State, 9, color), e.Identity, e.Crashes, e.Reloads)
	}
}

package shell

import (
	"io"
	"path/filepath"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"
	"github.com/spf13/cobra"

	"github.com/lunixbochs/domaincorn/go/cmd"
	"github.com/lunixbochs/domaincorn/go/shell"
)

func completer() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(shell.Commands))
	for _, name := range shell.Names() {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

func historyFile() string {
	cacheDir := configdir.New("lunixbochs", "domaincorn").QueryCacheFolder()
	if err := cacheDir.MkdirAll(); err != nil {
		return ""
	}
	return filepath.Join(cacheDir.Path, "shell_history")
}

func init() {
	c := &cobra.Command{
		Use:   "shell",
		Short: "boot the sample domains and drive them interactively",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			k, err := cmd.Global.Boot()
			if err != nil {
				return err
			}
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "domaincorn> ",
				InterruptPrompt: "\n",
				HistoryFile:     historyFile(),
				AutoComplete:    completer(),
			})
			if err != nil {
				return errors.Wrap(err, "error opening readline")
			}
			defer rl.Close()
			context := &shell.Context{Writer: rl.Stdout(), K: k}
			context.Printf("type help for a list of commands\n")
			for {
				line, err := rl.Readline()
				if err == readline.ErrInterrupt {
					continue
				} else if err == io.EOF {
					return nil
				} else if err != nil {
					return errors.Wrap(err, "error in readline")
				}
				if err := shell.Run(context, line); err == shell.ErrExit {
					return nil
				}
			}
		},
	}
	cmd.Register(c)
}

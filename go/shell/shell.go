// Package shell is the line-oriented command interpreter behind the
// interactive shell: one line in, one command dispatched against a kernel.
package shell

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/pkg/errors"

	"github.com/lunixbochs/domaincorn/go/kernel"
)

// ErrExit is returned by Run when the line asked the shell to quit.
var ErrExit = errors.New("exit")

type Command struct {
	Name  string
	Usage string
	Desc  string
	// minimum number of arguments
	Args int
	// Raw commands get the rest of the line as one unsplit argument
	Raw bool
	Run func(c *Context, args []string) error
}

var Commands = make(map[string]*Command)

func cmd(c *Command) *Command {
	if c.Run == nil {
		panic(fmt.Sprintf("command %q has no Run func", c.Name))
	}
	Commands[c.Name] = c
	return c
}

// Names lists the registered commands, sorted.
func Names() []string {
	names := make([]string, 0, len(Commands))
	for name := range Commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type Context struct {
	io.Writer
	K *kernel.Kernel

	lua *Lua
}

func (c *Context) Printf(format string, a ...interface{}) (n int, err error) {
	return fmt.Fprintf(c, format, a...)
}

// Run parses and executes one line. Command failures are printed, not
// returned; the only error is ErrExit.
func Run(c *Context, line string) error {
	name, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	if command, ok := Commands[name]; ok && command.Raw {
		var args []string
		if rest = strings.TrimSpace(rest); rest != "" {
			args = []string{rest}
		}
		return dispatch(c, command, args)
	}
	args, err := shellwords.Parse(line)
	if err != nil {
		c.Printf("parse error: %v\n", err)
		return nil
	}
	if len(args) == 0 {
		return nil
	}
	name, args = args[0], args[1:]
	command, ok := Commands[name]
	if !ok {
		c.Printf("command not found: %s\n", name)
		return nil
	}
	return dispatch(c, command, args)
}

func dispatch(c *Context, command *Command, args []string) error {
	if len(args) < command.Args {
		c.Printf("usage: %s %s\n", command.Name, command.Usage)
		return nil
	}
	err := command.Run(c, args)
	if err == ErrExit {
		return err
	} else if err != nil {
		c.Printf("error: %v\n", err)
	}
	return nil
}

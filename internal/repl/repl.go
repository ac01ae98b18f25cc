// Package repl implements an interactive shell over a local
// SharedDirectory session: a readline loop dispatching whitespace-split
// commands to a handler table, with tab completion and a persistent
// history file.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ergochat/readline"

	"github.com/webflow/shareddata/directory"
	"github.com/webflow/shareddata/hoststub"
)

// REPL drives one interactive session against a SharedDirectory
// attached to an in-memory Host, with a "current working directory"
// node the cd/ls/get/set commands are scoped to.
type REPL struct {
	Dir  *directory.SharedDirectory
	Host *hoststub.LocalHost
	cwd  *directory.SubDirectory

	rl *readline.Instance
}

var ErrBadPath = errors.New("repl: bad path")

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("cd"),
	readline.PcItem("pwd"),
	readline.PcItem("ls"),
	readline.PcItem("mkdir"),
	readline.PcItem("rmdir"),
	readline.PcItem("get"),
	readline.PcItem("set"),
	readline.PcItem("del"),
	readline.PcItem("clear"),
	readline.PcItem("counter"),
	readline.PcItem("incr"),
	readline.PcItem("wait"),
	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	if r == readline.CharCtrlZ {
		return r, false
	}
	return r, true
}

// New builds a REPL over dir, rooted at dir's root node.
func New(dir *directory.SharedDirectory, host *hoststub.LocalHost) *REPL {
	return &REPL{Dir: dir, Host: host, cwd: dir.Root()}
}

func (r *REPL) Open() (err error) {
	r.rl, err = readline.NewEx(&readline.Config{
		Prompt:              "shareddata> ",
		HistoryFile:         ".shareddata_cmd_log.txt",
		AutoComplete:        completer,
		InterruptPrompt:     "^C",
		EOFPrompt:           "exit",
		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return err
	}
	r.rl.CaptureExitSignal()
	return nil
}

func (r *REPL) Close() error {
	if r.rl != nil {
		_ = r.rl.Close()
		r.rl = nil
	}
	return nil
}

// Step reads and dispatches one command line. It returns io.EOF once
// the session should end.
func (r *REPL) Step(ctx context.Context) error {
	line, err := r.rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) && len(line) != 0 {
		return nil
	}
	if err != nil {
		return err
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	out, err := r.dispatch(ctx, cmd, args)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return err
		}
		fmt.Fprintf(os.Stderr, "%s\n", err.Error())
		return nil
	}
	if out != "" {
		fmt.Fprintln(os.Stdout, out)
	}
	return nil
}

// Run loops Step until the session ends.
func (r *REPL) Run(ctx context.Context) error {
	for {
		err := r.Step(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

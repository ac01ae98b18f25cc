package repl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// dispatch routes one command to its handler.
func (r *REPL) dispatch(ctx context.Context, cmd string, args []string) (string, error) {
	switch cmd {
	case "help":
		return r.commandHelp(), nil
	case "pwd":
		return r.cwd.AbsolutePath(), nil
	case "cd":
		return "", r.commandCd(args)
	case "ls":
		return r.commandLs(), nil
	case "mkdir":
		return "", r.commandMkdir(args)
	case "rmdir":
		return "", r.commandRmdir(args)
	case "get":
		return r.commandGet(args)
	case "set":
		return "", r.commandSet(args)
	case "del":
		return "", r.commandDel(args)
	case "clear":
		r.cwd.Clear()
		return "", nil
	case "counter":
		return "", r.commandCounter(args)
	case "incr":
		return "", r.commandIncr(args)
	case "wait":
		return r.commandWait(ctx, args)
	case "exit", "quit":
		return "", io.EOF
	default:
		return "", fmt.Errorf("repl: unknown command %q", cmd)
	}
}

func (r *REPL) commandHelp() string {
	return strings.Join([]string{
		"pwd", "cd <path>", "ls", "mkdir <name>", "rmdir <name>",
		"get <key>", "set <key> <json>", "del <key>", "clear",
		"counter <key>", "incr <key> <delta>", "wait <key>", "exit",
	}, "\n")
}

func (r *REPL) commandCd(args []string) error {
	if len(args) != 1 {
		return ErrBadPath
	}
	node, ok := r.cwd.GetWorkingDirectory(args[0])
	if !ok {
		return fmt.Errorf("repl: no such directory %q", args[0])
	}
	r.cwd = node
	return nil
}

func (r *REPL) commandLs() string {
	var b strings.Builder
	for _, key := range r.cwd.Keys() {
		v, _ := r.cwd.Get(key)
		fmt.Fprintf(&b, "%s\t%v\n", key, v)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *REPL) commandMkdir(args []string) error {
	if len(args) != 1 {
		return ErrBadPath
	}
	_, err := r.cwd.CreateSubDirectory(args[0])
	return err
}

func (r *REPL) commandRmdir(args []string) error {
	if len(args) != 1 {
		return ErrBadPath
	}
	if !r.cwd.DeleteSubDirectory(args[0]) {
		return fmt.Errorf("repl: no such directory %q", args[0])
	}
	return nil
}

func (r *REPL) commandGet(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("repl: usage: get <key>")
	}
	v, ok := r.cwd.Get(args[0])
	if !ok {
		return "", fmt.Errorf("repl: no such key %q", args[0])
	}
	return fmt.Sprintf("%v", v), nil
}

func (r *REPL) commandSet(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("repl: usage: set <key> <json>")
	}
	key := args[0]
	raw := strings.Join(args[1:], " ")
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return fmt.Errorf("repl: invalid json value: %w", err)
	}
	_, err := r.cwd.Set(key, v)
	return err
}

func (r *REPL) commandDel(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("repl: usage: del <key>")
	}
	r.cwd.Delete(args[0])
	return nil
}

func (r *REPL) commandCounter(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("repl: usage: counter <key>")
	}
	_, err := r.cwd.CreateValueType(args[0], "counter", nil)
	return err
}

func (r *REPL) commandIncr(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("repl: usage: incr <key> <delta>")
	}
	delta, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("repl: invalid delta: %w", err)
	}
	v, ok := r.cwd.Get(args[0])
	if !ok {
		return fmt.Errorf("repl: no such key %q", args[0])
	}
	counter, ok := v.(interface{ Increment(int64) })
	if !ok {
		return fmt.Errorf("repl: %q is not a counter", args[0])
	}
	counter.Increment(delta)
	return nil
}

func (r *REPL) commandWait(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("repl: usage: wait <key>")
	}
	v, err := r.cwd.Wait(ctx, args[0])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%v", v), nil
}

// Command ddsctl runs an interactive local session against a
// SharedDirectory over a readline-driven REPL.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/webflow/shareddata/directory"
	"github.com/webflow/shareddata/hoststub"
	"github.com/webflow/shareddata/internal/repl"
	"github.com/webflow/shareddata/internal/utils"
)

func main() {
	log := utils.NewDefaultLogger(slog.LevelWarn)
	host := hoststub.NewLocalHost("ddsctl", log)
	dir := directory.New(log, nil)

	ctx := context.Background()
	cancel, err := hoststub.Connect(ctx, host, dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	defer cancel()

	session := repl.New(dir, host)
	if err := session.Open(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	defer session.Close()

	if err := session.Run(ctx); err != nil && !errors.Is(err, io.EOF) {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

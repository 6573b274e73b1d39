package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/VENIZIA-AI/ignis-sub007/internal/cli/repl"
	"github.com/VENIZIA-AI/ignis-sub007/internal/common/db"
	"github.com/VENIZIA-AI/ignis-sub007/internal/model"
)

const defaultModelsPath = "configs/models.yaml"

func main() {
	modelsPath := flag.String("models", defaultModelsPath, "Path to the model file")
	dialect := flag.String("dialect", string(db.DriverPostgres), "SQL dialect: postgres, pgx, mysql or sqlite")
	flag.Parse()

	registry, err := model.LoadFile(*modelsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load models failed: %v\n", err)
		os.Exit(1)
	}
	session, err := repl.New(registry, db.Driver(*dialect), os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init session failed: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One-shot mode: remaining arguments form a single command.
	if args := flag.Args(); len(args) > 0 {
		if err := session.Dispatch(args); err != nil && !errors.Is(err, repl.ErrExit) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := session.Run(ctx, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "session ended: %v\n", err)
		os.Exit(1)
	}
}

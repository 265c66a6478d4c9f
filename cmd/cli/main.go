package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/vk/agentgridgo/internal/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Bootstrap logger; each App builds its own once config is resolved.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	// A missing .env file is not an error; explicit env always wins.
	_ = godotenv.Load()

	err := cli.New(os.Stdout).Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, err)

	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

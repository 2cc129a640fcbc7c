package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ExxiDauS/CyberCTF/internal/cli/command"
	"github.com/ExxiDauS/CyberCTF/internal/cli/config"
	httpclient "github.com/ExxiDauS/CyberCTF/internal/cli/http"
	"github.com/ExxiDauS/CyberCTF/internal/cli/repl"
	"github.com/ExxiDauS/CyberCTF/internal/cli/state"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 3m)")
	operator := flag.String("operator", "", "Override operator id sent as X-User-Id")
	statePath := flag.String("state", "", "Override session state path")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *operator != "" {
		cfg.Operator = *operator
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	session, err := state.Load(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load session state failed: %v\n", err)
		os.Exit(1)
	}

	commands := command.Registry()
	rl, err := repl.NewReadline(cfg.HistoryPath, commands)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init line editor failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = rl.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	client := httpclient.New(cfg.BaseURL, cfg.Timeout, cfg.Operator)
	repl.New(client, commands, &session, cfg.StatePath, cfg.PrettyJSON != nil && *cfg.PrettyJSON, rl, rl.Stdout()).Run(ctx)
}

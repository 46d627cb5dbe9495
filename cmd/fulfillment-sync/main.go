package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fulfillment-sync/internal/app/agent"
	"fulfillment-sync/internal/common/logger"
	"fulfillment-sync/internal/config"
	"fulfillment-sync/internal/domain"
	"fulfillment-sync/internal/identity"
)

func main() {
	mode := flag.String("mode", "", "sync-agent | issue-token")
	cfgPath := flag.String("config", "", "path to config.yaml (default: ./config.yaml)")
	maxConc := flag.Int("max-concurrent", 50, "sync-agent: max concurrent requests")
	empID := flag.String("employee-id", "", "issue-token: employee id")
	empName := flag.String("employee-name", "", "issue-token: employee display name")
	role := flag.String("role", "", "issue-token: PICKER | PACKER | COURIER | MANAGER | ADMIN")
	ttl := flag.Duration("ttl", 12*time.Hour, "issue-token: token lifetime")
	flag.Parse()

	lg := logger.New("bootstrap")
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := config.LoadEnv(); err != nil {
		lg.Error("env_load_failed", err, nil)
		os.Exit(1)
	}
	path := *cfgPath
	if path == "" {
		p, err := config.FindConfig()
		if err != nil {
			fmt.Fprintln(os.Stderr, "config.yaml not found; pass --config")
			os.Exit(2)
		}
		path = p
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		lg.Error("config_load_failed", err, map[string]any{"path": path})
		os.Exit(1)
	}

	switch *mode {
	case "sync-agent":
		lg.Info("service_started", map[string]any{"service": "sync-agent", "addr": cfg.HTTP.Addr, "max_concurrent": *maxConc})
		if err := agent.Run(ctx, cfg, agent.Options{MaxConcurrent: *maxConc}); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	case "issue-token":
		r := domain.Role(*role)
		if *empID == "" || !r.IsValid() {
			fmt.Fprintln(os.Stderr, "--employee-id and a valid --role are required for issue-token")
			os.Exit(2)
		}
		actor := domain.Actor{ID: *empID, Name: *empName, Role: r, Privileged: r.Privileged()}
		tok, err := identity.NewTokenProvider(cfg.Identity.TokenSecret, "").Issue(actor, *ttl)
		if err != nil {
			lg.Error("issue_token_failed", err, nil)
			os.Exit(1)
		}
		fmt.Println(tok)
	default:
		fmt.Fprintln(os.Stderr, "--mode is required: sync-agent | issue-token")
		os.Exit(2)
	}
}

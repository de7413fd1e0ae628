package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"relay-fleet/pkg/agent"
	"relay-fleet/pkg/version"
)

func main() {
	controller := flag.String("controller", "http://127.0.0.1:8080", "controller base URL")
	token := flag.String("token", "", "node join token (required)")
	configPath := flag.String("config", "/etc/sing-box/config.json", "engine config path")
	statePath := flag.String("state", agent.DefaultStatePath, "local state database path")
	interval := flag.Duration("interval", time.Minute, "poll interval")
	reload := flag.String("reload-cmd", "systemctl restart sing-box", "command run after a config change (empty disables)")
	checkBinary := flag.String("check-binary", "sing-box", "binary used to vet fetched configs before applying (empty disables)")
	noWS := flag.Bool("no-ws", false, "disable the websocket push channel, poll only")
	flag.Parse()

	if *token == "" {
		log.Fatalf("--token is required")
	}

	state, err := agent.OpenState(*statePath)
	if err != nil {
		log.Fatalf("open state: %v", err)
	}
	defer state.Close()

	var reloadCmd []string
	if *reload != "" {
		reloadCmd = strings.Fields(*reload)
	}

	runner := &agent.Runner{
		Client:      &agent.Client{Controller: *controller, Token: *token},
		State:       state,
		ConfigPath:  *configPath,
		CheckBinary: *checkBinary,
		ReloadCmd:   reloadCmd,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notify := make(chan struct{}, 1)
	if !*noWS {
		ws := &agent.WSClient{Controller: *controller, Token: *token, Notify: notify}
		go ws.Run(ctx)
	}

	log.Printf("agent %s controller=%s config=%s", version.Build, *controller, *configPath)
	runner.Watch(ctx, *interval, notify)
}

package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"nectar/internal/api"
	"nectar/internal/bootstrap"
	"nectar/internal/chat"
	"nectar/internal/config"
	"nectar/internal/store"
	"nectar/internal/styles"
	"nectar/internal/ui"
)

func main() {
	// Grab the auth redirect token before anything else can observe it.
	bootstrap.Capture()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "nectar:", err)
		os.Exit(1)
	}

	log, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nectar:", err)
		os.Exit(1)
	}
	defer log.Sync()

	apiKey := cfg.APIKey
	if apiKey == "" {
		if tok, ok := bootstrap.Consume(); ok {
			apiKey = tok
		}
	}

	styles.InitTheme()

	st := store.Open(cfg.DBPath(), log)
	defer st.Close()

	client := api.NewClient(api.Options{
		APIKey:       apiKey,
		TextBaseURL:  cfg.TextBaseURL,
		ImageBaseURL: cfg.ImageBaseURL,
		APIBaseURL:   cfg.APIBaseURL,
		Logger:       log,
	})
	engine := chat.NewEngine(st, client, log)

	p := ui.NewProgram(ui.Deps{Store: st, Engine: engine, Client: client, Log: log})
	if _, err := p.Run(); err != nil {
		log.Error("ui terminated", zap.Error(err))
		fmt.Fprintln(os.Stderr, "nectar:", err)
		os.Exit(1)
	}
}

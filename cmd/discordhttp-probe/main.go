package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/nyxbound/discordhttp/pkg/discordhttp"
)

func main() {
	token := os.Getenv("DISCORD_TOKEN")
	configPath := flag.String("config", "", "path to a YAML pipeline config; defaults built in if empty")
	channelID := flag.String("channel", "", "channel id to fetch via GET /channels/{id}")
	flag.Parse()

	if token == "" {
		log.Fatal("DISCORD_TOKEN must be set")
	}
	if *channelID == "" {
		log.Fatal("-channel is required")
	}

	cfg := discordhttp.DefaultConfig()
	if *configPath != "" {
		loaded, err := discordhttp.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		cfg = loaded
	}

	pipeline, err := discordhttp.New("Bot "+token, nil, cfg)
	if err != nil {
		log.Fatalf("constructing pipeline: %v", err)
	}
	defer pipeline.Close()

	retrying := discordhttp.NewRetryingPipeline(pipeline, discordhttp.DefaultRetryPolicy(cfg.MaxRetries))

	req := discordhttp.GetChannel(*channelID)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ans, err := retrying.Submit(ctx, req)
	if err != nil {
		log.Fatalf("submit: %v", err)
	}

	switch ans.Kind {
	case discordhttp.AnswerResponse:
		slog.Info("fetched channel", "channel_id", *channelID, "data", ans.Data)
	case discordhttp.AnswerRatelimited:
		slog.Warn("rate limited", "global", ans.Global)
	case discordhttp.AnswerDropped:
		slog.Warn("request dropped: predicted wait exceeded max_allowed_wait")
	case discordhttp.AnswerError:
		slog.Error("request failed", "error", ans.Err)
		os.Exit(1)
	}
}

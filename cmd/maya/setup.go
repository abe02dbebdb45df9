package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/deniel666/news-agent-maya/briefing"
	"github.com/deniel666/news-agent-maya/config"
	"github.com/deniel666/news-agent-maya/engine"
	"github.com/deniel666/news-agent-maya/engine/emit"
	"github.com/deniel666/news-agent-maya/model"
	manthropic "github.com/deniel666/news-agent-maya/model/anthropic"
	mgoogle "github.com/deniel666/news-agent-maya/model/google"
	mopenai "github.com/deniel666/news-agent-maya/model/openai"
	"github.com/deniel666/news-agent-maya/services"
)

// loadConfig reads --config, or falls back to the built-in defaults.
func loadConfig() (*config.Config, error) {
	if rootFlags.configPath == "" {
		return config.Default(), nil
	}
	return config.Load(rootFlags.configPath)
}

// buildPipeline wires config, providers, and stores into a ready pipeline.
func buildPipeline(cfg *config.Config) (*briefing.Pipeline, error) {
	st, err := cfg.OpenStore()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	chat, err := buildChatModel(cfg.LLM)
	if err != nil {
		return nil, err
	}

	var emitter emit.Emitter = emit.NewNullEmitter()
	if rootFlags.verbose {
		emitter = emit.NewLogEmitter(os.Stderr, false)
	}

	deps := briefing.Deps{
		Source: services.NewRSSAggregator(cfg.Feeds, nil),
		Chat:   chat,
		Video: services.NewHeyGenClient(services.HeyGenOptions{
			APIKey:   cfg.Video.APIKey,
			AvatarID: cfg.Video.AvatarID,
			VoiceID:  cfg.Video.VoiceID,
			Locale:   cfg.Video.Locale,
		}),
		Publisher: services.NewBlotatoClient(services.BlotatoOptions{
			APIKey:   cfg.Social.APIKey,
			BaseURL:  cfg.Social.BaseURL,
			Hashtags: cfg.Social.Hashtags,
		}),
	}

	return briefing.NewPipeline(deps, briefing.Options{
		Store:        st,
		Emitter:      emitter,
		Metrics:      engine.NewMetrics(prometheus.DefaultRegisterer),
		Configs:      cfg.NodeConfigs(),
		Notifiers:    cfg.Notifiers(),
		MaxRevisions: cfg.MaxRevisions,
	})
}

func buildChatModel(cfg config.LLM) (model.ChatModel, error) {
	switch cfg.Provider {
	case "openai":
		primary := mopenai.NewChatModel(cfg.APIKey, cfg.Model)
		if cfg.FallbackModel == "" {
			return primary, nil
		}
		return model.WithFallback(primary, mopenai.NewChatModel(cfg.APIKey, cfg.FallbackModel)), nil
	case "anthropic":
		primary := manthropic.NewChatModel(cfg.APIKey, cfg.Model)
		if cfg.FallbackModel == "" {
			return primary, nil
		}
		return model.WithFallback(primary, manthropic.NewChatModel(cfg.APIKey, cfg.FallbackModel)), nil
	case "google":
		primary := mgoogle.NewChatModel(cfg.APIKey, cfg.Model)
		if cfg.FallbackModel == "" {
			return primary, nil
		}
		return model.WithFallback(primary, mgoogle.NewChatModel(cfg.APIKey, cfg.FallbackModel)), nil
	case "mock":
		return &model.MockChatModel{}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

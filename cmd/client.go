package cmd

import (
	"fmt"

	"ollamabenchmark/internal/api"
	"ollamabenchmark/internal/config"
	"ollamabenchmark/internal/logging"
)

// newClient picks the serving protocol configured in cfg
func newClient(cfg *config.Config, logger *logging.Logger) (api.Client, error) {
	clientConfig := &api.ClientConfig{
		Host:    cfg.Host,
		Timeout: cfg.Timeout,
		APIKey:  cfg.APIKey,
		Logger:  logger,
	}
	switch cfg.API {
	case config.APIOllama:
		return api.NewOllamaClient(clientConfig), nil
	case config.APIOpenAI:
		return api.NewOpenAIClient(clientConfig), nil
	default:
		return nil, fmt.Errorf("unknown api %q", cfg.API)
	}
}

package main

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/piskevalee-cpu/MARK/config"
	"github.com/piskevalee-cpu/MARK/kleos"
	"github.com/piskevalee-cpu/MARK/memory"
	"github.com/piskevalee-cpu/MARK/memory/embedder/mock"
	"github.com/piskevalee-cpu/MARK/memory/index"
	"github.com/piskevalee-cpu/MARK/memory/index/chromem"
	"github.com/piskevalee-cpu/MARK/memory/store/sqlite"
	"github.com/piskevalee-cpu/MARK/provider"
	"github.com/piskevalee-cpu/MARK/provider/anthropic"
	"github.com/piskevalee-cpu/MARK/provider/gemini"
	"github.com/piskevalee-cpu/MARK/provider/ollama"
)

// openGateway builds the completion backend for a provider. An empty
// model means the configured (or adapter default) model.
func openGateway(ctx context.Context, cfg *config.Config, providerName, model string) (provider.Gateway, error) {
	switch providerName {
	case "anthropic":
		key := config.APIKey(providerName)
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}
		if model == "" {
			model = cfg.Anthropic.Model
		}
		return anthropic.New(key, model), nil

	case "gemini":
		key := config.APIKey(providerName)
		if key == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is not set")
		}
		if model == "" {
			model = cfg.Gemini.Model
		}
		return gemini.New(ctx, key, model)

	case "ollama":
		if model == "" {
			model = cfg.Ollama.Model
		}
		return ollama.New(cfg.Ollama.Host, model)
	}

	return nil, fmt.Errorf("unknown provider %q (want anthropic, gemini or ollama)", providerName)
}

func openStore() (*sqlite.Store, error) {
	path, err := config.DatabasePath()
	if err != nil {
		return nil, err
	}
	return sqlite.Open(path)
}

// openMemory assembles the memory service over the shared store and
// reloads the vector index from the persisted facts.
func openMemory(ctx context.Context, cfg *config.Config, store *sqlite.Store) (*memory.Service, error) {
	embedder, err := openEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}

	idx, err := openIndex(cfg, embedder.Dimensions())
	if err != nil {
		return nil, err
	}

	svc, err := memory.NewService(store, idx, embedder, &memory.ServiceConfig{
		Enabled:       true,
		SubjectLabel:  cfg.SubjectLabel,
		TopK:          cfg.Memory.TopK,
		MinSimilarity: cfg.Memory.MinSimilarity,
		Heuristic:     cfg.Memory.Heuristic,
	})
	if err != nil {
		return nil, err
	}

	if err := svc.Rebuild(ctx); err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}
	return svc, nil
}

func openEmbedder(ctx context.Context, cfg *config.Config) (memory.Embedder, error) {
	switch cfg.Memory.Embedder {
	case "", "mock":
		return mock.NewWithDimensions(cfg.Memory.Dimensions), nil

	case "onnx":
		return openONNXEmbedder(cfg)

	case "gemini":
		key := config.APIKey("gemini")
		if key == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is not set")
		}
		return gemini.New(ctx, key, cfg.Gemini.Model,
			gemini.WithEmbedModel(gemini.DefaultEmbedModel, cfg.Memory.Dimensions))

	case "ollama":
		return ollama.New(cfg.Ollama.Host, cfg.Ollama.Model,
			ollama.WithEmbedModel(ollama.DefaultEmbedModel, cfg.Memory.Dimensions))
	}

	return nil, fmt.Errorf("unknown embedder %q (want mock, onnx, gemini or ollama)", cfg.Memory.Embedder)
}

func openIndex(cfg *config.Config, dims int) (memory.Index, error) {
	switch cfg.Memory.Index {
	case "", "linear":
		return index.NewLinear(dims), nil
	case "chromem":
		return chromem.New(dims)
	}
	return nil, fmt.Errorf("unknown index %q (want linear or chromem)", cfg.Memory.Index)
}

// kleosPrompts applies config overrides on top of the stock prompts.
func kleosPrompts(cfg *config.Config) kleos.Prompts {
	p := kleos.DefaultPrompts
	if cfg.Prompts.Analyst != "" {
		p.Analyst = cfg.Prompts.Analyst
	}
	if cfg.Prompts.Refiner != "" {
		p.Refiner = cfg.Prompts.Refiner
	}
	if cfg.Prompts.Thinker != "" {
		p.Thinker = cfg.Prompts.Thinker
	}
	return p
}

func setModel(cfg *config.Config, providerName, model string) {
	switch providerName {
	case "anthropic":
		cfg.Anthropic.Model = model
	case "gemini":
		cfg.Gemini.Model = model
	case "ollama":
		cfg.Ollama.Model = model
	}
}

func printConfig(w io.Writer, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

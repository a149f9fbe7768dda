// Command mark is a terminal-resident assistant with persistent local
// memory and a guided prompt-refinement pipeline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/piskevalee-cpu/MARK/chat"
	"github.com/piskevalee-cpu/MARK/config"
	"github.com/piskevalee-cpu/MARK/kleos"
	"github.com/piskevalee-cpu/MARK/provider"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var (
		configPath   string
		providerName string
		model        string
	)

	root := &cobra.Command{
		Use:           "mark",
		Short:         "MARK is a conversational assistant that remembers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if providerName != "" {
				cfg.Provider = providerName
			}
			if model != "" {
				setModel(cfg, cfg.Provider, model)
			}
			return run(cmd.Context(), cfg)
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $MARK_HOME/config.yaml)")
	root.Flags().StringVar(&providerName, "provider", "", "backend: anthropic, gemini, ollama")
	root.Flags().StringVar(&model, "model", "", "model identifier")

	root.AddCommand(versionCommand(), configCommand(&configPath))
	return root
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "mark", version)
		},
	}
}

func configCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file location",
			RunE: func(cmd *cobra.Command, args []string) error {
				path := *configPath
				if path == "" {
					var err error
					path, err = config.DefaultPath()
					if err != nil {
						return err
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return err
				}
				return printConfig(cmd.OutOrStdout(), cfg)
			},
		},
	)
	return cmd
}

// run wires the gateway, memory and pipeline and hands control to the
// chat loop until interrupt or /quit.
func run(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	gateway, err := openGateway(ctx, cfg, cfg.Provider, "")
	if err != nil {
		return err
	}

	opts := []chat.Option{
		chat.WithIO(os.Stdin, os.Stdout),
		chat.WithGatewayFactory(func(providerName, model string) (provider.Gateway, error) {
			return openGateway(ctx, cfg, providerName, model)
		}),
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	opts = append(opts, chat.WithHistory(store))

	pipelineOpts := []kleos.Option{
		kleos.WithMaxTokens(cfg.MaxTokens),
		kleos.WithPrompts(kleosPrompts(cfg)),
	}

	if cfg.Memory.Enabled {
		svc, err := openMemory(ctx, cfg, store)
		if err != nil {
			store.Close()
			return fmt.Errorf("start memory: %w", err)
		}
		defer svc.Close()
		opts = append(opts, chat.WithMemory(svc))
		pipelineOpts = append(pipelineOpts, kleos.WithMemory(svc))
	} else {
		defer store.Close()
	}

	opts = append(opts, chat.WithPipeline(kleos.New(gateway, pipelineOpts...)))

	return chat.New(cfg, gateway, opts...).Run(ctx)
}

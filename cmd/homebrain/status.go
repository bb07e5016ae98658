package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/earchibald/home-brain-sub000/internal/brain"
	"github.com/earchibald/home-brain-sub000/internal/config"
	"github.com/earchibald/home-brain-sub000/internal/provider"
)

func buildStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check backend connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			prov := provider.NewOllama(cfg.LLMURL, cfg.Model)
			if err := prov.HealthCheck(ctx); err != nil {
				fmt.Printf("llm      %s: UNREACHABLE (%v)\n", cfg.LLMURL, err)
			} else {
				models, _ := prov.ListModels(ctx)
				fmt.Printf("llm      %s: ok (%d models)\n", cfg.LLMURL, len(models))
			}

			if cfg.SearchURL == "" {
				fmt.Println("brain    not configured")
			} else {
				client := brain.NewClient(cfg.SearchURL)
				if err := client.Health(ctx); err != nil {
					fmt.Printf("brain    %s: UNREACHABLE (%v)\n", cfg.SearchURL, err)
				} else if stats, err := client.GetStats(ctx); err == nil {
					fmt.Printf("brain    %s: ok (%d documents, %d files)\n",
						cfg.SearchURL, stats.Documents, stats.Files)
				} else {
					fmt.Printf("brain    %s: ok\n", cfg.SearchURL)
				}
			}

			if cfg.SlackBotToken != "" && cfg.SlackAppToken != "" {
				fmt.Println("slack    tokens present")
			} else {
				fmt.Println("slack    tokens MISSING")
			}

			fmt.Printf("config   brain_folder=%s model=%s budget=%d\n",
				cfg.BrainFolder, cfg.Model, cfg.MaxContextTokens)
			return nil
		},
	}
}

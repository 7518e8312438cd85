package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/runway/internal/tui/watch"
)

func watchCmd(g *globalFlags) *cobra.Command {
	var apiURL, token string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow runs and jobs live from a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := watchURL(g, apiURL)
			if err != nil {
				return err
			}
			p := tea.NewProgram(watch.New(url, token),
				tea.WithInput(cmd.InOrStdin()), tea.WithOutput(cmd.OutOrStdout()))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("tui: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&apiURL, "api-url", "", "API base URL (default: api.listen from --config, else http://127.0.0.1:8080)")
	cmd.Flags().StringVar(&token, "token", os.Getenv("RUNWAY_API_TOKEN"), "Bearer token with events:ro and runs:ro")
	return cmd
}

func watchURL(g *globalFlags, flagURL string) (string, error) {
	if flagURL != "" {
		return flagURL, nil
	}
	cfg, err := g.loadConfig(false)
	if err != nil {
		return "", err
	}
	return "http://" + cfg.API.Listen, nil
}

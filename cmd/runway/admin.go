package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/runway/internal/doctor"
	"github.com/mattjoyce/runway/internal/inspect"
	"github.com/mattjoyce/runway/internal/storage"
)

func doctorCmd(g *globalFlags) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the configuration and the workflows it references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(true)
			if err != nil {
				return err
			}
			result := doctor.New(cfg).Validate()
			out := cmd.OutOrStdout()
			if jsonOut {
				data, err := doctor.FormatJSON(result)
				if err != nil {
					return fmt.Errorf("render result: %w", err)
				}
				fmt.Fprintln(out, data)
			} else {
				fmt.Fprint(out, doctor.FormatHuman(result))
			}
			if !result.Valid {
				return errSilent
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the result as JSON")
	return cmd
}

func inspectCmd(g *globalFlags) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "inspect <run-id>",
		Short: "Show a run's jobs, results, outputs and workspace artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(true)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, err := storage.OpenSQLite(ctx, cfg.State.Path)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			var report string
			if jsonOut {
				report, err = inspect.BuildJSONReport(ctx, db, cfg.Dispatch.WorkspaceDir, args[0])
			} else {
				report, err = inspect.BuildReport(ctx, db, cfg.Dispatch.WorkspaceDir, args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), report)
			if jsonOut {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the report as JSON")
	return cmd
}

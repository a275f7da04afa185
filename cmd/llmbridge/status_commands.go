package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"llmbridge/internal/connection"
	"llmbridge/internal/ipc"
)

func newPingCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the daemon is alive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.Ping(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "pong")
				return nil
			})
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connection health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.ConnectionStatus()
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, status)
				}

				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)

				rows := make([][]string, 0, len(status))
				for _, t := range connection.Types() {
					payload, ok := status[string(t)]
					if !ok {
						continue
					}
					rows = append(rows, []string{
						string(t),
						colorizeState(string(payload.State), colorize),
						payload.Version,
						fmt.Sprintf("%d", len(payload.Models)),
						formatLastCheck(payload.LastCheck),
						payload.ErrorMessage,
					})
				}
				table := renderTable(
					[]string{"Connection", "State", "Version", "Models", "Last Check", "Error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				)
				fmt.Fprintln(stdout, table)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit raw JSON")
	return cmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream connection state changes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				fmt.Fprintln(stdout, "Watching for state changes (Ctrl-C to stop)...")
				for {
					ev, err := client.ReadEvent(0)
					if err != nil {
						return err
					}
					detail := ev.Status.ErrorMessage
					if detail == "" {
						detail = ev.Status.Version
					}
					fmt.Fprintf(stdout, "%s -> %s %s\n",
						ev.ConnectionType,
						colorizeState(string(ev.Status.State), colorize),
						detail,
					)
				}
			})
		},
	}
}

func newModelsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var connectionType string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models available through the best connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				result, err := client.ProxyRequest("GET", "/api/tags", nil, connectionType)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, result)
				}

				var tags struct {
					Models []struct {
						Name       string `json:"name"`
						Size       int64  `json:"size"`
						ModifiedAt string `json:"modified_at"`
					} `json:"models"`
				}
				if err := unmarshalResult(result, &tags); err != nil {
					return err
				}
				if len(tags.Models) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No models available")
					return nil
				}
				rows := make([][]string, 0, len(tags.Models))
				for _, m := range tags.Models {
					rows = append(rows, []string{m.Name, formatSize(m.Size)})
				}
				table := renderTable(
					[]string{"Model", "Size"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit raw JSON")
	cmd.Flags().StringVar(&connectionType, "connection", "", "Pin the backend (local_ollama or cloud_proxy)")
	return cmd
}

func formatSize(bytes int64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(bytes)/(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(bytes)/(1<<20))
	case bytes > 0:
		return fmt.Sprintf("%d B", bytes)
	default:
		return "-"
	}
}

func unmarshalResult(result []byte, v any) error {
	if len(result) == 0 {
		return fmt.Errorf("empty result from daemon")
	}
	if err := json.Unmarshal(result, v); err != nil {
		return fmt.Errorf("parse result: %w", err)
	}
	return nil
}

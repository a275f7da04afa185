package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"llmbridge/internal/broker"
	"llmbridge/internal/ipc"
)

func newTokenCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the cloud relay auth token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <token>",
		Short: "Set the relay token and enable the cloud connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := strings.TrimSpace(args[0])
			if token == "" {
				return errors.New("token must not be empty")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.UpdateAuthToken(token); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Token updated, cloud relay enabled")
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the relay token and disable the cloud connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.UpdateAuthToken(""); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Token cleared, cloud relay disabled")
				return nil
			})
		},
	}

	cmd.AddCommand(setCmd, clearCmd)
	return cmd
}

func newTargetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "target <host> <port>",
		Short: "Repoint the local Ollama backend",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			host := strings.TrimSpace(args[0])
			port, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid port %q", args[1])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.UpdateLocalTarget(host, port); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Local target set to %s:%d\n", host, port)
				return nil
			})
		},
	}
}

func newProxyCommand(ctx *commandContext) *cobra.Command {
	var method string
	var data string
	var connectionType string
	cmd := &cobra.Command{
		Use:   "proxy <path>",
		Short: "Forward a raw API request through the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body json.RawMessage
			if data != "" {
				if !json.Valid([]byte(data)) {
					return errors.New("--data must be valid JSON")
				}
				body = json.RawMessage(data)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				result, err := client.ProxyRequest(method, args[0], body, connectionType)
				if err != nil {
					return err
				}
				return writeJSON(cmd, result)
			})
		},
	}
	cmd.Flags().StringVarP(&method, "method", "X", "GET", "HTTP method (GET or POST)")
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	cmd.Flags().StringVar(&connectionType, "connection", "", "Pin the backend (local_ollama or cloud_proxy)")
	return cmd
}

func newChatCommand(ctx *commandContext) *cobra.Command {
	var model string
	var system string
	var connectionType string
	cmd := &cobra.Command{
		Use:   "chat <prompt>",
		Short: "Stream a chat completion through the best connection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if model == "" {
				return errors.New("--model is required")
			}
			prompt := strings.Join(args, " ")

			var messages []broker.ChatMessage
			if system != "" {
				messages = append(messages, broker.ChatMessage{Role: "system", Content: system})
			}
			messages = append(messages, broker.ChatMessage{Role: "user", Content: prompt})

			stdout := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				err := client.StreamChat(model, messages, connectionType, func(chunk json.RawMessage) error {
					var piece struct {
						Message struct {
							Content string `json:"content"`
						} `json:"message"`
					}
					if err := json.Unmarshal(chunk, &piece); err != nil {
						return nil
					}
					fmt.Fprint(stdout, piece.Message.Content)
					return nil
				})
				fmt.Fprintln(stdout)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model to chat with")
	cmd.Flags().StringVar(&system, "system", "", "Optional system prompt")
	cmd.Flags().StringVar(&connectionType, "connection", "", "Pin the backend (local_ollama or cloud_proxy)")
	return cmd
}

package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/flowrunner/internal/action"
	"github.com/haasonsaas/flowrunner/internal/engine"
	"github.com/haasonsaas/flowrunner/internal/executor"
	"github.com/haasonsaas/flowrunner/internal/feedback"
	"github.com/haasonsaas/flowrunner/internal/flow"
	"github.com/haasonsaas/flowrunner/internal/flowedit"
	"github.com/haasonsaas/flowrunner/internal/responder"
	"github.com/haasonsaas/flowrunner/internal/session"
	"github.com/haasonsaas/flowrunner/internal/turn"
)

func buildRunCmd() *cobra.Command {
	var (
		flowPath  string
		provider  string
		model     string
		commStyle string
		userID    string
		isAdmin   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive one session interactively, reading turns from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.Default()

			data, err := os.ReadFile(flowPath)
			if err != nil {
				return fmt.Errorf("read flow: %w", err)
			}
			f, err := flow.LoadYAML(data)
			if err != nil {
				return fmt.Errorf("parse flow: %w", err)
			}

			versions := flowedit.NewVersionStore()
			editExecutor := flowedit.NewExecutor(versions)
			compiled, err := editExecutor.Register(f)
			if err != nil {
				return fmt.Errorf("compile flow: %w", err)
			}
			for _, w := range compiled.ValidationWarnings {
				logger.Warn("flow validation warning", "code", w.Code, "node_id", w.NodeID, "message", w.Message)
			}

			llm, err := buildLLM(provider, model)
			if err != nil {
				return err
			}
			schema, err := action.NewSchema()
			if err != nil {
				return fmt.Errorf("build action schema: %w", err)
			}

			eng := engine.New(compiled)
			resp := responder.New(llm, schema, logger)
			fbLoop := feedback.New(cmd.Context(), newFlowEditActionExecutor(f.ID, editExecutor), logger)
			exec := executor.New(eng, fbLoop, nil, logger)
			runner := turn.New(eng, resp, exec, true, logger)

			if userID == "" {
				userID = "cli-user"
			}
			ctx := session.NewFlowContext(f.ID, userID, userID, time.Now().UTC())

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "flowrunner: session %q ready (flow=%s, entry=%s). Type a message, or blank line to nudge the flow forward.\n", ctx.SessionID, f.ID, compiled.Entry)

			reqCtx := cmd.Context()
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				line := scanner.Text()
				result, err := runner.Run(reqCtx, turn.Input{
					Ctx:         ctx,
					UserMessage: line,
					CommStyle:   commStyle,
					IsAdmin:     isAdmin,
				})
				if err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
					continue
				}
				for _, m := range result.Messages {
					fmt.Fprintf(out, "> %s\n", m.Text)
				}
				for _, e := range result.Errors {
					fmt.Fprintf(out, "(warning) %s\n", e)
				}
				if result.Escalate {
					fmt.Fprintln(out, "(escalated to a human)")
					break
				}
				if result.Terminal {
					fmt.Fprintln(out, "(flow complete)")
					break
				}
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVar(&flowPath, "flow", "", "Path to the flow YAML definition (required)")
	cmd.Flags().StringVar(&provider, "provider", "anthropic", "LLM provider (anthropic|openai)")
	cmd.Flags().StringVar(&model, "model", "", "Model override for the selected provider")
	cmd.Flags().StringVar(&commStyle, "style", "", "Communication style hint passed to the prompt")
	cmd.Flags().StringVar(&userID, "user", "", "User/session id (defaults to a synthetic CLI user)")
	cmd.Flags().BoolVar(&isAdmin, "admin", false, "Mark this session as admin-originated (enables modify_flow)")
	cmd.MarkFlagRequired("flow")
	return cmd
}

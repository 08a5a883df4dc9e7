package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/flowrunner/internal/action"
	"github.com/haasonsaas/flowrunner/internal/debounce"
	"github.com/haasonsaas/flowrunner/internal/engine"
	"github.com/haasonsaas/flowrunner/internal/executor"
	"github.com/haasonsaas/flowrunner/internal/feedback"
	"github.com/haasonsaas/flowrunner/internal/flow"
	"github.com/haasonsaas/flowrunner/internal/flowedit"
	"github.com/haasonsaas/flowrunner/internal/responder"
	"github.com/haasonsaas/flowrunner/internal/session"
	"github.com/haasonsaas/flowrunner/internal/transport/whatsapp"
	"github.com/haasonsaas/flowrunner/internal/turn"
	"github.com/haasonsaas/flowrunner/internal/turnmetrics"
)

func buildServeCmd() *cobra.Command {
	var (
		flowPath      string
		storeKind     string
		storePath     string
		postgresDSN   string
		namespace     string
		provider      string
		model         string
		waitMS        int
		checkMS       int
		variancePct   float64
		whatsappDBPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the debounced worker loop against a session store",
		Long: `serve reads one inbound message at a time (from stdin, formatted as
"session-id: message text", or from a paired WhatsApp device with
--whatsapp-db), debounces it against the rest of that session's burst,
and runs a turn once the burst goes quiet.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.Default()
			metrics := turnmetrics.New()

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

			store, closeStore, err := buildStore(storeKind, storePath, postgresDSN)
			if err != nil {
				return err
			}
			if closeStore != nil {
				defer closeStore()
			}
			ctxStore := session.NewContextStore(store, namespace)
			debouncer := debounce.New(ctxStore, logger)

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
			exec := executor.New(eng, fbLoop, ctxStore, logger)
			runner := turn.New(eng, resp, exec, true, logger)
			locker := executor.NewLocker()

			cfg := debounce.Config{WaitMS: waitMS, CheckMS: checkMS, VariancePercent: variancePct}

			process := func(sessionID string, epoch int64) {
				reqCtx := cmd.Context()
				superseded, err := debouncer.AwaitQuiet(reqCtx, sessionID, epoch, cfg)
				if err != nil {
					logger.Error("serve: await quiet failed", "error", err, "session_id", sessionID)
					return
				}
				if superseded {
					metrics.DebounceSupersessionsTotal.Inc()
					return
				}

				text, _, err := debouncer.DrainAndAggregate(reqCtx, sessionID)
				if err != nil {
					logger.Error("serve: drain failed", "error", err, "session_id", sessionID)
					return
				}
				if strings.TrimSpace(text) == "" {
					return
				}

				// Serializes this session's load/run/save critical section
				// against any other worker racing on the same session, so two
				// non-superseded workers (e.g. one still mid-turn when a new
				// message bumps the epoch and spawns another) never interleave
				// writes to the same FlowContext.
				unlock := locker.Lock(sessionID)
				defer unlock()

				fc, ok, err := ctxStore.LoadContext(reqCtx, sessionID, sessionID)
				if err != nil {
					logger.Error("serve: load context failed", "error", err, "session_id", sessionID)
					return
				}
				if !ok {
					fc = session.NewFlowContext(f.ID, sessionID, sessionID, time.Now().UTC())
				}

				// Checkpoint 1 of 3 (spec.md §4.8): before the LLM call.
				if superseded, err := debouncer.Superseded(reqCtx, sessionID, epoch); err != nil {
					logger.Error("serve: supersession check failed", "error", err, "session_id", sessionID)
					return
				} else if superseded {
					metrics.DebounceSupersessionsTotal.Inc()
					return
				}

				start := time.Now()
				result, err := runner.Run(reqCtx, turn.Input{Ctx: fc, UserMessage: text})
				metrics.TurnDuration.WithLabelValues(f.ID).Observe(time.Since(start).Seconds())
				if err != nil {
					logger.Error("serve: turn failed", "error", err, "session_id", sessionID)
					return
				}
				metrics.TurnsTotal.WithLabelValues("turn", boolLabel(result.Terminal)).Inc()

				// Checkpoint 2 of 3 (spec.md §4.8): after the turn (LLM call
				// and, when enabled, the naturalization pass inside
				// runner.Run), before the pre-reply delay and send. No check
				// runs between the LLM call and naturalization.
				if superseded, err := debouncer.Superseded(reqCtx, sessionID, epoch); err != nil {
					logger.Error("serve: supersession check failed", "error", err, "session_id", sessionID)
					return
				} else if superseded {
					metrics.DebounceSupersessionsTotal.Inc()
					return
				}

				if err := debouncer.Sleep(reqCtx, debouncer.PreReplyDelay(cfg)); err != nil {
					logger.Error("serve: pre-reply delay interrupted", "error", err, "session_id", sessionID)
					return
				}

				// Checkpoint 3 of 3 (spec.md §4.8): immediately before send.
				if superseded, err := debouncer.Superseded(reqCtx, sessionID, epoch); err != nil {
					logger.Error("serve: supersession check failed", "error", err, "session_id", sessionID)
					return
				} else if superseded {
					metrics.DebounceSupersessionsTotal.Inc()
					return
				}

				if err := ctxStore.SaveContext(reqCtx, fc); err != nil {
					logger.Error("serve: save context failed", "error", err, "session_id", sessionID)
				}
				for _, m := range result.Messages {
					fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", sessionID, m.Text)
				}
			}

			enqueue := func(sessionID, text string) {
				msg := session.BufferedMessage{Content: text, Timestamp: time.Now().UTC()}
				epoch, err := debouncer.Enqueue(cmd.Context(), sessionID, msg)
				if err != nil {
					logger.Error("serve: enqueue failed", "error", err, "session_id", sessionID)
					return
				}
				go process(sessionID, epoch)
			}

			if whatsappDBPath != "" {
				client, err := whatsapp.Dial(cmd.Context(), whatsapp.Config{SessionDBPath: whatsappDBPath})
				if err != nil {
					return fmt.Errorf("dial whatsapp: %w", err)
				}
				adapter := whatsapp.New(client, enqueueSink(enqueue), logger)
				if err := adapter.Start(cmd.Context()); err != nil {
					return fmt.Errorf("start whatsapp: %w", err)
				}
				defer adapter.Stop()
				logger.Info("serve: whatsapp transport connected")
				<-cmd.Context().Done()
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), `serve: reading "session-id: message" lines from stdin`)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				sessionID, text, ok := strings.Cut(scanner.Text(), ":")
				if !ok {
					continue
				}
				enqueue(strings.TrimSpace(sessionID), strings.TrimSpace(text))
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVar(&flowPath, "flow", "", "Path to the flow YAML definition (required)")
	cmd.Flags().StringVar(&storeKind, "store", "memory", "Session store backend (memory|sqlite|postgres)")
	cmd.Flags().StringVar(&storePath, "store-path", "flowrunner.db", "SQLite database path (store=sqlite)")
	cmd.Flags().StringVar(&postgresDSN, "dsn", "", "Postgres connection string (store=postgres)")
	cmd.Flags().StringVar(&namespace, "namespace", "flowrunner", "Session store key namespace")
	cmd.Flags().StringVar(&provider, "provider", "anthropic", "LLM provider (anthropic|openai)")
	cmd.Flags().StringVar(&model, "model", "", "Model override for the selected provider")
	cmd.Flags().IntVar(&waitMS, "wait-ms", 60000, "Debounce wait time before replying")
	cmd.Flags().IntVar(&checkMS, "check-ms", 5000, "Debounce poll interval")
	cmd.Flags().Float64Var(&variancePct, "jitter-pct", 20, "Debounce wait-time jitter percentage")
	cmd.Flags().StringVar(&whatsappDBPath, "whatsapp-db", "", "Pair and serve over WhatsApp using this whatsmeow device store path")
	cmd.MarkFlagRequired("flow")
	return cmd
}

func buildStore(kind, storePath, dsn string) (session.Store, func(), error) {
	switch kind {
	case "memory":
		return session.NewMemoryStore(), nil, nil
	case "sqlite":
		store, err := session.NewSQLiteStore(storePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, func() { store.Close() }, nil
	case "postgres":
		if dsn == "" {
			return nil, nil, fmt.Errorf("--dsn is required for store=postgres")
		}
		store, err := session.NewPostgresStoreFromDSN(dsn, session.DefaultPostgresConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, func() { store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q (want memory, sqlite, or postgres)", kind)
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// enqueueSink adapts a plain enqueue func to whatsapp.Sink.
type enqueueSink func(sessionID, text string)

func (f enqueueSink) Enqueue(ctx context.Context, sessionID string, msg session.BufferedMessage) (int64, error) {
	f(sessionID, msg.Content)
	return 0, nil
}

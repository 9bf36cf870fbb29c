package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"doran/internal/api"
	"doran/internal/authoring"
	"doran/internal/domain"
	"doran/internal/engine"
	"doran/internal/media"
	"doran/internal/store"
	"doran/internal/tui"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat and admin API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = cfg.Server.Addr
			}
			router := api.NewRouter(a.engine, a.metrics, logger, cfg.Server.WriteTimeout)
			return api.Serve(ctx, api.Config{
				Addr:            addr,
				ReadTimeout:     cfg.Server.ReadTimeout,
				WriteTimeout:    cfg.Server.WriteTimeout,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
			}, router, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newChatCmd() *cobra.Command {
	var guest bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the engine in an interactive console",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			role := domain.RoleUser
			if guest {
				role = domain.RoleGuest
			}
			_, err = tea.NewProgram(tui.New(a.engine, uuid.NewString(), role), tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().BoolVar(&guest, "guest", false, "start in guest mode")
	return cmd
}

func newAskCmd() *cobra.Command {
	var (
		guest   bool
		session string
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question, or one per line of stdin when no question is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			role := domain.RoleUser
			if guest {
				role = domain.RoleGuest
			}
			answer := func(q string) error {
				reply := a.engine.Respond(ctx, engine.Request{Message: q, Role: role, SessionID: session})
				if outputJSON {
					return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
						"response":  reply.Response,
						"timestamp": reply.Timestamp.Format(engine.TimestampLayout),
						"intent":    reply.Intent,
						"match":     reply.Match,
						"score":     reply.Score,
					})
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), reply.Response)
				return err
			}

			if len(args) > 0 {
				return answer(strings.Join(args, " "))
			}
			if session == "" {
				session = uuid.NewString()
			}
			sc := bufio.NewScanner(cmd.InOrStdin())
			for sc.Scan() {
				if err := answer(sc.Text()); err != nil {
					return err
				}
			}
			return sc.Err()
		},
	}
	cmd.Flags().BoolVar(&guest, "guest", false, "ask as a guest")
	cmd.Flags().StringVar(&session, "session", "", "session id for conversation context")
	return cmd
}

func newSeedCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load rules and the email directory from a YAML seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, err := store.Open(ctx, store.Config{Driver: cfg.Store.Driver, DSN: cfg.Store.DSN})
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if !force {
				empty, err := store.IsEmpty(ctx, st)
				if err != nil {
					return err
				}
				if !empty {
					return errors.New("store already has rules; use --force to add the seed anyway")
				}
			}
			seed, err := store.LoadSeed(args[0])
			if err != nil {
				return err
			}
			n, err := seed.Apply(ctx, st, media.NewRenderer(cfg.Media.StaticPrefix))
			if err != nil {
				return err
			}
			logger.Info().Int("rules", n).Int("emails", len(seed.Emails)).Str("driver", cfg.Store.Driver).Msg("seed applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "seed even when the store already has rules")
	return cmd
}

func newNormalizeCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "normalize <seed.yaml>",
		Short: "Generate questions for location and visual rules that lack real ones",
		Long: `Normalize rewrites a seed file offline: location rules get questions built
from their keywords and description, and visual rules whose questions are
generic placeholders get entity-specific questions from their description.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := store.LoadSeed(args[0])
			if err != nil {
				return err
			}
			var changedLoc, changedVis int
			seed.LocationRules, changedLoc = authoring.Normalize(withBucket(seed.LocationRules, domain.BucketLocations))
			seed.VisualRules, changedVis = authoring.Normalize(withBucket(seed.VisualRules, domain.BucketVisuals))

			data, err := yaml.Marshal(seed)
			if err != nil {
				return err
			}
			if out == "" {
				_, err = cmd.OutOrStdout().Write(data)
			} else {
				err = os.WriteFile(out, data, 0o644)
			}
			if err != nil {
				return err
			}
			logger.Info().Int("locations", changedLoc).Int("visuals", changedVis).Msg("rules normalized")
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func withBucket(rules []domain.Rule, b domain.Bucket) []domain.Rule {
	for i := range rules {
		rules[i].Bucket = b
	}
	return rules
}

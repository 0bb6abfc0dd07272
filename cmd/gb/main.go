package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"growboard/internal/app"
	"growboard/internal/db"
	"growboard/internal/domain"
	"growboard/internal/engine"
	"growboard/internal/repo"
	"growboard/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gb",
	Short: "Growboard CLI",
	Long: `Growboard tracks community growth tasks and the points earned for them.
- Catalog: admin-curated tasks grouped by niche and platform, each worth points.
- Claim: an actor marks a task in progress; no points move yet.
- Proof: the actor arms proof collection for one task, then submits evidence.
- Review: an admin approves (points awarded at the task's current value) or
  rejects (the record is cleared so the task can be attempted again).
- Leaderboard: top earners by approved points, with stats per actor.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	_ = godotenv.Load(filepath.Join(viper.GetString("workspace"), ".env"))
	viper.SetEnvPrefix("GROWBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("actor-name", "", "actor display name")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-name", rootCmd.PersistentFlags().Lookup("actor-name"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(claimCmd())
	rootCmd.AddCommand(proofCmd())
	rootCmd.AddCommand(approveCmd())
	rootCmd.AddCommand(rejectCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(leaderboardCmd())
	rootCmd.AddCommand(adminCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write default growboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.InitWorkspace(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	})
	return cfg
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage the task catalog"}
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskRemoveCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	return task
}

func taskAddCmd() *cobra.Command {
	var niche, platform, name, url string
	var points int64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a catalog task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.AddTask(ctx, engine.TaskAddOptions{
					Niche:    niche,
					Platform: platform,
					Name:     name,
					Points:   points,
					URL:      url,
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&niche, "niche", "", "niche grouping (defaults from config)")
	cmd.Flags().StringVar(&platform, "platform", "", "source platform")
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().Int64Var(&points, "points", 0, "points awarded on approval")
	cmd.Flags().StringVar(&url, "url", "", "task link")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func taskRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <task-id>",
		Short: "Remove a catalog task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.RemoveTask(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func taskListCmd() *cobra.Command {
	var niche, platform string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.ListTasks(ctx, repo.TaskFilters{Niche: niche, Platform: platform})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Niche", "Platform", "Name", "Points", "URL"})
				for _, t := range items {
					url := ""
					if t.URL != nil {
						url = *t.URL
					}
					tw.AppendRow(table.Row{t.ID, t.Niche, t.Platform, t.Name, t.Points, url})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&niche, "niche", "", "filter by niche")
	cmd.Flags().StringVar(&platform, "platform", "", "filter by platform")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show a catalog task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.GetTask(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func claimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim <task-id>",
		Short: "Mark a task in progress for the current actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.Claim(ctx, viper.GetString("actor-id"), viper.GetString("actor-name"), id)
				if err != nil {
					return err
				}
				if res.Outcome == engine.OutcomeAlreadyCompleted {
					fmt.Printf("Task %d already completed (%d points awarded).\n", id, res.Record.Points)
					return nil
				}
				fmt.Printf("Task %d is now in progress. Submit proof with: gb proof request %d\n", id, id)
				return nil
			})
		},
	}
	return cmd
}

func proofCmd() *cobra.Command {
	proof := &cobra.Command{Use: "proof", Short: "Proof collection and review"}
	proof.AddCommand(proofRequestCmd())
	proof.AddCommand(proofSubmitCmd())
	proof.AddCommand(proofReviewCmd())
	return proof
}

func proofRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request <task-id>",
		Short: "Arm proof collection for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				task, err := e.RequestProof(ctx, viper.GetString("actor-id"), id)
				if err != nil {
					return err
				}
				fmt.Printf("Awaiting proof for %q. Submit with: gb proof submit <evidence>\n", task.Name)
				return nil
			})
		},
	}
	return cmd
}

func proofSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <evidence>",
		Short: "Submit evidence for the armed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.SubmitProof(ctx, viper.GetString("actor-id"), viper.GetString("actor-name"), args[0])
				if err != nil {
					return err
				}
				if !res.Consumed {
					fmt.Println("No task is awaiting proof; run gb proof request <task-id> first.")
					return nil
				}
				fmt.Printf("Proof stored for task %d; awaiting admin review.\n", res.TaskID)
				return nil
			})
		},
	}
	return cmd
}

func proofReviewCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "review",
		Short: "List submitted evidence awaiting review (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				recs, err := e.PendingReview(ctx, viper.GetString("actor-id"), limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(recs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Actor", "Task", "Evidence", "Submitted"})
				for _, r := range recs {
					evidence := ""
					if r.Evidence != nil {
						evidence = *r.Evidence
					}
					tw.AppendRow(table.Row{actorLabel(r), r.TaskID, evidence, r.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows (0 = all)")
	return cmd
}

func approveCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "approve <task-id>",
		Short: "Approve an actor's submission (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			if actor == "" {
				return fmt.Errorf("--actor required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.Approve(ctx, viper.GetString("actor-id"), actor, id)
				if err != nil {
					return err
				}
				if res.Outcome == engine.OutcomeAlreadyApproved {
					fmt.Printf("Already approved; %d points stand.\n", res.Points)
					return nil
				}
				fmt.Printf("Approved: %s earned %d points for task %d.\n", actor, res.Points, id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor whose submission is approved")
	return cmd
}

func rejectCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "reject <task-id>",
		Short: "Reject an actor's submission (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			if actor == "" {
				return fmt.Errorf("--actor required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.Reject(ctx, viper.GetString("actor-id"), actor, id)
				if err != nil {
					return err
				}
				if res.Outcome == engine.OutcomeNothingToReject {
					fmt.Printf("No record for %s on task %d.\n", actor, id)
					return nil
				}
				fmt.Printf("Rejected: cleared %s's record for task %d.\n", actor, id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor whose submission is rejected")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats [actor-id]",
		Short: "Show an actor's progress summary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID := viper.GetString("actor-id")
			if len(args) == 1 {
				actorID = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				stats, err := e.StatsFor(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	}
	return cmd
}

func leaderboardCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Top earners by approved points",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				entries, err := e.Leaderboard(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Actor", "Points"})
				for _, entry := range entries {
					tw.AppendRow(table.Row{entry.Rank, entry.ActorLabel, entry.Points})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "number of entries (default from config)")
	return cmd
}

func adminCmd() *cobra.Command {
	admin := &cobra.Command{Use: "admin", Short: "Manage admin capability"}
	admin.AddCommand(&cobra.Command{
		Use:   "grant <actor-id>",
		Short: "Grant admin capability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.GrantAdmin(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	})
	admin.AddCommand(&cobra.Command{
		Use:   "revoke <actor-id>",
		Short: "Revoke admin capability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.RevokeAdmin(ctx, args[0])
			})
		},
	})
	admin.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List admins",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				admins, err := r.ListAdmins(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(admins)
			})
		},
	})
	return admin
}

func apikeyCmd() *cobra.Command {
	apikey := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	apikey.AddCommand(apikeyCreateCmd())
	apikey.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, "")
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	})
	apikey.AddCommand(&cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return apikey
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (secret printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.NewString()
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actor,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				fmt.Printf("Created key %s for %s\nSecret (save it now): %s\n", key.ID, actor, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			eng, conn, err := app.Open(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("GROWBOARD_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("GROWBOARD_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: eng, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Growboard API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	eng, conn, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, eng)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	eng, conn, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, eng.Repo)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseTaskID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task id %q", arg)
	}
	return id, nil
}

func actorLabel(r domain.ProgressRecord) string {
	if r.ActorName != "" {
		return fmt.Sprintf("%s (%s)", r.ActorName, r.ActorID)
	}
	return r.ActorID
}

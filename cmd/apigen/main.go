package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"apigen/internal/config"
	"apigen/internal/db"
	"apigen/internal/domain"
	"apigen/internal/engine"
	"apigen/internal/migrate"
	"apigen/internal/repo"
	"apigen/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "apigen",
	Short: "OpenAPI documentation generator",
	Long: `apigen keeps a project's OpenAPI document described and delivered.
It fetches the current document from a service or repository, diffs it
against the previously generated one, fills in missing descriptions using
code retrieval, and delivers the result either as a git push or as a POST
to a custom callback endpoint.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return db.NewWorkspace(viper.GetString("workspace")).Ensure()
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
	viper.SetEnvPrefix("APIGEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(specCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectRotateTokenCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p, token, err := e.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project": p, "token": token})
				}
				fmt.Printf("created project %s (%s)\n", p.Name, p.ID)
				fmt.Printf("bearer token (shown once): %s\n", token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.SourceOpenAPIURL, "source-url", "", "url serving the current OpenAPI document")
	cmd.Flags().StringVar(&opts.GitRepoURL, "git-url", "", "git repository url")
	cmd.Flags().StringVar(&opts.GitAuthToken, "git-token", "", "git access token")
	cmd.Flags().StringVar(&opts.SourceLanguage, "language", "", "main implementation language")
	cmd.Flags().StringVar(&opts.CallbackType, "callback", domain.CallbackPushToRepo, "callback type (push_to_repo or custom_api)")
	cmd.Flags().StringVar(&opts.CustomCallbackURL, "callback-url", "", "custom callback url")
	cmd.Flags().StringVar(&opts.CustomCallbackToken, "callback-token", "", "custom callback bearer token")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Callback", "Updated"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.CallbackType, p.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <project-id-or-name>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := resolveProject(ctx, r, args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndented(p)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var (
		sourceURL, gitURL, gitToken, language    string
		callbackType, callbackURL, callbackToken string
	)
	cmd := &cobra.Command{
		Use:   "update <project-id-or-name>",
		Short: "Update a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p, err := resolveProject(ctx, e.Repo, args[0])
				if err != nil {
					return err
				}
				var upd repo.ProjectUpdate
				flagPtr := func(name string, v *string) *string {
					if cmd.Flags().Changed(name) {
						return v
					}
					return nil
				}
				upd.SourceOpenAPIURL = flagPtr("source-url", &sourceURL)
				upd.GitRepoURL = flagPtr("git-url", &gitURL)
				upd.GitAuthToken = flagPtr("git-token", &gitToken)
				upd.SourceLanguage = flagPtr("language", &language)
				upd.CallbackType = flagPtr("callback", &callbackType)
				upd.CustomCallbackURL = flagPtr("callback-url", &callbackURL)
				upd.CustomCallbackToken = flagPtr("callback-token", &callbackToken)
				out, err := e.UpdateProject(ctx, p.ID, upd)
				if err != nil {
					return err
				}
				return printJSONOrIndented(out)
			})
		},
	}
	cmd.Flags().StringVar(&sourceURL, "source-url", "", "url serving the current OpenAPI document")
	cmd.Flags().StringVar(&gitURL, "git-url", "", "git repository url")
	cmd.Flags().StringVar(&gitToken, "git-token", "", "git access token")
	cmd.Flags().StringVar(&language, "language", "", "main implementation language")
	cmd.Flags().StringVar(&callbackType, "callback", "", "callback type (push_to_repo or custom_api)")
	cmd.Flags().StringVar(&callbackURL, "callback-url", "", "custom callback url")
	cmd.Flags().StringVar(&callbackToken, "callback-token", "", "custom callback bearer token")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project-id-or-name>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p, err := resolveProject(ctx, e.Repo, args[0])
				if err != nil {
					return err
				}
				if err := e.DeleteProject(ctx, p.ID); err != nil {
					return err
				}
				fmt.Printf("deleted project %s\n", p.Name)
				return nil
			})
		},
	}
}

func projectRotateTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-token <project-id-or-name>",
		Short: "Mint a fresh bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p, err := resolveProject(ctx, e.Repo, args[0])
				if err != nil {
					return err
				}
				token, err := e.RotateToken(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"token": token})
				}
				fmt.Printf("new bearer token (shown once): %s\n", token)
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Inspect generation tasks"}
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskListCmd())
	return task
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndented(t)
			})
		},
	}
}

func taskListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list <project-id-or-name>",
		Short: "List a project's tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := resolveProject(ctx, r, args[0])
				if err != nil {
					return err
				}
				tasks, err := r.ListTasks(ctx, p.ID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Created", "Updated"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Status, t.CreatedAt, t.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of tasks")
	return cmd
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <project-id-or-name>",
		Short: "Run documentation generation for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p, err := resolveProject(ctx, e.Repo, args[0])
				if err != nil {
					return err
				}
				workers, cancel := context.WithCancel(ctx)
				defer cancel()
				e.StartWorkers(workers, 1)

				taskID, err := e.StartGeneration(ctx, p.ID)
				if err != nil {
					return err
				}
				fmt.Printf("task %s started\n", taskID)
				for {
					t, err := e.Repo.GetTask(ctx, taskID)
					if err != nil {
						return err
					}
					if t.Terminal() {
						if t.Status == domain.TaskFailed {
							msg := ""
							if t.ErrorMessage != nil {
								msg = *t.ErrorMessage
							}
							return fmt.Errorf("task %s failed: %s", taskID, msg)
						}
						result := ""
						if t.Result != nil {
							result = *t.Result
						}
						fmt.Printf("task %s succeeded: %s\n", taskID, result)
						return nil
					}
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(time.Second):
					}
				}
			})
		},
	}
	return cmd
}

func specCmd() *cobra.Command {
	spec := &cobra.Command{Use: "spec", Short: "Inspect generated documents"}
	spec.AddCommand(&cobra.Command{
		Use:   "latest <project-id-or-name>",
		Short: "Print the latest generated document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := resolveProject(ctx, r, args[0])
				if err != nil {
					return err
				}
				s, err := r.LatestSpec(ctx, p.ID)
				if err != nil {
					return err
				}
				fmt.Println(s.Body)
				return nil
			})
		},
	})
	return spec
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	var limit int
	var project string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				projectID := ""
				if project != "" {
					p, err := resolveProject(ctx, r, project)
					if err != nil {
						return err
					}
					projectID = p.ID
				}
				items, err := r.TailEvents(ctx, projectID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				for i := len(items) - 1; i >= 0; i-- {
					ev := items[i]
					fmt.Printf("%s %-18s project=%s task=%s %s\n", ev.TS, ev.Type, ev.ProjectID, ev.TaskID, ev.Payload)
				}
				return nil
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 50, "maximum number of events")
	tail.Flags().StringVar(&project, "project", "", "filter by project id or name")
	lg.AddCommand(tail)
	return lg
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Service configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default apigen.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(c)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	return cfg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			ws := db.NewWorkspace(workspace)
			conn, err := ws.Open()
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Apply(conn); err != nil {
				return err
			}
			e := engine.New(conn, cfg, ws.ReposDir())
			workers, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			e.StartWorkers(workers, cfg.Workers.Count)

			authCfg := server.AuthConfig{JWTSecret: os.Getenv("APIGEN_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("APIGEN_JWT_SECRET is required for admin auth")
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			if addr == "" {
				addr = cfg.Server.ListenAddr
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving apigen API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	ws := db.NewWorkspace(workspace)
	conn, err := ws.Open()
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Apply(conn); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg, ws.ReposDir()))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.NewWorkspace(workspace).Open()
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Apply(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

// resolveProject accepts either a project id or its unique name.
func resolveProject(ctx context.Context, r repo.Repo, ref string) (domain.Project, error) {
	p, err := r.GetProject(ctx, ref)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Project{}, err
	}
	return r.GetProjectByName(ctx, ref)
}

func printJSONOrIndented(v any) error {
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

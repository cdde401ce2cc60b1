package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskline/internal/app"
	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/logging"
	"taskline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Taskline CLI",
	Long: `Taskline tracks tasks and projects behind role-based access control.
Core concepts:
- Workspace: a directory holding taskline.yml, the .taskline state dir and uploaded media.
- Roles: named permission sets; the Super Admin role bypasses every check.
- Tasks: work items with a status, a completion status and optional dates; a task may belong to one project.
- Projects: groups of tasks with a team; membership can grant visibility of project tasks.
- Event log: every change is recorded; view with 'tl events tail'.
Commands act as the user named by --as (id or e-mail), defaulting to the seeded admin.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
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
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "act as this user id or e-mail (defaults to the seeded admin)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(consistencyCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(apiKeyCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default taskline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func seedCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Install permissions, the Super Admin role, configured roles and the admin user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if password == "" {
					password = viper.GetString("admin_password")
				}
				res, err := app.Seed(ctx, a.Store, a.Config, password, time.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("permissions: %d\n", res.Permissions)
				if len(res.RolesCreated) > 0 {
					fmt.Printf("roles created: %s\n", strings.Join(res.RolesCreated, ", "))
				}
				if res.AdminCreated {
					fmt.Printf("admin %s created (%s)\n", a.Config.Seed.AdminEmail, res.AdminID)
				}
				if res.AdminPassword != "" {
					fmt.Printf("generated admin password: %s\n", res.AdminPassword)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "admin-password", "", "admin password (env TASKLINE_ADMIN_PASSWORD; generated when empty)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var seed bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt_secret")
			if secret == "" {
				return fmt.Errorf("TASKLINE_JWT_SECRET is required for bearer auth")
			}
			workspace := viper.GetString("workspace")
			cfg, log, err := loadConfig(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Open(ctx, workspace, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			if seed {
				res, err := app.Seed(ctx, a.Store, cfg, viper.GetString("admin_password"), time.Now())
				if err != nil {
					return err
				}
				if res.AdminPassword != "" {
					log.WithField("email", cfg.Seed.AdminEmail).Warnf("generated admin password: %s", res.AdminPassword)
				}
			}
			a.Start(ctx)

			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				Hub:      a.Hub,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:     secret,
					TokenTTL:      cfg.TokenTTL(),
					AllowDevLogin: cfg.Server.AllowDevLogin,
				},
				Log: log,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				timeout := cfg.ShutdownTimeout()
				if timeout <= 0 {
					timeout = 10 * time.Second
				}
				sctx, cancel := context.WithTimeout(context.Background(), timeout)
				defer cancel()
				// end open event streams so Shutdown can drain
				a.Hub.Close()
				if err := srv.Shutdown(sctx); err != nil {
					log.WithError(err).Warn("shutdown")
				}
			}()
			log.WithFields(logrus.Fields{"addr": addr, "base_path": basePath}).Info("serving Taskline API (OpenAPI at /openapi.json, Swagger UI at /docs)")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	cmd.Flags().BoolVar(&seed, "seed", false, "seed permissions, roles and the admin before serving")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the --as user",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt_secret")
			if secret == "" {
				return fmt.Errorf("TASKLINE_JWT_SECRET is required to sign tokens")
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				if ttl <= 0 {
					ttl = a.Config.TokenTTL()
				}
				token, exp, err := server.IssueToken(secret, actor.ID, ttl, time.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"token": token, "expiresAt": exp, "userId": actor.ID})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to server.token_ttl_minutes)")
	return cmd
}

func loadConfig(workspace string) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.LoadOrDefault(workspace)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	workspace := viper.GetString("workspace")
	cfg, log, err := loadConfig(workspace)
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, workspace, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// withActor resolves --as before running fn.
func withActor(ctx context.Context, fn func(context.Context, *app.App, domain.Actor) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		who := strings.TrimSpace(viper.GetString("as"))
		if who == "" {
			who = a.Config.Seed.AdminEmail
		}
		if strings.Contains(who, "@") {
			u, err := a.Store.GetUserByEmail(ctx, who)
			if err != nil {
				return fmt.Errorf("resolve user %s: %w (run 'tl seed' first?)", who, err)
			}
			who = u.ID
		}
		actor, err := a.Engine.ActorFor(ctx, who)
		if err != nil {
			return fmt.Errorf("resolve user %s: %w", who, err)
		}
		return fn(ctx, a, actor)
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printTable(header table.Row, rows []table.Row, footer string) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	if footer != "" {
		tw.SetCaption(footer)
	}
	tw.Render()
}

func pageCaption(items, total, page, pages int) string {
	return fmt.Sprintf("%d of %d (page %d/%d)", items, total, page, pages)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// parseDate accepts YYYY-MM-DD or RFC 3339.
func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q (want YYYY-MM-DD or RFC 3339)", s)
	}
	return &t, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

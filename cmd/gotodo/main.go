package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"gotodo/internal/app"
	"gotodo/internal/config"
	"gotodo/internal/db"
	"gotodo/internal/domain"
	"gotodo/internal/engine"
	"gotodo/internal/migrate"
	"gotodo/internal/repo"
	"gotodo/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gotodo",
	Short: "gotodo service marketplace CLI",
	Long: `gotodo connects people who need a job done with providers who bid on it.
- Requests move PENDING -> AWAITING_ACCEPTANCE -> PROVIDER_ASSIGNED -> EN_ROUTE -> SERVICE_IN_PROGRESS -> PENDING_PAYMENT -> COMPLETED; CANCELLED and DISPUTED are exits.
- Providers bid; the requester accepts one bid and the rest are rejected.
- Journeys plan multi-stop errands; a plan is finalized once every stop has a location.
- The workspace (.gotodo) holds the database; gotodo.yml seeds the system configuration.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		_ = godotenv.Load(filepath.Join(workspace, ".env"))
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GOTODO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "act as this user (defaults to the logged-in user)")
	rootCmd.PersistentFlags().String("api-url", "http://127.0.0.1:8080/api", "API base URL for remote commands")
	rootCmd.PersistentFlags().String("token", "", "bearer token for remote commands")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("api-url", rootCmd.PersistentFlags().Lookup("api-url"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(bidCmd())
	rootCmd.AddCommand(journeyCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(themeCmd())
	rootCmd.AddCommand(providerCmd())
	rootCmd.AddCommand(adminCmd())
	rootCmd.AddCommand(logCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the workspace and a default gotodo.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("%s already exists\n", path)
			} else if errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
			} else {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cfg, err := e.SystemConfig(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Workspace ready: %s (%d service types)\n", db.Path(workspace), len(cfg.Services.Catalog))
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			logger := log.New(os.Stderr, "gotodo ", log.LstdFlags)
			e := engine.New(conn, nil)
			e.Logger = logger
			e.Chat.Logger = logger
			defer e.Chat.Shutdown()
			cfg, err := app.ResolveConfig(cmd.Context(), workspace, e)
			if err != nil {
				return err
			}
			e.Defaults = cfg

			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: allowLegacy,
				Logger:                 logger,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("GOTODO_JWT_SECRET is required for bearer auth (or pass --allow-actor-header for local development)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: logger})
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go server.NewWebhookDispatcher(e, logger).Run(ctx)

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving %s API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", cfg.Platform.Name, addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-actor-header", false, "accept unauthenticated X-Actor-Id headers (development only)")
	return cmd
}

func loginCmd() *cobra.Command {
	var name, email, role string
	cmd := &cobra.Command{
		Use:   "login <user-id>",
		Short: "Log in locally as a user, creating it when missing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.EnsureUserOptions{ID: args[0], Name: name, Email: email, Role: role}
				existing, err := e.GetUser(ctx, args[0])
				switch {
				case err == nil:
					if opts.Name == "" {
						opts.Name = existing.Name
					}
					if opts.Email == "" {
						opts.Email = existing.Email
					}
					if opts.Role == "" {
						opts.Role = existing.Role
					}
				case errors.Is(err, repo.ErrNotFound):
					if opts.Name == "" {
						opts.Name = args[0]
					}
				default:
					return err
				}
				u, err := e.EnsureUser(ctx, opts)
				if err != nil {
					return err
				}
				if err := app.SaveSessionUser(ctx, e.Store, u); err != nil {
					return err
				}
				fmt.Printf("Logged in as %s (%s)\n", u.Name, u.Role)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&role, "role", "", "role (requester, provider, admin)")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the local session user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return app.ClearSessionUser(ctx, e.Store)
			})
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actor(ctx, e)
				if err != nil {
					return err
				}
				u, err := e.GetUser(ctx, actorID)
				if err != nil {
					return err
				}
				unread, err := e.Notifications(u.ID).UnreadCount(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"user": u, "unread_notifications": unread})
				}
				fmt.Printf("%s (%s) role=%s unread=%d\n", u.Name, u.ID, u.Role, unread)
				return nil
			})
		},
	}
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys of the acting user",
	}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue a key (shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actor(ctx, e)
				if err != nil {
					return err
				}
				key, plaintext, err := e.CreateAPIKey(ctx, engine.CreateAPIKeyOptions{UserID: actorID, Name: name})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "key": plaintext})
				}
				fmt.Printf("API key %s: %s\nStore it now; it will not be shown again.\n", key.ID, plaintext)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label")
	k.AddCommand(create)
	k.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actor(ctx, e)
				if err != nil {
					return err
				}
				keys, err := e.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, key := range keys {
					tw.AppendRow(table.Row{key.ID, key.Name, ago(key.CreatedAt)})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	})
	k.AddCommand(&cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actor(ctx, e)
				if err != nil {
					return err
				}
				return e.RevokeAPIKey(ctx, args[0], actorID)
			})
		},
	})
	return k
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect or replace the system configuration",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cfg, err := e.SystemConfig(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cfg)
				}
				out, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a gotodo.yml file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			if _, err := config.FromFile(file); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", file)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file (default: workspace gotodo.yml)")
	return cmd
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the active configuration from a YAML file (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actor(ctx, e)
				if err != nil {
					return err
				}
				if _, err := e.UpdateSystemConfig(ctx, cfg, actorID); err != nil {
					return err
				}
				fmt.Printf("Imported %s\n", file)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file (default: workspace gotodo.yml)")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log commands",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, repo.EventFilters{Type: evtType, EntityKind: entityKind, EntityID: entityID, Limit: n})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "When", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, ago(evt.TS), evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, nil)
	defer e.Chat.Shutdown()
	cfg, err := app.ResolveConfig(ctx, workspace, e)
	if err != nil {
		return err
	}
	e.Defaults = cfg
	return fn(ctx, e)
}

// actor resolves --actor-id, then the logged-in user.
func actor(ctx context.Context, e engine.Engine) (string, error) {
	if id := strings.TrimSpace(viper.GetString("actor-id")); id != "" {
		return id, nil
	}
	u, ok, err := app.SessionUser(ctx, e.Store)
	if err != nil {
		return "", err
	}
	if !ok || u.ID == "" {
		return "", fmt.Errorf("not logged in; run 'gotodo login <user-id>' or pass --actor-id")
	}
	return u.ID, nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func parseLocation(lat, lng float64, address string, set bool) *domain.GeoLocation {
	if !set {
		return nil
	}
	return &domain.GeoLocation{Latitude: lat, Longitude: lng, Address: address}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

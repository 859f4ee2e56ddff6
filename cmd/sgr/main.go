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

	"stringer/internal/app"
	"stringer/internal/config"
	"stringer/internal/db"
	"stringer/internal/engine"
	"stringer/internal/engine/auth"
	"stringer/internal/migrate"
	"stringer/internal/repo"
	"stringer/internal/server"
	stringersdk "stringer/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "sgr",
	Short: "Stringer CLI",
	Long: `Stringer is an editorial marketplace connecting newsrooms with
freelance journalists. Editors open pitch windows and commission
assignments; journalists pitch, file drafts, and get paid when work
publishes (or collect a kill fee when it doesn't).

The serve command runs the API server against a local SQLite database.
The remaining commands are a thin client over the HTTP API; log in
first with 'sgr login'.`,
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("STRINGER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("data-dir", ".", "data directory (server side)")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "API server base URL")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("data-dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(assignmentCmd())
	rootCmd.AddCommand(pitchWindowCmd())
	rootCmd.AddCommand(pitchCmd())
	rootCmd.AddCommand(paymentCmd())
	rootCmd.AddCommand(webhookCmd())
}

func serveCmd() *cobra.Command {
	var basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir := viper.GetString("data-dir")
			cfg, err := config.Load(dataDir)
			if err != nil {
				return err
			}
			if _, err := db.EnsureDataDir(cfg.Data.Dir); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{DataDir: cfg.Data.Dir})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			if err := app.EnsureSeed(cmd.Context(), cfg, r); err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{Service: auth.NewService(conn, cfg.Auth.JWTSecret)}
			if cfg.Auth.DevLogin.Enabled {
				authCfg.DevLoginEmail = cfg.Auth.DevLogin.Email
			}
			handler, err := server.New(server.Config{Engine: e, Auth: authCfg, BasePath: basePath})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Stringer API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", cfg.Server.Addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage server config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var newsroom string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default stringer.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir := viper.GetString("data-dir")
			path := config.Path(dataDir)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(newsroom)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s; set auth.jwt_secret before serving\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&newsroom, "newsroom", "Newsroom", "seed newsroom name")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("data-dir"))
			if err != nil {
				return err
			}
			// Do not print the signing secret.
			cfg.Auth.JWTSecret = "<redacted>"
			return printJSON(cfg)
		},
	}
	return cmd
}

func loginCmd() *cobra.Command {
	var email, password string
	var dev bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			var session stringersdk.Session
			var err error
			if dev {
				session, err = client.DevLogin(cmd.Context())
			} else {
				if email == "" || password == "" {
					return fmt.Errorf("--email and --password required")
				}
				session, err = client.Authenticate(cmd.Context(), email, password)
			}
			if err != nil {
				return err
			}
			if err := saveSession(session); err != nil {
				return err
			}
			fmt.Printf("Logged in as %s (%s)\n", session.User.Email, session.User.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().BoolVar(&dev, "dev", false, "use the dev login endpoint")
	return cmd
}

func logoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Revoke tokens and drop the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := sessionClient()
			if err == nil {
				_ = client.Logout(cmd.Context())
			}
			return os.Remove(sessionPath())
		},
	}
	return cmd
}

func whoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stringersdk.Client) error {
				u, err := c.Me(ctx)
				if err != nil {
					return err
				}
				return printJSON(u)
			})
		},
	}
	return cmd
}

func assignmentCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "assignment",
		Short: "Manage assignments",
		Long: `Assignments move assigned -> in_progress -> submitted and then either
approved -> published or back through revision_requested. Killing an
assignment at any non-terminal stage triggers the kill fee.`,
	}
	a.AddCommand(assignmentCreateCmd())
	a.AddCommand(assignmentListCmd())
	a.AddCommand(assignmentGetCmd())
	a.AddCommand(assignmentStatusCmd())
	a.AddCommand(assignmentTimelineCmd())
	a.AddCommand(assignmentPaymentsCmd())
	return a
}

func assignmentCreateCmd() *cobra.Command {
	var opts stringersdk.CreateAssignmentOptions
	var deadline string
	var maxRevisions int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Commission an assignment",
		RunE: func(cmd *cobra.Command, args []string) error {
			if deadline != "" {
				opts.Deadline = &deadline
			}
			if cmd.Flags().Changed("max-revisions") {
				opts.MaxRevisions = &maxRevisions
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *stringersdk.Client) error {
				a, err := c.CreateAssignment(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.JournalistID, "journalist", "", "journalist user id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "working title")
	cmd.Flags().StringVar(&opts.Brief, "brief", "", "assignment brief")
	cmd.Flags().Int64Var(&opts.AgreedRate, "rate", 0, "agreed rate in cents")
	cmd.Flags().IntVar(&opts.KillFeePercentage, "kill-fee", 0, "kill fee percentage")
	cmd.Flags().IntVar(&maxRevisions, "max-revisions", 0, "revision budget")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (RFC 3339)")
	_ = cmd.MarkFlagRequired("journalist")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("rate")
	return cmd
}

func assignmentListCmd() *cobra.Command {
	var opts stringersdk.ListAssignmentsOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stringersdk.Client) error {
				page, err := c.ListAssignments(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Journalist", "Rate", "Revisions"})
				for _, a := range page.Items {
					tw.AppendRow(table.Row{a.ID, a.Title, a.Status, a.JournalistID, a.AgreedRate, fmt.Sprintf("%d/%d", a.RevisionCount, a.MaxRevisions)})
				}
				tw.Render()
				if page.NextCursor != "" {
					fmt.Println("next cursor:", page.NextCursor)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "page size")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "page cursor")
	return cmd
}

func assignmentGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get an assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stringersdk.Client) error {
				a, err := c.GetAssignment(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	return cmd
}

func assignmentStatusCmd() *cobra.Command {
	var status, notes string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Transition an assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stringersdk.Client) error {
				a, err := c.ChangeAssignmentStatus(ctx, args[0], status, notes)
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&notes, "notes", "", "revision notes (required for revision_requested)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func assignmentTimelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline <id>",
		Short: "Show assignment history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stringersdk.Client) error {
				items, err := c.Timeline(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Label", "Status", "Actor", "Notes"})
				for _, ev := range items {
					tw.AppendRow(table.Row{ev.Timestamp, ev.Label, ev.Status, ev.ActorID, ev.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func assignmentPaymentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments <id>",
		Short: "Show payments for an assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stringersdk.Client) error {
				items, err := c.AssignmentPayments(ctx, args[0])
				if err != nil {
					return err
				}
				return printPayments(items)
			})
		},
	}
	return cmd
}

func pitchWindowCmd() *cobra.Command {
	w := &cobra.Command{
		Use:   "window",
		Short: "Manage pitch windows",
		Long:  "Pitch windows are calls for pitches. They open from draft, then close or cancel.",
	}
	w.AddCommand(windowCreateCmd())
	w.AddCommand(windowListCmd())
	w.AddCommand(windowStatusCmd())
	return w
}

func windowCreateCmd() *cobra.Command {
	var opts stringersdk.CreatePitchWindowOptions
	var maxPitches int
	var opensAt, closesAt string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pitch window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("max-pitches") {
				opts.MaxPitchesPerJournalist = &maxPitches
			}
			if opensAt != "" {
				opts.OpensAt = &opensAt
			}
			if closesAt != "" {
				opts.ClosesAt = &closesAt
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *stringersdk.Client) error {
				w, err := c.CreatePitchWindow(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(w)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "window title")
	cmd.Flags().StringArrayVar(&opts.Beats, "beat", []string{}, "beat (repeatable)")
	cmd.Flags().Int64Var(&opts.BudgetCents, "budget", 0, "budget in cents")
	cmd.Flags().IntVar(&maxPitches, "max-pitches", 0, "max pitches per journalist")
	cmd.Flags().StringVar(&opensAt, "opens-at", "", "opens at (RFC 3339)")
	cmd.Flags().StringVar(&closesAt, "closes-at", "", "closes at (RFC 3339)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func windowListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pitch windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stringersdk.Client) error {
				items, err := c.ListPitchWindows(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Beats", "Budget"})
				for _, w := range items {
					tw.AppendRow(table.Row{w.ID, w.Title, w.Status, strings.Join(w.Beats, ","), w.BudgetCents})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func windowStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Open, close or cancel a window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stringersdk.Client) error {
				w, err := c.SetPitchWindowStatus(ctx, args[0], status)
				if err != nil {
					return err
				}
				return printJSON(w)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func pitchCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "pitch",
		Short: "Manage pitches",
		Long:  "Pitches flow draft -> submitted -> under_review -> accepted/rejected. Accepting a pitch commissions the assignment.",
	}
	p.AddCommand(pitchCreateCmd())
	p.AddCommand(pitchListCmd())
	p.AddCommand(pitchStatusCmd())
	p.AddCommand(pitchAcceptCmd())
	return p
}

func pitchCreateCmd() *cobra.Command {
	var opts stringersdk.CreatePitchOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Draft or submit a pitch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stringersdk.Client) error {
				p, err := c.CreatePitch(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.WindowID, "window", "", "pitch window id")
	cmd.Flags().StringVar(&opts.Headline, "headline", "", "headline")
	cmd.Flags().StringVar(&opts.Summary, "summary", "", "summary")
	cmd.Flags().Int64Var(&opts.ProposedRate, "rate", 0, "proposed rate in cents")
	cmd.Flags().BoolVar(&opts.Submit, "submit", false, "submit immediately")
	_ = cmd.MarkFlagRequired("window")
	_ = cmd.MarkFlagRequired("headline")
	return cmd
}

func pitchListCmd() *cobra.Command {
	var windowID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pitches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stringersdk.Client) error {
				items, err := c.ListPitches(ctx, windowID, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Headline", "Status", "Journalist", "Rate"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Headline, p.Status, p.JournalistID, p.ProposedRate})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&windowID, "window", "", "window filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func pitchStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Move a pitch through review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stringersdk.Client) error {
				p, err := c.SetPitchStatus(ctx, args[0], status)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func pitchAcceptCmd() *cobra.Command {
	var opts stringersdk.AcceptPitchOptions
	var rate int64
	var maxRevisions int
	var deadline string
	cmd := &cobra.Command{
		Use:   "accept <id>",
		Short: "Accept a pitch and commission the assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("rate") {
				opts.AgreedRate = &rate
			}
			if cmd.Flags().Changed("max-revisions") {
				opts.MaxRevisions = &maxRevisions
			}
			if deadline != "" {
				opts.Deadline = &deadline
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *stringersdk.Client) error {
				a, err := c.AcceptPitch(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	cmd.Flags().Int64Var(&rate, "rate", 0, "agreed rate override in cents")
	cmd.Flags().IntVar(&opts.KillFeePercentage, "kill-fee", 0, "kill fee percentage")
	cmd.Flags().IntVar(&maxRevisions, "max-revisions", 0, "revision budget")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (RFC 3339)")
	return cmd
}

func paymentCmd() *cobra.Command {
	p := &cobra.Command{Use: "payment", Short: "Inspect payments"}
	p.AddCommand(paymentListCmd())
	p.AddCommand(paymentStatusCmd())
	return p
}

func paymentListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stringersdk.Client) error {
				items, err := c.ListPayments(ctx, status)
				if err != nil {
					return err
				}
				return printPayments(items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func paymentStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Advance a payment (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stringersdk.Client) error {
				p, err := c.SetPaymentStatus(ctx, args[0], status)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func webhookCmd() *cobra.Command {
	w := &cobra.Command{Use: "webhook", Short: "Manage webhook subscriptions (admin)"}
	w.AddCommand(webhookCreateCmd())
	w.AddCommand(webhookListCmd())
	w.AddCommand(webhookDeleteCmd())
	return w
}

func webhookCreateCmd() *cobra.Command {
	var endpoint, secret string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Subscribe an endpoint to timeline events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stringersdk.Client) error {
				w, err := c.CreateWebhook(ctx, endpoint, secret)
				if err != nil {
					return err
				}
				return printJSON(w)
			})
		},
	}
	cmd.Flags().StringVar(&endpoint, "url", "", "delivery URL")
	cmd.Flags().StringVar(&secret, "secret", "", "shared secret header value")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func webhookListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List webhook subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stringersdk.Client) error {
				items, err := c.ListWebhooks(ctx)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	return cmd
}

func webhookDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a webhook subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stringersdk.Client) error {
				return c.DeleteWebhook(ctx, args[0])
			})
		},
	}
	return cmd
}

// --- helpers ---

func newClient() *stringersdk.Client {
	return stringersdk.New(viper.GetString("server"))
}

func sessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return home + "/.stringer-session.json"
}

func saveSession(s stringersdk.Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(sessionPath(), data, 0o600)
}

func sessionClient() (*stringersdk.Client, error) {
	data, err := os.ReadFile(sessionPath())
	if err != nil {
		return nil, fmt.Errorf("not logged in; run 'sgr login' first")
	}
	var s stringersdk.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	c := newClient()
	c.SetSession(s)
	// Persist rotated tokens so the next invocation keeps working.
	c.OnUnauthorized = func() {
		_ = os.Remove(sessionPath())
		fmt.Fprintln(os.Stderr, "session expired; run 'sgr login' again")
	}
	return c, nil
}

func withClient(ctx context.Context, fn func(context.Context, *stringersdk.Client) error) error {
	c, err := sessionClient()
	if err != nil {
		return err
	}
	if err := fn(ctx, c); err != nil {
		return err
	}
	if s, ok := c.CurrentSession(); ok {
		_ = saveSession(s)
	}
	return nil
}

func printPayments(items []stringersdk.Payment) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Assignment", "Type", "Status", "Amount", "Fee", "Net"})
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.AssignmentID, p.Type, p.Status, p.Amount, p.PlatformFee, p.NetAmount})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

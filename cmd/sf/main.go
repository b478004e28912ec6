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

	"stallfront/internal/config"
	"stallfront/internal/db"
	"stallfront/internal/domain"
	"stallfront/internal/engine"
	"stallfront/internal/migrate"
	"stallfront/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sf",
	Short: "Stallfront CLI",
	Long: `Stallfront runs marketplace vendor onboarding: a resumable four-stage
wizard (basics, details, social, payout) whose final submission provisions the
logo asset, the payout recipient and the vendor profile as one all-or-nothing
sequence.

- Workspace: the .stallfront directory holding the database; settings live in
  stallfront.yml next to it.
- Wizard: per-vendor progress persisted after every step, resumable at any time.
- Submission: runs the provisioning sequence; a failure rolls back what it can
  and leaves the wizard on the payout stage for retry.
- Event log: a diary of wizard and profile changes, view with 'sf log tail'.`,
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
	viper.SetEnvPrefix("STALLFRONT")
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
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(vendorCmd())
	rootCmd.AddCommand(onboardingCmd())
	rootCmd.AddCommand(bankCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var marketplaceID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace with a default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(marketplaceID)), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Printf("Initialized workspace: %s and %s\n", path, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().StringVar(&marketplaceID, "marketplace-id", "stallfront", "marketplace identifier")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrIndented(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Printf("config OK (marketplace %s)\n", cfg.Marketplace.ID)
			return nil
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from a YAML file into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			if err := os.WriteFile(config.Path(viper.GetString("workspace")), data, 0o644); err != nil {
				return err
			}
			return printJSONOrIndented(cfg)
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func vendorCmd() *cobra.Command {
	v := &cobra.Command{
		Use:   "vendor",
		Short: "Inspect vendor profiles",
	}
	v.AddCommand(vendorListCmd())
	v.AddCommand(vendorShowCmd())
	v.AddCommand(vendorSetStatusCmd())
	return v
}

func vendorListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List vendor profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				vendors, err := e.ListVendors(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(vendors)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Vendor", "Store", "Owner", "Status", "Recipient", "Created"})
				for _, p := range vendors {
					tw.AppendRow(table.Row{p.VendorID, p.StoreName, p.OwnerName, p.VerificationStatus, p.PayoutRecipientID, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func vendorShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <vendor-id>",
		Short: "Show one vendor profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetVendorProfile(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndented(p)
			})
		},
	}
	return cmd
}

func vendorSetStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <vendor-id>",
		Short: "Set a vendor's verification status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch status {
			case domain.VerificationPending, domain.VerificationVerified, domain.VerificationRejected:
			default:
				return fmt.Errorf("--status must be pending, verified or rejected")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.SetVerificationStatus(ctx, args[0], status); err != nil {
					return err
				}
				e.Cache.Invalidate(args[0])
				p, err := e.Repo.GetVendorProfile(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndented(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pending, verified or rejected")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func onboardingCmd() *cobra.Command {
	o := &cobra.Command{
		Use:   "onboarding",
		Short: "Inspect onboarding wizard state",
	}
	o.AddCommand(onboardingShowCmd())
	o.AddCommand(onboardingResetCmd())
	return o
}

func onboardingShowCmd() *cobra.Command {
	var vendorID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a vendor's wizard progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				state, err := e.GetWizard(ctx, vendorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(state)
				}
				fmt.Printf("Vendor: %s\n", vendorID)
				fmt.Printf("Stage: %d/%d (%s)\n", state.CurrentStage, domain.StageCount, domain.StageName(state.CurrentStage))
				if state.SubmissionError != "" {
					fmt.Printf("Last submission error: %s\n", state.SubmissionError)
				}
				b, _ := json.MarshalIndent(state.Stages, "", "  ")
				fmt.Println(string(b))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&vendorID, "vendor", "", "vendor id")
	_ = cmd.MarkFlagRequired("vendor")
	return cmd
}

func onboardingResetCmd() *cobra.Command {
	var vendorID string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard a vendor's wizard progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.AbandonOnboarding(ctx, vendorID); err != nil {
					return err
				}
				fmt.Printf("Wizard state cleared for %s\n", vendorID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&vendorID, "vendor", "", "vendor id")
	_ = cmd.MarkFlagRequired("vendor")
	return cmd
}

func bankCmd() *cobra.Command {
	b := &cobra.Command{
		Use:   "bank",
		Short: "Payout bank helpers",
	}
	b.AddCommand(bankResolveCmd())
	return b
}

func bankResolveCmd() *cobra.Command {
	var bankCode, accountNumber string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a bank account name with the payments processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				name, err := e.ResolveBankAccount(ctx, bankCode, accountNumber)
				if err != nil {
					return err
				}
				return printJSONOrIndented(map[string]string{
					"bank_code":      bankCode,
					"account_number": accountNumber,
					"account_name":   name,
				})
			})
		},
	}
	cmd.Flags().StringVar(&bankCode, "bank-code", "", "bank code")
	cmd.Flags().StringVar(&accountNumber, "account-number", "", "account number")
	_ = cmd.MarkFlagRequired("bank-code")
	_ = cmd.MarkFlagRequired("account-number")
	return cmd
}

func apikeyCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "apikey",
		Short: "Manage vendor API keys",
	}
	a.AddCommand(apikeyCreateCmd())
	a.AddCommand(apikeyListCmd())
	a.AddCommand(apikeyDeleteCmd())
	return a
}

func apikeyCreateCmd() *cobra.Command {
	var vendorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the plaintext is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, secret, err := e.CreateAPIKey(ctx, vendorID, name)
				if err != nil {
					return err
				}
				return printJSONOrIndented(map[string]string{
					"id":         key.ID,
					"vendor_id":  key.VendorID,
					"name":       key.Name,
					"key":        secret,
					"created_at": key.CreatedAt,
				})
			})
		},
	}
	cmd.Flags().StringVar(&vendorID, "vendor", "", "vendor id")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	_ = cmd.MarkFlagRequired("vendor")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var vendorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for a vendor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, vendorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&vendorID, "vendor", "", "vendor id")
	_ = cmd.MarkFlagRequired("vendor")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var vendorID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, vendorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Vendor", "Entity"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.VendorID, evt.EntityKind})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&vendorID, "vendor", "", "vendor id filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowVendorHeader bool
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
			cfg, err := loadConfig(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:         os.Getenv("STALLFRONT_JWT_SECRET"),
				AllowVendorHeader: allowVendorHeader,
			}
			if authCfg.JWTSecret == "" && !allowVendorHeader {
				return fmt.Errorf("STALLFRONT_JWT_SECRET is required for bearer auth (or pass --dev-vendor-header)")
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
			fmt.Printf("Serving Stallfront API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowVendorHeader, "dev-vendor-header", false, "accept X-Vendor-Id as identity (dev only)")
	return cmd
}

// --- helpers ---

func loadConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("stallfront")
	}
	return cfg, nil
}

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
	cfg, err := loadConfig(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
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

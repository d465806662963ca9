package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/caresense/internal/profile"
	"github.com/hrygo/caresense/internal/version"
	"github.com/hrygo/caresense/plugin/chat_apps/channels/telegram"
	"github.com/hrygo/caresense/server"
	"github.com/hrygo/caresense/store"
	"github.com/hrygo/caresense/store/db"
)

var (
	rootCmd = &cobra.Command{
		Use:   "caresense",
		Short: `A caregiving assistant that turns family chat messages into health records, reports and alerts.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Only load .env for direct binary execution (not when running as systemd service)
			if !isRunningAsSystemdService() {
				_ = godotenv.Load()
			}
			setupLogger(viper.GetString("mode"), viper.GetString("log-level"))
			return nil
		},
		Run: func(_ *cobra.Command, _ []string) {
			instanceProfile, err := loadProfile()
			if err != nil {
				panic(err)
			}

			// SIGINT or SIGTERM starts a graceful shutdown.
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			storeInstance, err := openStore(ctx, instanceProfile)
			if err != nil {
				slog.Error("failed to open store", "error", err)
				return
			}

			s, err := server.NewServer(ctx, instanceProfile, storeInstance)
			if err != nil {
				_ = storeInstance.Close()
				slog.Error("failed to create server", "error", err)
				return
			}

			if err := s.Start(ctx); err != nil {
				slog.Error("failed to start server", "error", err)
				s.Shutdown(context.Background())
				return
			}

			printGreetings(instanceProfile)

			<-ctx.Done()
			s.Shutdown(context.Background())
		},
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			instanceProfile, err := loadProfile()
			if err != nil {
				return err
			}
			st, err := openStore(context.Background(), instanceProfile)
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Printf("Database %s is up to date (version %s)\n", instanceProfile.Driver, instanceProfile.Version)
			return nil
		},
	}

	setWebhookCmd = &cobra.Command{
		Use:   "set-webhook <url>",
		Short: "Register the Telegram webhook URL with the configured bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			instanceProfile, err := loadProfile()
			if err != nil {
				return err
			}
			if instanceProfile.TelegramBotToken == "" {
				return errors.New("CARESENSE_TELEGRAM_BOT_TOKEN is not set")
			}
			ch, err := telegram.NewTelegramChannel(&telegram.TelegramConfig{
				BotToken:      instanceProfile.TelegramBotToken,
				WebhookSecret: instanceProfile.TelegramWebhookSecret,
			})
			if err != nil {
				return err
			}
			if err := ch.SetWebhook(args[0]); err != nil {
				return fmt.Errorf("set webhook: %w", err)
			}
			fmt.Printf("Telegram webhook set to %s\n", args[0])
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(version.StringFull())
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28090)
	viper.SetDefault("log-level", "info")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28090, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")
	rootCmd.PersistentFlags().String("nlu-mode", profile.NLUModeMultiAgent, `message understanding mode, "multi_agent" or "unified"`)
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	for _, name := range []string{"mode", "addr", "port", "data", "driver", "dsn", "nlu-mode", "log-level"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("caresense")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	rootCmd.AddCommand(migrateCmd, setWebhookCmd, versionCmd)
}

func loadProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Addr:    viper.GetString("addr"),
		Port:    viper.GetInt("port"),
		Data:    viper.GetString("data"),
		Driver:  viper.GetString("driver"),
		DSN:     viper.GetString("dsn"),
		NLUMode: viper.GetString("nlu-mode"),
		Version: version.GetCurrentVersion(viper.GetString("mode")),
	}
	instanceProfile.FromEnv()
	if err := instanceProfile.Validate(); err != nil {
		return nil, err
	}
	return instanceProfile, nil
}

func openStore(ctx context.Context, p *profile.Profile) (*store.Store, error) {
	dbDriver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, fmt.Errorf("create db driver: %w", err)
	}
	st := store.New(dbDriver, p)
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

// setupLogger installs a JSON handler in prod and a text handler otherwise.
func setupLogger(mode, level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if mode == "prod" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("CareSense %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)
	fmt.Printf("NLU mode: %s\n", profile.NLUMode)
	if !profile.IsAIEnabled() {
		fmt.Println("LLM: not configured, running on patterns and canned replies")
	}

	if len(profile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}

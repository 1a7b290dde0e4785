package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/citrusframework/citrus-simulator-sub000/internal/cli"
	internal_http "github.com/citrusframework/citrus-simulator-sub000/internal/http"
	"github.com/citrusframework/citrus-simulator-sub000/internal/log"
	"github.com/citrusframework/citrus-simulator-sub000/internal/scheduler"
	internal_storage "github.com/citrusframework/citrus-simulator-sub000/internal/storage"
	"github.com/citrusframework/citrus-simulator-sub000/pkg/service"
)

var rootCmd = &cobra.Command{Use: "simulator"}

// registerScenarios is where the binary's built-in scenarios live. The echo
// scenario receives a payload, records one step and answers with the same
// payload outbound.
func registerScenarios(registry *service.ScenarioRegistry) {
	registry.Register(service.ScenarioFunc{
		ScenarioName: "echo",
		Fn: func(sc *service.ScenarioContext) error {
			payload := sc.Parameter("payload")
			if payload == "" {
				payload = "hello"
			}
			if err := sc.StartStep("echo"); err != nil {
				return err
			}
			messageID := fmt.Sprintf("echo-%d", sc.ExecutionID())
			if _, err := sc.ReceiveMessage(payload, messageID, nil); err != nil {
				return err
			}
			if _, err := sc.SendMessage(payload, messageID, nil); err != nil {
				return err
			}
			return sc.CompleteStep("echo")
		},
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulator server",
	Run: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil {
			log.GetLogger().Debugf("No .env file found: %v", err)
		}

		dbConnStr, _ := cmd.Flags().GetString("db")
		if dbConnStr == "" {
			dbConnStr = connStrFromEnv()
		}
		port, _ := cmd.Flags().GetString("port")
		if port == "" {
			port = envOr("SIM_PORT", "8080")
		}
		workers, _ := cmd.Flags().GetInt("workers")
		if workers == 0 {
			workers, _ = strconv.Atoi(envOr("SIM_WORKERS", "0"))
		}
		schedules, _ := cmd.Flags().GetStringSlice("schedule")

		store, err := internal_storage.NewPostgresStore(dbConnStr)
		if err != nil {
			log.GetLogger().Errorf("Failed to initialize store: %v", err)
			os.Exit(1)
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pool := service.NewWorkerPool(ctx, log.GetLogger())
		pool.Start(workers)

		registry := service.NewScenarioRegistry()
		registerScenarios(registry)

		coordinator := service.NewExecutionCoordinator(store, pool, registry, log.GetLogger(), service.SystemClock{})

		sched := scheduler.NewScheduler(coordinator, log.GetLogger())
		for _, s := range schedules {
			parts := strings.SplitN(s, "=", 2)
			if len(parts) != 2 {
				log.GetLogger().Errorf("Invalid schedule %q, expected name=cronspec", s)
				os.Exit(1)
			}
			if err := sched.Add(scheduler.Entry{Scenario: parts[0], Spec: parts[1]}); err != nil {
				log.GetLogger().Errorf("Invalid cron spec %q: %v", parts[1], err)
				os.Exit(1)
			}
		}
		sched.Start()

		srv := &http.Server{
			Addr:    ":" + port,
			Handler: internal_http.NewMux(store, coordinator),
		}
		go func() {
			<-ctx.Done()
			sched.Stop()
			pool.ShutdownNow()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.GetLogger().Errorf("Server shutdown: %v", err)
			}
		}()

		log.GetLogger().Infof("Starting simulator server on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.GetLogger().Errorf("Server failed: %v", err)
			os.Exit(1)
		}
	},
}

func connStrFromEnv() string {
	dbUsername := os.Getenv("DB_USERNAME")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbName := os.Getenv("DB_NAME")
	if dbUsername == "" || dbPassword == "" || dbHost == "" || dbPort == "" || dbName == "" {
		fmt.Println("Error: --db flag or complete DB_* env vars (DB_USERNAME, DB_PASSWORD, DB_HOST, DB_PORT, DB_NAME) required")
		os.Exit(1)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbUsername, dbPassword, dbHost, dbPort, dbName)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	rootCmd.PersistentFlags().String("db", "", "Database connection string (optional if DB_* env vars are set)")
	serveCmd.Flags().String("port", "", "HTTP port (default SIM_PORT or 8080)")
	serveCmd.Flags().Int("workers", 0, "Worker pool size (default SIM_WORKERS or NumCPU)")
	serveCmd.Flags().StringSlice("schedule", nil, "Scheduled scenario as name=cronspec (repeatable)")
	rootCmd.AddCommand(serveCmd)

	registry := service.NewScenarioRegistry()
	registerScenarios(registry)
	cli.SetupCLI(rootCmd, registry)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

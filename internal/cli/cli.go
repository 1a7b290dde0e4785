package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/citrusframework/citrus-simulator-sub000/internal/log"
	internal_storage "github.com/citrusframework/citrus-simulator-sub000/internal/storage"
	"github.com/citrusframework/citrus-simulator-sub000/pkg/service"
	"github.com/spf13/cobra"
)

// SetupCLI adds the run/list/show commands. The registry carries the
// scenarios the binary compiled in; run resolves against it.
func SetupCLI(rootCmd *cobra.Command, registry *service.ScenarioRegistry) {
	runCmd := &cobra.Command{
		Use:   "run [scenario]",
		Short: "Run a registered scenario and wait for its terminal state",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			dbConnStr, err := cmd.Flags().GetString("db")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving db flag: %v", err)
				os.Exit(1)
			}
			params, err := cmd.Flags().GetStringSlice("param")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving param flag: %v", err)
				os.Exit(1)
			}
			timeout, err := cmd.Flags().GetDuration("timeout")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving timeout flag: %v", err)
				os.Exit(1)
			}
			store := initStore(dbConnStr)
			defer store.Close()

			pool := service.NewWorkerPool(context.Background(), log.GetLogger())
			pool.Start(1)
			defer pool.ShutdownNow()

			coordinator := service.NewExecutionCoordinator(store, pool, registry, log.GetLogger(), service.SystemClock{})
			runScenario(coordinator, store, args[0], parseParams(params), timeout)
		},
	}
	runCmd.Flags().StringSlice("param", nil, "Scenario parameter as key=value (repeatable)")
	runCmd.Flags().Duration("timeout", 30*time.Second, "How long to wait for the execution to finish")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all scenario executions",
		Run: func(cmd *cobra.Command, args []string) {
			dbConnStr, err := cmd.Flags().GetString("db")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving db flag: %v", err)
				os.Exit(1)
			}
			store := initStore(dbConnStr)
			defer store.Close()
			listExecutions(store)
		},
	}

	showCmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show one execution with its actions and messages",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			dbConnStr, err := cmd.Flags().GetString("db")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving db flag: %v", err)
				os.Exit(1)
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing id as number: %v\n", err)
				os.Exit(1)
			}
			store := initStore(dbConnStr)
			defer store.Close()
			showExecution(store, id)
		},
	}

	rootCmd.AddCommand(runCmd, listCmd, showCmd)
}

func runScenario(coordinator *service.ExecutionCoordinator, store *internal_storage.PostgresStore, name string, parameters map[string]string, timeout time.Duration) {
	id, err := coordinator.Run(name, parameters)
	if err != nil {
		log.GetLogger().Errorf("Failed to run scenario: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to run scenario '%s': %v\n", name, err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "Started scenario '%s' as execution %d\n", name, id)

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		e, err := store.GetExecution(id)
		if err != nil {
			log.GetLogger().Errorf("Failed to read execution %d: %v", id, err)
			os.Exit(1)
		}
		if e.Terminal() {
			fmt.Fprintf(os.Stdout, "Execution %d finished with status %s\n", id, e.Status)
			if e.ErrorMessage != "" {
				fmt.Fprintf(os.Stdout, "Error: %s\n", e.ErrorMessage)
			}
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Fprintf(os.Stderr, "Execution %d still running after %s\n", id, timeout)
	os.Exit(1)
}

func listExecutions(store *internal_storage.PostgresStore) {
	executions, err := store.ListExecutions()
	if err != nil {
		log.GetLogger().Errorf("Failed to list executions: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to list executions: %v\n", err)
		os.Exit(1)
	}
	if len(executions) == 0 {
		fmt.Fprintf(os.Stdout, "No executions found.\n")
		return
	}
	fmt.Fprintf(os.Stdout, "Executions:\n")
	for _, e := range executions {
		end := "-"
		if e.EndDate != nil {
			end = e.EndDate.Format(time.RFC3339)
		}
		fmt.Fprintf(os.Stdout, "- ID: %d, Scenario: %s, Status: %s, Started: %s, Ended: %s\n",
			e.ID, e.ScenarioName, e.Status, e.StartDate.Format(time.RFC3339), end)
	}
}

func showExecution(store *internal_storage.PostgresStore, id int64) {
	e, err := store.GetExecutionFull(id)
	if err != nil {
		log.GetLogger().Errorf("Failed to get execution %d: %v", id, err)
		fmt.Fprintf(os.Stderr, "Error: failed to get execution %d: %v\n", id, err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "Execution %d: scenario=%s status=%s\n", e.ID, e.ScenarioName, e.Status)
	for _, p := range e.Parameters {
		fmt.Fprintf(os.Stdout, "  param %s=%s\n", p.Name, p.Value)
	}
	for _, a := range e.Actions {
		end := "open"
		if a.EndDate != nil {
			end = a.EndDate.Format(time.RFC3339)
		}
		fmt.Fprintf(os.Stdout, "  action %s: started %s, ended %s\n", a.Name, a.StartDate.Format(time.RFC3339), end)
	}
	for _, m := range e.Messages {
		fmt.Fprintf(os.Stdout, "  message %s (%s): %s\n", m.CitrusMessageID, m.Direction, m.Payload)
	}
	if e.TestResult != nil {
		fmt.Fprintf(os.Stdout, "  result: %s\n", e.TestResult.Status)
	}
}

func parseParams(params []string) map[string]string {
	out := make(map[string]string, len(params))
	for _, p := range params {
		parts := strings.SplitN(p, "=", 2)
		if len(parts) == 2 {
			out[parts[0]] = parts[1]
		}
	}
	return out
}

func initStore(dbConnStr string) *internal_storage.PostgresStore {
	store, err := internal_storage.NewPostgresStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	return store
}

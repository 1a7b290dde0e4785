package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/citrusframework/citrus-simulator-sub000/internal/log"
	"github.com/citrusframework/citrus-simulator-sub000/pkg/service"
	"github.com/citrusframework/citrus-simulator-sub000/pkg/storage"
	"github.com/pkg/errors"
)

// NewMux wires the read-side API and the manual scenario trigger. Readers go
// straight to the store; a reader observing an execution mid-flight may see
// a partial action/message list until the status is terminal.
func NewMux(store storage.Store, coordinator *service.ExecutionCoordinator) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/executions", ExecutionsHandler(store))
	mux.HandleFunc("/executions/", ExecutionByIDHandler(store))
	mux.HandleFunc("/scenarios/", ScenarioLaunchHandler(coordinator))
	return mux
}

// StartServer runs the HTTP API on the given port.
func StartServer(port string, store storage.Store, coordinator *service.ExecutionCoordinator) error {
	log.GetLogger().Infof("Starting simulator server on :%s", port)
	return http.ListenAndServe(":"+port, NewMux(store, coordinator))
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "Simulator server is running")
}

// ExecutionsHandler lists all scenario executions.
func ExecutionsHandler(store storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		executions, err := store.ListExecutions()
		if err != nil {
			log.GetLogger().Errorf("Failed to list executions: %v", err)
			http.Error(w, fmt.Sprintf("Failed to list executions: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, executions)
	}
}

// ExecutionByIDHandler returns one execution eagerly, with actions, messages
// and the test result.
func ExecutionByIDHandler(store storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		idStr := strings.TrimPrefix(r.URL.Path, "/executions/")
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			http.Error(w, "Invalid execution id", http.StatusBadRequest)
			return
		}
		execution, err := store.GetExecutionFull(id)
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, fmt.Sprintf("No execution with id %d", id), http.StatusNotFound)
			return
		}
		if err != nil {
			log.GetLogger().Errorf("Failed to get execution %d: %v", id, err)
			http.Error(w, fmt.Sprintf("Failed to get execution: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, execution)
	}
}

// ScenarioLaunchHandler is the manual trigger: POST /scenarios/{name}/launch
// reserves and dispatches the named scenario and returns the execution id
// immediately, before the scenario body has run. Form and query values
// become scenario parameters.
func ScenarioLaunchHandler(coordinator *service.ExecutionCoordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !strings.HasSuffix(r.URL.Path, "/launch") {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/scenarios/"), "/launch")
		if name == "" || strings.Contains(name, "/") {
			http.Error(w, "Missing scenario name", http.StatusBadRequest)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid parameters", http.StatusBadRequest)
			return
		}
		parameters := make(map[string]string, len(r.Form))
		for key := range r.Form {
			parameters[key] = r.Form.Get(key)
		}
		id, err := coordinator.Run(name, parameters)
		if errors.Is(err, service.ErrScenarioNotFound) {
			http.Error(w, fmt.Sprintf("No scenario registered with name '%s'", name), http.StatusNotFound)
			return
		}
		if err != nil {
			log.GetLogger().Errorf("Failed to launch scenario '%s': %v", name, err)
			http.Error(w, fmt.Sprintf("Failed to launch scenario: %v", err), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		if err := json.NewEncoder(w).Encode(map[string]int64{"execution_id": id}); err != nil {
			log.GetLogger().Errorf("Failed to encode response: %v", err)
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

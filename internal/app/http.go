package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"content-router/internal/common/logging"
	"content-router/internal/common/pagination"
	"content-router/internal/routing"
	"content-router/internal/storage"
)

const userIDHeader = "X-User-ID"

// Routes builds the HTTP surface. Authentication happens upstream; the
// caller's identity arrives in the X-User-ID header.
func (a *App) Routes() *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/items/{id}/distribute", a.handleDistributeItem).Methods("POST")
	api.HandleFunc("/redistribute", a.handleRedistribute).Methods("POST")
	api.HandleFunc("/distributions", a.handleListDistributions).Methods("GET")

	router.HandleFunc("/health", a.handleHealth).Methods("GET")
	return router
}

func (a *App) handleDistributeItem(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		http.Error(w, "missing "+userIDHeader+" header", http.StatusUnauthorized)
		return
	}
	itemID := mux.Vars(r)["id"]

	summary, err := a.DistributeItem(r.Context(), userID, itemID)
	if err != nil {
		if errors.Is(err, routing.ErrItemNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("distribution failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

type redistributeRequest struct {
	RoutingStatus string `json:"routing_status,omitempty"`
	Category      string `json:"category,omitempty"`
	CreatedAfter  string `json:"created_after,omitempty"`
	CreatedBefore string `json:"created_before,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

func (a *App) handleRedistribute(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		http.Error(w, "missing "+userIDHeader+" header", http.StatusUnauthorized)
		return
	}

	var req redistributeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
			return
		}
	}

	filters, err := req.toFilters()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job, err := a.Batch.Redistribute(r.Context(), userID, filters)
	if err != nil {
		http.Error(w, fmt.Sprintf("redistribution failed to start: %v", err), http.StatusInternalServerError)
		return
	}

	a.Logger.Info("redistribution triggered",
		logging.String("user_id", userID),
		logging.String("job_id", job.ID))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(job)
}

func (req *redistributeRequest) toFilters() (storage.ItemFilters, error) {
	filters := storage.ItemFilters{
		RoutingStatus: storage.RoutingStatus(req.RoutingStatus),
		Category:      req.Category,
		Limit:         req.Limit,
	}
	if req.CreatedAfter != "" {
		after, err := time.Parse(time.RFC3339, req.CreatedAfter)
		if err != nil {
			return filters, fmt.Errorf("invalid created_after: %v", err)
		}
		filters.CreatedAfter = &after
	}
	if req.CreatedBefore != "" {
		before, err := time.Parse(time.RFC3339, req.CreatedBefore)
		if err != nil {
			return filters, fmt.Errorf("invalid created_before: %v", err)
		}
		filters.CreatedBefore = &before
	}
	return filters, nil
}

func (a *App) handleListDistributions(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		http.Error(w, "missing "+userIDHeader+" header", http.StatusUnauthorized)
		return
	}

	window := pagination.FromQuery(r.URL.Query())

	results, err := a.Store.ListDistributionResults(userID, window.Limit(), window.Offset())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to list distributions: %v", err), http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []*storage.DistributionResult{}
	}

	total, err := a.Store.CountDistributionResults(userID)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to count distributions: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pagination.NewPage(window, results, total))
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK

	if err := a.Store.Health(); err != nil {
		status["status"] = "degraded"
		status["storage"] = err.Error()
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

package control

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/core-tools/hsu-supervisor-go/pkg/diagnostics"
	"github.com/core-tools/hsu-supervisor-go/pkg/domain"
	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"

	"github.com/gorilla/mux"
)

const defaultRunsLimit = 50

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status   string                    `json:"status"`
	Time     time.Time                 `json:"time"`
	Platform string                    `json:"platform"`
	Host     *diagnostics.HostSnapshot `json:"host,omitempty"`
	Error    string                    `json:"error,omitempty"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

type handler struct {
	contract domain.Contract
	logger   logging.Logger
}

// NewRouter serves the contract over HTTP. metricsHandler may be nil.
func NewRouter(contract domain.Contract, metricsHandler http.Handler, logger logging.Logger) *mux.Router {
	h := &handler{
		contract: contract,
		logger:   logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", h.health).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/apps", h.listApps).Methods(http.MethodGet)
	api.HandleFunc("/apps/{name}", h.getApp).Methods(http.MethodGet)
	api.HandleFunc("/apps/{name}/runs", h.listRuns).Methods(http.MethodGet)
	api.HandleFunc("/apps/{name}/{action:start|stop|restart|reset}", h.appAction).Methods(http.MethodPost)

	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	router.Use(h.logRequests)
	return router
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debugf("%s %s handled in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:   "ok",
		Time:     time.Now(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	}

	if err := h.contract.Ping(r.Context()); err != nil {
		response.Status = "unavailable"
		response.Error = err.Error()
		h.writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}

	if host, err := diagnostics.CollectHost(r.Context()); err == nil {
		response.Host = &host
	} else {
		h.logger.Debugf("Failed to collect host diagnostics: %v", err)
	}

	h.writeJSON(w, http.StatusOK, response)
}

func (h *handler) listApps(w http.ResponseWriter, r *http.Request) {
	apps, err := h.contract.ListApps(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, apps)
}

func (h *handler) getApp(w http.ResponseWriter, r *http.Request) {
	app, err := h.contract.GetApp(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, app)
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			h.writeError(w, errors.NewValidationError("limit must be a positive integer", err).WithContext("limit", value))
			return
		}
		limit = parsed
	}

	runs, err := h.contract.ListRuns(r.Context(), mux.Vars(r)["name"], limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, runs)
}

func (h *handler) appAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, action := vars["name"], vars["action"]

	var operation func(ctx context.Context, name string) error
	switch action {
	case "start":
		operation = h.contract.StartApp
	case "stop":
		operation = h.contract.StopApp
	case "restart":
		operation = h.contract.RestartApp
	case "reset":
		operation = h.contract.ResetApp
	}

	if err := operation(r.Context(), name); err != nil {
		h.logger.Warnf("App %s %s failed: %v", name, action, err)
		h.writeError(w, err)
		return
	}

	app, err := h.contract.GetApp(r.Context(), name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, app)
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warnf("Failed to write response: %v", err)
	}
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, statusCode(err), ErrorResponse{
		Error: err.Error(),
		Type:  string(errors.GetType(err)),
	})
}

func statusCode(err error) int {
	switch {
	case errors.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.IsValidationError(err), errors.IsConflictError(err):
		return http.StatusConflict
	case errors.IsTimeoutError(err), errors.IsCancelledError(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

package app

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/drblury/eventflow/internal/runtime/jsoncodec"
)

// APIDependencies are the collaborators of the HTTP API.
type APIDependencies struct {
	Users     *UserService
	Orders    *OrderService
	Analytics *Analytics
	// State reports the bus lifecycle state for /health.
	State func() string
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
}

type api struct {
	deps APIDependencies
	now  func() time.Time
}

// NewAPI builds the chi router of the demo application.
func NewAPI(deps APIDependencies) http.Handler {
	a := &api{deps: deps, now: time.Now}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", a.handleHealth)
	r.Post("/users", a.handleRegisterUser)
	r.Put("/users/{userId}", a.handleUpdateProfile)
	r.Post("/orders", a.handleCreateOrder)
	r.Put("/orders/{orderId}/complete", a.handleCompleteOrder)
	if deps.Analytics != nil {
		r.Get("/analytics", a.handleAnalytics)
	}
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}
	return r
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{
		"status":    "healthy",
		"timestamp": a.now().UTC().Format(time.RFC3339Nano),
	}
	if a.deps.State != nil {
		body["bus"] = a.deps.State()
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *api) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var in RegisterUserInput
	if !decodeBody(w, r, &in) {
		return
	}
	user, err := a.deps.Users.Register(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *api) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	updates := map[string]any{}
	if !decodeBody(w, r, &updates) {
		return
	}
	update, err := a.deps.Users.UpdateProfile(r.Context(), chi.URLParam(r, "userId"), updates)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, update)
}

func (a *api) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var in CreateOrderInput
	if !decodeBody(w, r, &in) {
		return
	}
	order, err := a.deps.Orders.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *api) handleCompleteOrder(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID string `json:"userId"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	order, err := a.deps.Orders.Complete(r.Context(), chi.URLParam(r, "orderId"), in.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *api) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.Analytics.Snapshot())
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if err := jsoncodec.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, ErrUserIDRequired) || errors.Is(err, ErrOrderIDRequired) {
		status = http.StatusBadRequest
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsoncodec.Encode(w, payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

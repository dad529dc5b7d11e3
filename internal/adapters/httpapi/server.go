// Package httpapi exposes the account session over a local HTTP control API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/bnema/kaidan/internal/application"
	"github.com/bnema/kaidan/internal/domain"
	"github.com/bnema/kaidan/internal/events"
	kaidanlog "github.com/bnema/kaidan/internal/log"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Controller is the part of the application service the API drives.
type Controller interface {
	GetStatus(ctx context.Context) (application.Status, error)
	SetCredentials(cmd application.LoginCommand) error
	LogIn()
	LogOut()
	LogInByURI(raw string) domain.LoginByURIState
	SyncRoster(ctx context.Context)
	RosterEntries(ctx context.Context) ([]application.RosterEntry, error)
	AddContact(ctx context.Context, cmd application.ContactCommand) error
	RenameContact(ctx context.Context, jid, name string) error
	RemoveContact(ctx context.Context, jid string) error
}

type Handler struct {
	controller Controller
	bus        *events.Bus
	logger     zerolog.Logger
}

func NewHandler(controller Controller, bus *events.Bus) *Handler {
	return &Handler{
		controller: controller,
		bus:        bus,
		logger:     kaidanlog.WithComponent("httpapi"),
	}
}

// Router builds the chi router with every route mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/events", h.streamEvents)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Post("/login", h.login)
		r.Post("/logout", h.logout)
		r.Get("/roster", h.roster)
		r.Post("/roster/sync", h.syncRoster)
		r.Post("/roster/contacts", h.addContact)
		r.Put("/roster/contacts/{jid}", h.renameContact)
		r.Delete("/roster/contacts/{jid}", h.removeContact)
	})

	return r
}

// Serve runs an HTTP server on addr until ctx is done.
func (h *Handler) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	return h.serve(ctx, ln)
}

// serve ties every request context to ctx, so long-lived event streams end
// with the server even though Shutdown does not track hijacked connections.
func (h *Handler) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info().Str("addr", ln.Addr().String()).Msg("control api listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chiMiddleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	status, err := h.controller.GetStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, NewStatusResponse(status))
}

type loginRequest struct {
	JID      string `json:"jid"`
	Password string `json:"password"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	URI      string `json:"uri,omitempty"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	switch {
	case req.URI != "":
		state := h.controller.LogInByURI(req.URI)
		code := http.StatusAccepted
		if state == domain.LoginByURIInvalid {
			code = http.StatusBadRequest
		}
		writeJSON(w, code, map[string]string{"result": state.String()})
		return
	case req.JID != "" || req.Password != "":
		cmd := application.LoginCommand{JID: req.JID, Password: req.Password, Host: req.Host, Port: req.Port}
		if err := h.controller.SetCredentials(cmd); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	h.controller.LogIn()
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) logout(w http.ResponseWriter, _ *http.Request) {
	h.controller.LogOut()
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) roster(w http.ResponseWriter, r *http.Request) {
	entries, err := h.controller.RosterEntries(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := make([]ContactResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, NewContactResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) syncRoster(w http.ResponseWriter, r *http.Request) {
	h.controller.SyncRoster(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

type contactRequest struct {
	JID     string `json:"jid"`
	Name    string `json:"name"`
	Message string `json:"message,omitempty"`
}

// addContact, renameContact and removeContact only queue the change. The
// outcome arrives on /events as contact_updated, contact_removed or
// contact_change_failed.
func (h *Handler) addContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cmd := application.ContactCommand{JID: req.JID, Name: req.Name, Message: req.Message}
	h.writeRosterChange(w, h.controller.AddContact(r.Context(), cmd))
}

func (h *Handler) renameContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	h.writeRosterChange(w, h.controller.RenameContact(r.Context(), chi.URLParam(r, "jid"), req.Name))
}

func (h *Handler) removeContact(w http.ResponseWriter, r *http.Request) {
	h.writeRosterChange(w, h.controller.RemoveContact(r.Context(), chi.URLParam(r, "jid")))
}

func (h *Handler) writeRosterChange(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidJID):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

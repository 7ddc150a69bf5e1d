// Package webhook hosts the payment provider callback and a small
// basic-auth operator API.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/everwear/tryonbot/internal/payment"
	"github.com/everwear/tryonbot/internal/repository"
	"github.com/everwear/tryonbot/internal/service"
)

type Server struct {
	addr         string
	username     string
	password     string
	secret       string
	log          *slog.Logger
	users        *repository.UserRepository
	entitlements *service.EntitlementService
	payments     *service.PaymentService
	sender       service.Sender
	notifier     service.Notifier
	router       *chi.Mux
}

func NewServer(addr, username, password, secret string, log *slog.Logger, users *repository.UserRepository, entitlements *service.EntitlementService, payments *service.PaymentService, sender service.Sender, notifier service.Notifier) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:         addr,
		username:     username,
		password:     password,
		secret:       secret,
		log:          log,
		users:        users,
		entitlements: entitlements,
		payments:     payments,
		sender:       sender,
		notifier:     notifier,
		router:       r,
	}
	r.Post("/webhook/yoomoney", s.handlePaymentNotification)
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Post("/broadcast", s.handleBroadcast)
		protected.Route("/users/{id}", func(r chi.Router) {
			r.Get("/entitlement", s.handleGetEntitlement)
			r.Post("/grant", s.handleGrant)
		})
	})
	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("webhook shutdown error", "err", err)
		}
	}()

	s.log.Info("webhook server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook listen: %w", err)
	}
	return nil
}

// handlePaymentNotification verifies the provider signature before any
// reconciliation happens. Malformed-but-authentic payloads are reported to
// the operator and acknowledged so the provider stops redelivering them.
func (s *Server) handlePaymentNotification(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	form := r.PostForm

	if err := payment.VerifySignature(form, s.secret); err != nil {
		s.log.Error("payment signature rejected", "operation", form.Get("operation_id"))
		http.Error(w, "bad signature", http.StatusBadRequest)
		return
	}

	n, err := payment.ParseNotification(form)
	if err != nil {
		s.log.Error("payment notification rejected", "err", err)
		s.notifier.Notify(fmt.Sprintf("Некорректное платёжное уведомление: %v", err))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}

	if err := s.payments.HandleNotification(r.Context(), n); err != nil {
		s.log.Error("payment reconciliation failed", "operation", n.OperationID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type entitlementResponse struct {
	UserID    int64 `json:"user_id"`
	PaidTries int   `json:"paid_tries"`
	FreeUsed  bool  `json:"free_used"`
}

func (s *Server) handleGetEntitlement(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	user, err := s.users.Find(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	resp := entitlementResponse{UserID: id}
	if user != nil {
		resp.PaidTries = user.PaidTries
		resp.FreeUsed = user.FreeUsed
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type grantRequest struct {
	Credits int `json:"credits"`
}

// handleGrant is the operator escape hatch for payments the reconciler
// could not apply automatically.
func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Credits <= 0 {
		http.Error(w, "credits must be positive", http.StatusBadRequest)
		return
	}
	if err := s.entitlements.Grant(r.Context(), id, req.Credits); err != nil {
		s.internalError(w, err)
		return
	}
	s.sender.SendText(id, fmt.Sprintf("Вам начислено %d примерок.", req.Credits))
	w.WriteHeader(http.StatusNoContent)
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	ids, err := s.users.ListUserIDs(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	for _, id := range ids {
		s.sender.SendText(id, req.Message)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"total": len(ids)})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="tryonbot"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("webhook handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}

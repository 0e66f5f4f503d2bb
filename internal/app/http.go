package app

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"chatnav/internal/chatid"
	"chatnav/internal/chatstate"
)

type HTTPServer struct {
	service  *Service
	apiToken string
	logger   zerolog.Logger
}

func NewHTTPServer(service *Service, apiToken string, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, apiToken: apiToken, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)

		r.Get("/api/chat", s.handleChat)
		r.Post("/api/navigate", s.handleNavigate)
		r.Post("/api/sync", s.handleSync)
		r.Post("/api/handoff", s.handlePublishHandoff)
		r.Post("/api/handoff/consume", s.handleConsumeHandoff)
		r.Post("/api/links", s.handleCreateLink)
		r.Get("/api/links/{token}", s.handleResolveLink)
		r.Get("/api/settings", s.handleGetSettings)
		r.Put("/api/settings", s.handlePutSettings)
		r.Post("/api/copy", s.handleCopy)
		r.Post("/api/open-tab", s.handleOpenTab)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

type chatPayload struct {
	Chat *chatid.Identity `json:"chat,omitempty"`
}

func chatResponse(state chatstate.State) map[string]any {
	return map[string]any{
		"chat":        state.Identity,
		"displayName": state.DisplayName,
		"query":       chatid.Encode(state.Identity),
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"redis": map[string]any{"status": "ok"},
		"host":  map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["redis"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	if !s.service.Ready() {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["host"] = map[string]any{"status": "loading"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleChat(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.CurrentChat(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	response := chatResponse(state)
	response["lock"] = s.service.Lock()
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var body chatPayload
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.Chat == nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "chat is required", nil)
		return
	}
	if err := s.service.Navigate(r.Context(), *body.Chat); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "chat": body.Chat.Normalize()})
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.service.Sync(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": outcome})
}

func (s *HTTPServer) handlePublishHandoff(w http.ResponseWriter, r *http.Request) {
	var body chatPayload
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	id, err := s.service.PublishHandoff(r.Context(), body.Chat)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"chat": id})
}

func (s *HTTPServer) handleConsumeHandoff(w http.ResponseWriter, r *http.Request) {
	id, ok, err := s.service.ConsumeHandoff(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"chat": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": id})
}

func (s *HTTPServer) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	var body chatPayload
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	token, url, err := s.service.ShareLink(r.Context(), body.Chat)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token": token, "url": url})
}

func (s *HTTPServer) handleResolveLink(w http.ResponseWriter, r *http.Request) {
	id, err := s.service.ResolveShortLink(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": id, "query": chatid.Encode(id)})
}

func (s *HTTPServer) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Settings())
}

func (s *HTTPServer) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	next := s.service.Settings()
	if err := decodeBody(r, &next); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	applied, err := s.service.UpdateSettings(r.Context(), next)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, applied)
}

func (s *HTTPServer) handleCopy(w http.ResponseWriter, r *http.Request) {
	url, err := s.service.CopyURL(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

func (s *HTTPServer) handleOpenTab(w http.ResponseWriter, r *http.Request) {
	url, err := s.service.OpenInNewTab(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r)
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.apiToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		writer.Header().Set("Cache-Control", "no-store")
		writer.Header().Set("Content-Type", "application/json")
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.Status()).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request completed")
	})
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// decodeBody fills target from a JSON body; an empty body leaves it untouched.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, chatid.ErrInvalidIdentity) {
			return err
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, chatid.ErrInvalidIdentity) {
		return http.StatusBadRequest, "INVALID_CHAT", err.Error(), nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "TIMEOUT", "Timed out", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

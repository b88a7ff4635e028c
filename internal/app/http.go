package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"billfeed/api/internal/auth"
	"billfeed/api/internal/logger"
	"billfeed/api/internal/search"
)

const syncTokenHeader = "X-Billfeed-Sync-Token"

type HTTPServer struct {
	service    *Service
	corsOrigin string
	metrics    http.Handler
}

func NewHTTPServer(service *Service, corsOrigin string, metrics http.Handler) *HTTPServer {
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, metrics: metrics}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.metrics.ServeHTTP(w, r)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 1 && parts[0] == "ls" {
		s.handleLegiScan(w, r, parts[1:])
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/feed" {
		entries, err := s.service.FeedByDate(r.Context(), strings.TrimSpace(r.URL.Query().Get("date")))
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": entries})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/feed/search" {
		query := r.URL.Query()
		resp, err := s.service.SearchFeed(r.Context(), search.Query{
			Text:            strings.TrimSpace(query.Get("q")),
			FilterType:      search.ResultType(query.Get("type")),
			FilterBillID:    query.Get("billId"),
			FilterEventType: query.Get("eventType"),
			Limit:           queryInt(query.Get("limit"), 20),
			Offset:          queryInt(query.Get("offset"), 0),
		})
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if len(parts) == 5 && parts[0] == "api" && parts[1] == "bills" && r.Method == http.MethodGet {
		var (
			doc json.RawMessage
			err error
		)
		switch parts[3] {
		case "snapshots":
			doc, err = s.service.BillSnapshot(r.Context(), parts[2], parts[4])
		case "payloads":
			doc, err = s.service.RawPayload(r.Context(), parts[2], parts[4])
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
			return
		}
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "bills" && r.Method == http.MethodGet {
		billID := parts[2]
		switch parts[3] {
		case "feed":
			entries, err := s.service.Feed(r.Context(), billID)
			if err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"billId": billID, "items": entries})
			return
		case "history":
			commits, err := s.service.BillHistory(r.Context(), billID, queryInt(r.URL.Query().Get("limit"), 50))
			if err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"billId": billID, "items": commits})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}

	if s.service.CacheConfigured() {
		checks["redis"] = map[string]any{"status": "ok"}
		if err := s.service.PingCache(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["redis"] = map[string]any{"status": "error", "error": err.Error()}
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleLegiScan(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case r.Method == http.MethodPost && len(parts) == 2 && parts[0] == "save":
		if !s.authorizeSync(w, r) {
			return
		}
		result, err := s.service.SaveBill(r.Context(), parts[1])
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case r.Method == http.MethodPost && len(parts) == 2 && parts[0] == "saveRollCall":
		if !s.authorizeSync(w, r) {
			return
		}
		result, err := s.service.SaveRollCall(r.Context(), parts[1], true)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case r.Method == http.MethodGet && len(parts) >= 2 && parts[0] == "bill":
		bill, err := s.service.GetBill(r.Context(), parts[1])
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, bill)

	case r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "search":
		query := r.URL.Query()
		items, total, err := s.service.SearchBills(r.Context(), query.Get("filter"), queryInt(query.Get("page"), 1))
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		w.Header().Set("X-Total-Count", strconv.Itoa(total))
		writeJSON(w, http.StatusOK, items)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

// authorizeSync guards write routes when a sync token is configured.
func (s *HTTPServer) authorizeSync(w http.ResponseWriter, r *http.Request) bool {
	presented := r.Header.Get(syncTokenHeader)
	if err := auth.VerifySyncToken(s.service.SyncToken(), presented); err != nil {
		attrs := []any{"error", err}
		if errors.Is(err, auth.ErrInvalidToken) {
			attrs = append(attrs, "token", auth.Fingerprint(presented))
		}
		slog.WarnContext(r.Context(), "sync request rejected", attrs...)
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return false
	}
	return true
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "code", code, "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := logger.WithLogFields(r.Context(), logger.LogFields{RequestID: requestID})
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		slog.InfoContext(ctx, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, "+syncTokenHeader)
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "X-Total-Count, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

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

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stratoquery/oracle/internal/domain"
	"github.com/stratoquery/oracle/internal/provider"
)

// QueryRequest is the POST /v1/query body. Optional fields fall back to the
// configured defaults.
type QueryRequest struct {
	Query           string   `json:"query"`
	Sources         []string `json:"sources,omitempty"`
	ConsensusMethod string   `json:"consensusMethod,omitempty"`
	TimeoutMS       int64    `json:"timeoutMs,omitempty"`
	CacheTimeMS     int64    `json:"cacheTimeMs,omitempty"`
}

// ProviderInfo is one provider's registry entry with live counters
type ProviderInfo struct {
	Name        string                   `json:"name"`
	Weight      float64                  `json:"weight"`
	Reliability float64                  `json:"reliability"`
	Metrics     provider.MetricsSnapshot `json:"metrics"`
	Cache       provider.CacheStats      `json:"cache"`
}

// ProvidersResponse lists registered providers sorted by name
type ProvidersResponse struct {
	Providers []ProviderInfo `json:"providers"`
	Count     int            `json:"count"`
}

// HealthResponse reports per-provider probe outcomes
type HealthResponse struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Providers map[string]bool `json:"providers"`
}

// ErrorResponse is the standardized error body
type ErrorResponse struct {
	Error        string            `json:"error"`
	Message      string            `json:"message"`
	Code         string            `json:"code"`
	RequestID    string            `json:"requestId"`
	RawResponses []domain.Response `json:"rawResponses,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// handleQuery runs one oracle query and returns the consensus result
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "query text is required")
		return
	}
	if req.TimeoutMS < 0 || req.CacheTimeMS < 0 {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "timeoutMs and cacheTimeMs must not be negative")
		return
	}

	opts := domain.Options{
		Sources:   req.Sources,
		Timeout:   time.Duration(req.TimeoutMS) * time.Millisecond,
		CacheTime: time.Duration(req.CacheTimeMS) * time.Millisecond,
	}
	if req.ConsensusMethod != "" {
		method, err := domain.ParseMethod(req.ConsensusMethod)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, string(domain.FailUnsupportedMethod),
				fmt.Sprintf("unknown consensus method %q", req.ConsensusMethod))
			return
		}
		opts.ConsensusMethod = method
	}

	result, err := s.oracle.Query(r.Context(), req.Query, opts)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleProviders handles GET /v1/providers
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	records := s.oracle.Providers()

	infos := make([]ProviderInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, ProviderInfo{
			Name:        rec.Name(),
			Weight:      rec.Weight(),
			Reliability: rec.Provider().Reliability(),
			Metrics:     rec.Metrics().Snapshot(),
			Cache:       rec.Cache().Stats(),
		})
	}

	s.writeJSON(w, http.StatusOK, ProvidersResponse{Providers: infos, Count: len(infos)})
}

// handleHealth handles GET /v1/health. The endpoint always answers 200; the
// status field says whether any provider failed its probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.oracle.HealthCheckAll(r.Context())

	status := "healthy"
	for _, ok := range health {
		if !ok {
			status = "degraded"
			break
		}
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Providers: health,
	})
}

// handleNotFound handles 404 responses. NotFoundHandler bypasses the
// middleware chain, so the content type is set here.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.writeError(w, r, http.StatusNotFound, "endpoint_not_found", "the requested endpoint does not exist")
}

// writeQueryError maps a query failure onto an HTTP status and keeps the raw
// responses in the body so callers can see what consensus had to work with
func (s *Server) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.FailureKindOf(err)
	status := statusForFailure(kind)

	resp := ErrorResponse{
		Error:     http.StatusText(status),
		Message:   err.Error(),
		Code:      string(kind),
		RequestID: requestID(r),
		Timestamp: time.Now().UTC(),
	}
	var qe *domain.QueryError
	if errors.As(err, &qe) {
		resp.Message = qe.Message
		resp.RawResponses = qe.RawResponses
	}

	s.writeJSON(w, status, resp)
}

func statusForFailure(kind domain.FailureKind) int {
	switch kind {
	case domain.FailUnsupportedMethod:
		return http.StatusBadRequest
	case domain.FailInsufficientProviders, domain.FailInsufficientResponses:
		return http.StatusUnprocessableEntity
	case domain.FailTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// writeJSON writes a JSON response with proper error handling
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("response encoding failed")
	}
}

// writeError writes a standardized error response
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	s.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID(r),
		Timestamp: time.Now().UTC(),
	})
}

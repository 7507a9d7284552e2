package api

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iacondiego/demo-agente-n8n/internal/correlation"
	"github.com/iacondiego/demo-agente-n8n/internal/ratelimit"
)

const (
	// maxCallbackBody caps the engine callback payload.
	maxCallbackBody = 10 << 10 // 10 KiB
	// stalenessLimit rejects callbacks whose timestamp is too far in the past.
	stalenessLimit = 5 * time.Minute
)

// blockedAgents are user-agent substrings denied outright.
var blockedAgents = []string{"scanner", "exploit", "hack", "attack", "malware"}

var securityHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"X-XSS-Protection":        "1; mode=block",
	"Referrer-Policy":         "strict-origin-when-cross-origin",
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none';",
}

// callbackRequest is the JSON body of POST /api/webhook/response. Required
// fields are pointers so that absence survives decoding.
type callbackRequest struct {
	SessionID *string                 `json:"sessionId"`
	UserID    string                  `json:"userId"`
	Response  *string                 `json:"response"`
	Success   *bool                   `json:"success"`
	Error     string                  `json:"error"`
	Data      *correlation.ResultData `json:"data"`
	Timestamp string                  `json:"timestamp"`
}

type callbackAccepted struct {
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	SessionID  string    `json:"sessionId"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type pollEmptyResponse struct {
	HasResponse bool   `json:"hasResponse"`
	Message     string `json:"message"`
}

type pollDeliveredResponse struct {
	HasResponse bool                    `json:"hasResponse"`
	Response    string                  `json:"response"`
	Success     bool                    `json:"success"`
	Error       string                  `json:"error,omitempty"`
	Data        *correlation.ResultData `json:"data,omitempty"`
}

// handleCallback is the ingress for the workflow engine's out-of-band answer.
// Gate order: content type, agent blocklist, body size, rate limit, then
// field validation; the rate limiter must see every structurally plausible
// request before any expensive work.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)
	ip := ratelimit.ClientIP(r)

	if ct := r.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		s.writeError(w, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}

	if agentBlocked(r.UserAgent()) {
		s.logger.Warn("blocked agent", "remote_ip", ip, "user_agent", r.UserAgent())
		s.writeError(w, http.StatusForbidden, "user agent not allowed")
		return
	}

	if r.ContentLength > maxCallbackBody {
		s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	res := s.limiter.Check(ip)
	setRateLimitHeaders(w, s.limiter.Max(), res)
	if !res.Allowed {
		rateLimitedTotal.Inc()
		s.logger.Warn("rate limited", "remote_ip", ip)
		retryAfter := int(math.Ceil(time.Until(res.ResetAt).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":      "too many requests",
			"retryAfter": retryAfter,
		})
		return
	}

	var req callbackRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxCallbackBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.SessionID == nil || *req.SessionID == "" {
		s.writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	if req.Response == nil || *req.Response == "" {
		s.writeError(w, http.StatusBadRequest, "response is required")
		return
	}
	if req.Success == nil {
		s.writeError(w, http.StatusBadRequest, "success must be a boolean")
		return
	}

	now := time.Now()
	ts := now
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid timestamp")
			return
		}
		if now.Sub(parsed) > stalenessLimit {
			s.writeError(w, http.StatusBadRequest, "response too old")
			return
		}
		ts = parsed
	}

	s.correlation.Deposit(*req.SessionID, &correlation.Result{
		Response:  *req.Response,
		Success:   *req.Success,
		Error:     req.Error,
		Data:      req.Data,
		UserID:    req.UserID,
		Timestamp: ts,
	})
	pendingResults.Set(float64(s.correlation.Pending()))

	s.writeJSON(w, http.StatusOK, callbackAccepted{
		Success:    true,
		Message:    "response received",
		SessionID:  *req.SessionID,
		ReceivedAt: now,
	})
}

// handlePollRead answers the client's "is my answer ready" poll. Absence is
// the normal steady state and still a 200; a delivered result is removed, so
// the next read for the same session reports hasResponse=false.
func (s *Server) handlePollRead(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, "sessionId query parameter is required")
		return
	}

	res, ok := s.correlation.Withdraw(sessionID)
	if !ok {
		s.writeJSON(w, http.StatusOK, pollEmptyResponse{
			Message: "no response available for this session",
		})
		return
	}
	pendingResults.Set(float64(s.correlation.Pending()))

	s.writeJSON(w, http.StatusOK, pollDeliveredResponse{
		HasResponse: true,
		Response:    res.Response,
		Success:     res.Success,
		Error:       res.Error,
		Data:        res.Data,
	})
}

// handleCallbackHead is a liveness probe for callers of the callback URL.
func (s *Server) handleCallbackHead(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type statsResponse struct {
	PendingResponses int       `json:"pendingResponses"`
	ActiveStreams    int64     `json:"activeStreams"`
	StoredFiles      int       `json:"storedFiles"`
	UptimeSeconds    float64   `json:"uptime"`
	Timestamp        time.Time `json:"timestamp"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, statsResponse{
		PendingResponses: s.correlation.Pending(),
		ActiveStreams:    s.activeStreams.Load(),
		StoredFiles:      s.files.Count(),
		UptimeSeconds:    time.Since(s.startedAt).Seconds(),
		Timestamp:        time.Now(),
	})
}

func agentBlocked(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, blocked := range blockedAgents {
		if strings.Contains(ua, blocked) {
			return true
		}
	}
	return false
}

func setSecurityHeaders(w http.ResponseWriter) {
	for k, v := range securityHeaders {
		w.Header().Set(k, v)
	}
}

func setRateLimitHeaders(w http.ResponseWriter, limit int, res ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

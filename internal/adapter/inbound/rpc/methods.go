package rpc

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/agen-co/agenshield/internal/domain/event"
	"github.com/agen-co/agenshield/internal/domain/policy"
)

// maxResponseBodySize caps daemon-side fetch response bodies (4 MB).
const maxResponseBodySize = 4 << 20

// policyCheckParams is the wire shape of a policy_check call.
type policyCheckParams struct {
	Operation string                   `json:"operation"`
	Target    string                   `json:"target"`
	Context   *policy.ExecutionContext `json:"context,omitempty"`
}

func (s *Server) handlePolicyCheck(w http.ResponseWriter, r *http.Request, params json.RawMessage, id json.RawMessage, profileID string) string {
	var p policyCheckParams
	if err := json.Unmarshal(params, &p); err != nil {
		writeError(w, id, codeInvalidRequest, "malformed request: invalid policy_check params")
		return "error"
	}
	if p.Operation == "" || p.Target == "" {
		writeError(w, id, codeInvalidRequest, "malformed request: operation and target are required")
		return "error"
	}

	dec, err := s.decisions.Check(r.Context(), profileID, policy.Operation(p.Operation), p.Target, p.Context)
	if err != nil {
		s.logger.Error("policy check failed", "operation", p.Operation, "error", err)
		writeError(w, id, codeInternal, "internal error: policy check failed")
		return "error"
	}

	result := "deny"
	if dec.Allowed {
		result = "allow"
	}
	s.metrics.PolicyDecisionsTotal.WithLabelValues(p.Operation, result).Inc()

	writeResult(w, id, dec)
	return "ok"
}

// eventsBatchParams is the wire shape of an events_batch call.
type eventsBatchParams struct {
	Events []event.Event `json:"events"`
}

// handleEventsBatch ingests out-of-band events from interceptors and fans
// them out via the activity bus. Events arriving without an id or
// timestamp are stamped on ingestion.
func (s *Server) handleEventsBatch(w http.ResponseWriter, params json.RawMessage, id json.RawMessage, profileID string) string {
	var p eventsBatchParams
	if err := json.Unmarshal(params, &p); err != nil {
		writeError(w, id, codeInvalidRequest, "malformed request: invalid events_batch params")
		return "error"
	}

	accepted := 0
	for _, ev := range p.Events {
		if ev.Type == "" {
			continue
		}
		stamped := event.New(ev.Type)
		stamped.Operation = ev.Operation
		stamped.Target = ev.Target
		stamped.PolicyID = ev.PolicyID
		stamped.Reason = ev.Reason
		stamped.SessionID = ev.SessionID
		stamped.ProfileID = profileID
		if ev.ID != "" {
			stamped.ID = ev.ID
		}
		if !ev.Timestamp.IsZero() {
			stamped.Timestamp = ev.Timestamp
		}
		s.bus.Publish(stamped)
		accepted++
	}

	writeResult(w, id, map[string]int{"accepted": accepted})
	return "ok"
}

// httpRequestParams is the wire shape of an http_request call.
type httpRequestParams struct {
	URL     string                   `json:"url"`
	Method  string                   `json:"method,omitempty"`
	Headers map[string]string        `json:"headers,omitempty"`
	Body    string                   `json:"body,omitempty"`
	Context *policy.ExecutionContext `json:"context,omitempty"`
}

// httpRequestResult is the wire shape of an http_request response.
type httpRequestResult struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// handleHTTPRequest performs a daemon-side fetch on behalf of the caller,
// after running the URL through the decision engine. A policy deny is a
// JSON-RPC error, not a transport response.
func (s *Server) handleHTTPRequest(w http.ResponseWriter, r *http.Request, params json.RawMessage, id json.RawMessage, profileID string) string {
	var p httpRequestParams
	if err := json.Unmarshal(params, &p); err != nil {
		writeError(w, id, codeInvalidRequest, "malformed request: invalid http_request params")
		return "error"
	}
	if p.URL == "" {
		writeError(w, id, codeInvalidRequest, "malformed request: url is required")
		return "error"
	}

	dec, err := s.decisions.Check(r.Context(), profileID, policy.OpHTTPRequest, p.URL, p.Context)
	if err != nil {
		s.logger.Error("policy check failed", "operation", "http_request", "error", err)
		writeError(w, id, codeInternal, "internal error: policy check failed")
		return "error"
	}
	if !dec.Allowed {
		s.metrics.PolicyDecisionsTotal.WithLabelValues(string(policy.OpHTTPRequest), "deny").Inc()
		msg := "blocked by policy"
		if dec.Reason != "" {
			msg += ": " + dec.Reason
		}
		writeError(w, id, codeInternal, msg)
		return "denied"
	}
	s.metrics.PolicyDecisionsTotal.WithLabelValues(string(policy.OpHTTPRequest), "allow").Inc()

	method := strings.ToUpper(p.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if p.Body != "" {
		body = strings.NewReader(p.Body)
	}
	out, err := http.NewRequestWithContext(r.Context(), method, p.URL, body)
	if err != nil {
		writeError(w, id, codeInternal, "invalid request: "+err.Error())
		return "error"
	}
	for name, value := range p.Headers {
		out.Header.Set(name, value)
	}

	resp, err := s.client.Do(out)
	if err != nil {
		writeError(w, id, codeInternal, "upstream request failed: "+err.Error())
		return "error"
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		writeError(w, id, codeInternal, "upstream read failed: "+err.Error())
		return "error"
	}

	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}

	writeResult(w, id, httpRequestResult{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Headers:    headers,
		Body:       string(respBody),
	})
	return "ok"
}

// Package proxy contains the per-run egress proxy and its pool. Each
// sandboxed exec that needs network access gets its own local forward
// proxy whose policy view is refreshed on every connection.
package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/agen-co/agenshield/internal/domain/event"
	"github.com/agen-co/agenshield/internal/domain/policy"
)

const (
	dialTimeout    = 10 * time.Second
	forwardTimeout = 60 * time.Second
)

// hopHeaders are stripped when forwarding plain HTTP. Host and
// Authorization are preserved verbatim.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RunProxy is a forward proxy bound to a single exec. Plain HTTP requests
// are forwarded after a URL policy decision; CONNECT tunnels are matched
// as https://host:port and spliced opaquely, never MITM'd.
type RunProxy struct {
	execID      string
	getPolicies func() []policy.Policy
	getDefault  func() policy.Action
	bus         *event.Bus
	logger      *slog.Logger
	touch       func()

	ln     net.Listener
	client *http.Client
}

// startRunProxy listens on a kernel-assigned loopback port and serves
// until Close. touch is invoked on every request to reset idle tracking.
func startRunProxy(
	execID string,
	getPolicies func() []policy.Policy,
	getDefault func() policy.Action,
	bus *event.Bus,
	logger *slog.Logger,
	touch func(),
) (*RunProxy, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	p := &RunProxy{
		execID:      execID,
		getPolicies: getPolicies,
		getDefault:  getDefault,
		bus:         bus,
		logger:      logger,
		touch:       touch,
		ln:          ln,
		client: &http.Client{
			Timeout: forwardTimeout,
			// The proxy forwards exactly what it was asked for;
			// redirects are the client's business.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}

	srv := &http.Server{Handler: p}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed && !isClosedErr(err) {
			logger.Warn("run proxy serve ended", "exec_id", execID, "error", err)
		}
	}()
	return p, nil
}

// Port returns the bound loopback port.
func (p *RunProxy) Port() int {
	return p.ln.Addr().(*net.TCPAddr).Port
}

// Close stops accepting new connections. In-flight requests and open
// tunnels run to completion.
func (p *RunProxy) Close() {
	_ = p.ln.Close()
}

func (p *RunProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.touch != nil {
		p.touch()
	}
	if r.Method == http.MethodConnect {
		p.handleConnect(w, r)
		return
	}
	p.handleHTTP(w, r)
}

// decide runs the shared URL decision procedure over the live policy
// slice the getter returns.
func (p *RunProxy) decide(target string) policy.Verdict {
	return policy.EvaluateURL(p.getPolicies(), policy.OpHTTPRequest, target, p.getDefault())
}

func (p *RunProxy) handleHTTP(w http.ResponseWriter, r *http.Request) {
	if !r.URL.IsAbs() {
		http.Error(w, "proxy requests must carry an absolute URL", http.StatusBadRequest)
		return
	}
	target := r.URL.String()

	verdict := p.decide(target)
	if !verdict.Allowed {
		p.emitDeny(target, verdict.PolicyID, verdict.Reason)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":  "blocked by policy",
			"reason": verdict.Reason,
		})
		return
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	out.Header = r.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	out.Host = r.Host

	resp, err := p.client.Do(out)
	if err != nil {
		p.emitDeny(target, "", fmt.Sprintf("upstream failure: %v", err))
		http.Error(w, "upstream failure", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for _, h := range hopHeaders {
		resp.Header.Del(h)
	}
	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Debug("response copy interrupted", "exec_id", p.execID, "error", err)
	}
}

func (p *RunProxy) handleConnect(w http.ResponseWriter, r *http.Request) {
	// The path is unknown inside a tunnel; match against the endpoint.
	target := "https://" + r.Host

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking unsupported", http.StatusInternalServerError)
		return
	}

	verdict := p.decide(target)
	if !verdict.Allowed {
		p.emitDeny(target, verdict.PolicyID, verdict.Reason)
		// A denied CONNECT is closed immediately, no status line.
		if conn, _, err := hj.Hijack(); err == nil {
			conn.Close()
		}
		return
	}

	upstream, err := net.DialTimeout("tcp", r.Host, dialTimeout)
	if err != nil {
		p.emitDeny(target, "", fmt.Sprintf("upstream failure: %v", err))
		http.Error(w, "upstream failure", http.StatusBadGateway)
		return
	}

	conn, buf, err := hj.Hijack()
	if err != nil {
		upstream.Close()
		return
	}
	if _, err := buf.WriteString("HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		conn.Close()
		upstream.Close()
		return
	}
	if err := buf.Flush(); err != nil {
		conn.Close()
		upstream.Close()
		return
	}

	go splice(upstream, conn)
	go splice(conn, upstream)
}

// splice copies one tunnel direction and tears the tunnel down when it
// ends: a CONNECT tunnel terminates as soon as either side closes.
func splice(dst, src net.Conn) {
	_, _ = io.Copy(dst, src)
	dst.Close()
	src.Close()
}

func (p *RunProxy) emitDeny(target, policyID, reason string) {
	e := event.New(event.TypeDenied)
	e.Operation = string(policy.OpHTTPRequest)
	e.Target = target
	e.PolicyID = policyID
	e.Reason = reason
	p.bus.Publish(e)
}

func isClosedErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "use of closed network connection")
}

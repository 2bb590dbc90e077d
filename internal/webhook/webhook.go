// Package webhook serves the HTTP endpoints of watch mode: a GitHub push
// webhook that requests a run, Prometheus metrics and a health check.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// HookPath is where GitHub deliveries are accepted
const HookPath = "/hooks/github"

const maxBody = 1 << 20

// GitHubPushEvent represents the relevant fields from a GitHub push webhook
type GitHubPushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		FullName string `json:"full_name"`
		CloneURL string `json:"clone_url"`
		SSHURL   string `json:"ssh_url"`
	} `json:"repository"`
}

// Options configure the server
type Options struct {
	// SecretFile holds the webhook secret; empty disables the hook endpoint
	SecretFile        string
	AllowedEventTypes []string
	AllowedRefs       []string
	// Metrics is served on /metrics when set
	Metrics http.Handler
	// Repos returns the upstream URLs of the configured packages. Pushes to
	// other repositories are ignored. nil accepts every repository.
	Repos func() []string
}

// Server implements the watch-mode HTTP server
type Server struct {
	opts    Options
	trigger func(reason string)
	logger  *slog.Logger
	secret  []byte
}

// NewServer creates a server; trigger is called for every accepted push
func NewServer(opts Options, trigger func(reason string), logger *slog.Logger) (*Server, error) {
	s := &Server{
		opts:    opts,
		trigger: trigger,
		logger:  logger,
	}

	if opts.SecretFile != "" {
		secret, err := os.ReadFile(opts.SecretFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read webhook secret: %w", err)
		}
		s.secret = []byte(strings.TrimSpace(string(secret)))
		if len(s.secret) == 0 {
			return nil, fmt.Errorf("webhook secret file %s is empty", opts.SecretFile)
		}
	}

	return s, nil
}

// Handler returns the request router
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		mux.Handle("/metrics", s.opts.Metrics)
	}
	if s.secret != nil {
		mux.HandleFunc(HookPath, s.handleWebhook)
	}
	return mux
}

// Serve handles requests on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", ln.Addr().String(), "webhook", s.secret != nil, "metrics", s.opts.Metrics != nil)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.reply(w, http.StatusOK, "ok")
}

// errStatus is a rejected delivery and the status it is answered with
type errStatus struct {
	code int
	msg  string
}

func (e *errStatus) Error() string { return e.msg }

// readDelivery validates method, content type and signature and returns the
// verified body
func (s *Server) readDelivery(r *http.Request) ([]byte, error) {
	if r.Method != http.MethodPost {
		return nil, &errStatus{http.StatusMethodNotAllowed, "Method not allowed"}
	}
	if ct := r.Header.Get("Content-Type"); ct != "application/json" {
		return nil, &errStatus{http.StatusBadRequest, "Invalid content type " + strconv.Quote(ct)}
	}
	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, &errStatus{http.StatusInternalServerError, "Failed to read body"}
	}
	if !s.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		return nil, &errStatus{http.StatusForbidden, "Invalid signature"}
	}
	return body, nil
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := s.readDelivery(r)
	if err != nil {
		var es *errStatus
		if !errors.As(err, &es) {
			es = &errStatus{http.StatusInternalServerError, err.Error()}
		}
		s.logger.Warn("rejecting webhook delivery", "status", es.code, "reason", es.msg)
		http.Error(w, es.msg, es.code)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	switch {
	case eventType == "ping":
		s.reply(w, http.StatusOK, "pong")
		return
	case !allowed(s.opts.AllowedEventTypes, eventType):
		s.ignore(w, "event type not configured", "event", eventType)
		return
	}

	var event GitHubPushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.logger.Warn("rejecting webhook delivery", "reason", "invalid payload", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	repo := event.Repository.FullName
	switch {
	case !allowed(s.opts.AllowedRefs, event.Ref):
		s.ignore(w, "ref not configured", "ref", event.Ref)
	case !s.isRepoConfigured(event):
		s.ignore(w, "repository not configured", "repo", repo)
	default:
		s.logger.Info("push accepted", "repo", repo, "ref", event.Ref, "commit", event.After)
		s.trigger("webhook " + repo)
		s.reply(w, http.StatusAccepted, "run requested")
	}
}

// ignore acknowledges a valid delivery that does not request a run
func (s *Server) ignore(w http.ResponseWriter, why string, args ...any) {
	s.logger.Info("ignoring webhook delivery: "+why, args...)
	s.reply(w, http.StatusOK, why)
}

func (s *Server) reply(w http.ResponseWriter, code int, msg string) {
	w.WriteHeader(code)
	_, _ = io.WriteString(w, msg+"\n")
}

func (s *Server) verifySignature(body []byte, header string) bool {
	got, ok := strings.CutPrefix(header, "sha256=")
	if !ok || got == "" {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hmac.Equal([]byte(got), []byte(hex.EncodeToString(mac.Sum(nil))))
}

// allowed reports whether v is in list; an empty list allows everything
func allowed(list []string, v string) bool {
	return len(list) == 0 || slices.Contains(list, v)
}

// isRepoConfigured matches the pushed repository against the package
// source URLs by owner/name
func (s *Server) isRepoConfigured(event GitHubPushEvent) bool {
	if s.opts.Repos == nil {
		return true
	}
	want := strings.ToLower(event.Repository.FullName)
	if want == "" {
		return false
	}
	for _, url := range s.opts.Repos() {
		if repoPath(url) == want {
			return true
		}
	}
	return false
}

// repoPath extracts "owner/name" from an https or scp-style git URL
func repoPath(url string) string {
	u := strings.ToLower(strings.TrimSpace(url))
	u = strings.TrimSuffix(strings.TrimSuffix(u, "/"), ".git")
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	} else if i := strings.Index(u, ":"); i >= 0 {
		// git@host:owner/name
		u = u[:i] + "/" + u[i+1:]
	}
	parts := strings.Split(u, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[len(parts)-2] + "/" + parts[len(parts)-1]
}

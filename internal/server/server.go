package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"chunkstore/internal/auth"
	"chunkstore/internal/filestore"
	"chunkstore/internal/store"
)

const (
	apiTokenEnvKey         = "CHUNKSTORE_API_TOKEN"
	adminTokenEnvKey       = "CHUNKSTORE_ADMIN_TOKEN"
	allowRemoteEnvKey      = "CHUNKSTORE_ALLOW_REMOTE"
	readHeaderTimeout      = 5 * time.Second
	readTimeout            = 5 * time.Minute
	writeTimeout           = 10 * time.Minute
	idleTimeout            = 60 * time.Second
	shutdownTimeout        = 10 * time.Second
	uploadConcurrencyLimit = 4
	gcConcurrencyLimit     = 1
)

// Server wraps HTTP handlers for the chunkstore API.
type Server struct {
	addr           string
	store          *store.Store
	files          *filestore.Service
	storageBackend string
	logger         *slog.Logger
	apiToken       *auth.Verifier
	adminToken     *auth.Verifier
	uploadLimiter  chan struct{}
	gcLimiter      chan struct{}
}

// New creates a new server instance. storageBackend is reported by /v1/info.
// Tokens come from CHUNKSTORE_API_TOKEN and CHUNKSTORE_ADMIN_TOKEN, either in
// plaintext or as bcrypt hashes.
func New(addr string, st *store.Store, files *filestore.Service, storageBackend string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		addr:           addr,
		store:          st,
		files:          files,
		storageBackend: storageBackend,
		logger:         logger,
		apiToken:       auth.NewVerifier(os.Getenv(apiTokenEnvKey)),
		adminToken:     auth.NewVerifier(os.Getenv(adminTokenEnvKey)),
		uploadLimiter:  make(chan struct{}, uploadConcurrencyLimit),
		gcLimiter:      make(chan struct{}, gcConcurrencyLimit),
	}
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.withRequestLogging(s.withAuth(s.routes()))
}

// ListenAndServe starts the HTTP server and shuts it down when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.log().Info("starting server", "addr", s.addr)
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log().Info("shutting down server", "addr", s.addr)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAddr converts a base API URL into a listen address.
func ListenAddr(apiURL string) (string, error) {
	if apiURL == "" {
		return "", fmt.Errorf("api url is required")
	}
	if u, err := url.Parse(apiURL); err == nil && u.Host != "" {
		host := u.Hostname()
		if !isAllowedListenHost(host) {
			return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
		}
		return u.Host, nil
	}

	host, _, err := net.SplitHostPort(apiURL)
	if err == nil && !isAllowedListenHost(host) {
		return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
	}

	return apiURL, nil
}

func isAllowedListenHost(host string) bool {
	if host == "" {
		return true
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv(allowRemoteEnvKey)), "true") {
		return true
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) acquireLimiter(limiter chan struct{}, w http.ResponseWriter, r *http.Request, name string) bool {
	if limiter == nil {
		return true
	}
	select {
	case limiter <- struct{}{}:
		return true
	default:
		err := apiError{
			status:  http.StatusTooManyRequests,
			code:    "resource_exhausted",
			errCode: ErrCodeResourceExhausted,
			err:     fmt.Errorf("too many concurrent %s requests", name),
		}
		s.writeErrorReq(w, r, http.StatusTooManyRequests, err)
		return false
	}
}

func (s *Server) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

func (s *Server) releaseLimiter(limiter chan struct{}) {
	if limiter == nil {
		return
	}
	select {
	case <-limiter:
	default:
	}
}

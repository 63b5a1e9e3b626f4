// Package status serves the agent's state over HTTP for process managers and
// monitoring.
package status

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	pushover "github.com/pushctl/pushover-agent"
)

const shutdownTimeout = 5 * time.Second

// Source provides the snapshot served by the endpoints.
type Source interface {
	Snapshot() pushover.Snapshot
}

// response is the envelope of every JSON reply.
type response struct {
	Code int    `json:"code"`
	Data any    `json:"data"`
	Msg  string `json:"msg"`
}

// NewRouter builds the gin router:
//
//	GET /healthz  200 while the realtime channel is listening, 503 otherwise
//	GET /status   the full snapshot
func NewRouter(src Source) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		snap := src.Snapshot()
		if snap.State != pushover.Listening {
			sendResponse(c, http.StatusServiceUnavailable, gin.H{"state": snap.State}, "not listening")
			return
		}
		sendResponse(c, http.StatusOK, gin.H{"state": snap.State}, "ok")
	})

	router.GET("/status", func(c *gin.Context) {
		sendResponse(c, http.StatusOK, src.Snapshot(), "success")
	})

	return router
}

func sendResponse(c *gin.Context, code int, data any, msg string) {
	c.JSON(code, response{Code: code, Data: data, Msg: msg})
}

// Server runs the status router on an address.
type Server struct {
	srv *http.Server
	log zerolog.Logger
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, src Source, logger zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(src),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: logger,
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("status server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

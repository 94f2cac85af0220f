// Package httpdebug serves a small gin HTTP endpoint for out-of-band
// introspection: a health probe and a JSON dump of the scheduler's live
// task tree. It runs on its own goroutine, outside the scheduler's
// cooperative tree, since gin's ListenAndServe blocks.
package httpdebug

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"wiredbg/internal/proc"
)

// TreeSource is the one thing httpdebug reads to answer GET /tree.
type TreeSource interface {
	Root() *proc.Task
}

// HealthSource answers GET /healthz.
type HealthSource interface {
	DevOnline() bool
}

// node is the JSON shape of one task in the tree dump.
type node struct {
	ID         uint64 `json:"id"`
	Name       string `json:"name"`
	Level      int    `json:"level"`
	DriverMode int    `json:"driverMode"`
	Success    int    `json:"success"`
	Finished   bool   `json:"finished"`
	Children   []node `json:"children,omitempty"`
}

func snapshot(t *proc.Task) node {
	if t == nil {
		return node{}
	}
	children := t.Children()
	n := node{
		ID:         t.ID(),
		Name:       t.Name(),
		Level:      t.Level(),
		DriverMode: int(t.DriverMode()),
		Success:    int(t.Success()),
		Finished:   t.Finished(),
	}
	for _, c := range children {
		n.Children = append(n.Children, snapshot(c))
	}
	return n
}

// Server owns the gin engine and the *http.Server wrapping it.
type Server struct {
	log    hclog.Logger
	srv    *http.Server
	Engine *gin.Engine
}

// New builds (but does not start) the debug HTTP server on addr. Engine is
// exposed so callers can register additional routes before calling Run.
func New(addr string, tree TreeSource, health HealthSource, logger hclog.Logger) *Server {
	log := logger.Named("httpdebug")

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"devOnline": health.DevOnline()})
	})

	engine.GET("/tree", func(c *gin.Context) {
		c.JSON(http.StatusOK, snapshot(tree.Root()))
	})

	return &Server{
		log:    log,
		Engine: engine,
		srv:    &http.Server{Addr: addr, Handler: engine},
	}
}

// Run starts serving and blocks until the listener errors or is closed.
// Intended to be called from its own goroutine.
func (s *Server) Run() {
	s.log.Info("http debug server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Error("http debug server exited", "err", err)
	}
}

// Close closes the listener and all open connections at once; in-flight
// requests are not waited for.
func (s *Server) Close() error {
	return s.srv.Close()
}

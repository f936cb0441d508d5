// Package dashboard hosts the JSON control API: venue status, snapshots on
// demand, connectivity checks and operator actions against the circuit
// breakers and the cache.
package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"arbflow/config"
	"arbflow/internal/gateway"
	"arbflow/internal/model"
	"arbflow/logger"
)

// Server hosts the Gin-powered control API for the gateway.
type Server struct {
	cfg        config.DashboardConfig
	log        *logger.Log
	gw         *gateway.Gateway
	httpServer *http.Server
	sampler    *resourceSampler
}

// NewServer constructs a control API server when the dashboard is enabled.
// When it is disabled the returned server is nil and all methods are no-ops.
func NewServer(cfg config.DashboardConfig, gw *gateway.Gateway, log *logger.Log) *Server {
	if !cfg.Enabled {
		return nil
	}
	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.ResourceHistory <= 0 {
		cfg.ResourceHistory = 200
	}
	return &Server{
		cfg:     cfg,
		log:     log,
		gw:      gw,
		sampler: newResourceSampler(cfg.ResourceHistory, cfg.RefreshInterval, "/", log),
	}
}

// Run starts the HTTP server and blocks until the context is cancelled or the
// server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	router, err := s.buildRouter()
	if err != nil {
		return err
	}
	s.sampler.start(ctx)
	defer s.sampler.stop()

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.WithComponent("dashboard").WithFields(logger.Fields{
		"address": s.cfg.Address,
	}).Info("control api listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"active": s.gw.Selector().Active(),
			"venues": s.gw.Status(),
		})
	})

	router.GET("/api/snapshot/:symbol", func(c *gin.Context) {
		snap, err := s.gw.GetSnapshot(c.Request.Context(), strings.ToUpper(c.Param("symbol")))
		if err != nil {
			var inc *model.SnapshotIncompleteError
			if errors.As(err, &inc) {
				causes := make(map[string]string, len(inc.Causes))
				for f, cause := range inc.Causes {
					causes[f] = cause.Error()
				}
				c.JSON(http.StatusBadGateway, gin.H{
					"error":   inc.Error(),
					"missing": inc.Missing,
					"causes":  causes,
				})
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	router.GET("/api/orderbook/:symbol", func(c *gin.Context) {
		market := model.MarketType(c.DefaultQuery("market", string(model.MarketTypeSpot)))
		depth, _ := strconv.Atoi(c.DefaultQuery("depth", "20"))
		book, err := s.gw.GetOrderBook(c.Request.Context(), strings.ToUpper(c.Param("symbol")), market, depth)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, book)
	})

	router.GET("/api/limits", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"limits": s.gw.Limits()})
	})

	router.GET("/api/connectivity", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"results": s.gw.TestConnectivity(c.Request.Context()),
		})
	})

	router.GET("/api/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": s.sampler.snapshot()})
	})

	router.POST("/api/venues/:id/reset", func(c *gin.Context) {
		id := strings.ToLower(c.Param("id"))
		if !s.gw.ResetVenue(id) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown venue " + id})
			return
		}
		c.JSON(http.StatusOK, gin.H{"venue": id, "reset": true})
	})

	router.POST("/api/venues/:id/activate", func(c *gin.Context) {
		id := strings.ToLower(c.Param("id"))
		if !s.gw.ForceVenue(id) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown venue " + id})
			return
		}
		c.JSON(http.StatusOK, gin.H{"venue": id, "active": true})
	})

	router.POST("/api/cache/clear", func(c *gin.Context) {
		s.gw.ClearCache()
		c.JSON(http.StatusOK, gin.H{"cleared": true})
	})

	return router, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}
	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}
	return addr
}

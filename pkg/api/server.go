// Package api serves the operational HTTP surface: health probes, pipeline
// stats, MCP connection status, active alerts, system warnings, and
// prometheus metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codeready-toolchain/argus/pkg/models"
	"github.com/codeready-toolchain/argus/pkg/pipeline"
	"github.com/codeready-toolchain/argus/pkg/tenant"
	"github.com/codeready-toolchain/argus/pkg/version"
	"github.com/codeready-toolchain/argus/pkg/warnings"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// DatabaseHealth is the readiness probe surface of the database client.
type DatabaseHealth interface {
	Health(ctx context.Context) error
}

// McpStatusSource reports the connection state of every registered server.
type McpStatusSource interface {
	Statuses() map[string]models.McpServerStatus
}

// AlertSource lists the currently ACTIVE alert instances.
type AlertSource interface {
	ListActiveInstances(ctx context.Context) ([]*models.AlertInstance, error)
}

// Server wires the operational endpoints onto a gin engine.
type Server struct {
	db       DatabaseHealth
	ring     *pipeline.RingBuffer
	health   *pipeline.HealthMonitor
	mcp      McpStatusSource
	alerts   AlertSource
	warnings *warnings.Registry
	registry *prometheus.Registry
	resolver *tenant.Resolver
}

func NewServer(
	db DatabaseHealth,
	ring *pipeline.RingBuffer,
	health *pipeline.HealthMonitor,
	mcp McpStatusSource,
	alerts AlertSource,
	warningsReg *warnings.Registry,
	promReg *prometheus.Registry,
) *Server {
	return &Server{
		db:       db,
		ring:     ring,
		health:   health,
		mcp:      mcp,
		alerts:   alerts,
		warnings: warningsReg,
		registry: promReg,
		resolver: tenant.NewResolver(),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.healthz)
	r.GET("/readyz", s.readyz)
	if s.registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1", s.tenantMiddleware())
	v1.GET("/pipeline/stats", s.pipelineStats)
	v1.GET("/mcp/status", s.mcpStatus)
	v1.GET("/alerts/active", s.activeAlerts)
	v1.GET("/warnings", s.listWarnings)

	return r
}

// tenantMiddleware resolves the tenant and stamps it on the request context.
func (s *Server) tenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := s.resolver.Resolve(c.Request, nil)
		c.Request = c.Request.WithContext(tenant.WithTenant(c.Request.Context(), tenantID))
		c.Next()
	}
}

// healthz is the liveness probe: the process is up.
func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  healthStatusHealthy,
		"version": version.GitCommit,
	})
}

// readyz is the readiness probe: the database must answer.
func (s *Server) readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if s.db != nil {
		if err := s.db.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": healthStatusUnhealthy,
				"error":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": healthStatusHealthy})
}

func (s *Server) pipelineStats(c *gin.Context) {
	stats := gin.H{
		"droppedTotal":          s.health.DroppedTotal(),
		"bufferUsagePercent":    s.health.BufferUsagePercent(),
		"aggregateRefreshLagMs": s.health.AggregateRefreshLagMs(),
	}
	if s.ring != nil {
		stats["bufferSize"] = s.ring.Size()
		stats["bufferCapacity"] = s.ring.Capacity()
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) mcpStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"servers": s.mcp.Statuses()})
}

func (s *Server) activeAlerts(c *gin.Context) {
	instances, err := s.alerts.ListActiveInstances(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if instances == nil {
		instances = []*models.AlertInstance{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": instances})
}

func (s *Server) listWarnings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"warnings": s.warnings.List()})
}

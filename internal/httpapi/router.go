// Package httpapi composes the core components into gin handlers and
// router wiring. Global middleware (gin.Recovery, security headers)
// follows the teacher's cmd/server/main.go middleware stack.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/envelope"
	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/extractors"
	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/kvstore"
	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/queries"
	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/workercore"
	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/database"
	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/logging"
	"gorm.io/gorm"
)

// Dependencies bundles everything a router needs to wire endpoints. The
// extractors are constructed (and therefore pattern-validated) once at
// startup by the caller and passed in here, rather than built per request.
type Dependencies struct {
	DB                    *gorm.DB
	KV                    kvstore.Store
	Worker                *workercore.Core
	Log                   logging.Logger
	Metrics               *database.QueryMetrics
	PlayerServerExtractor *extractors.PlayerServerExtractor
	MapServerExtractor    *extractors.MapServerExtractor
	Version               string
}

// NewRouter builds the gin engine with every handler wired in. Panics
// during handler execution (never during construction, since extractor
// patterns are validated up front) are caught by gin.Recovery as a
// last-resort net.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(securityHeadersMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gfl-ze-watcher-sub000", "version": deps.Version})
	})

	api := router.Group("/api")
	api.GET("/servers/:server/players/:player/map-time/:map", deps.handlePlayerMapTime)
	api.GET("/servers/:server/activity", deps.handleActivityGraph)
	api.GET("/servers/:server/maps/:map/radar", deps.handleMapRadar)

	return router
}

func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Next()
	}
}

func (d Dependencies) handlePlayerMapTime(c *gin.Context) {
	mapName := c.Param("map")
	resolved, err := d.PlayerServerExtractor.Extract(c)
	if err != nil {
		c.JSON(http.StatusOK, envelope.Error[any](envelope.CodeBadRequest, err.Error()))
		return
	}

	q := &queries.PlayerMapTimeQuery{
		DB:       d.DB,
		KV:       d.KV,
		Log:      d.Log,
		Metrics:  d.Metrics,
		PlayerID: resolved.PlayerID,
		ServerID: resolved.ServerID,
		MapName:  mapName,
	}

	outcome := d.Worker.RunWithFallback(c.Request.Context(), q)
	c.JSON(http.StatusOK, envelope.FromOutcome(outcome))
}

func (d Dependencies) handleActivityGraph(c *gin.Context) {
	serverID := c.Param("server")
	q := &queries.ActivityGraphQuery{DB: d.DB, Metrics: d.Metrics, ServerID: serverID, Since: time.Now().Add(-24 * time.Hour), BucketSize: time.Hour}

	payload, err := d.Worker.RunExact(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusOK, envelope.Error[any](envelope.CodeInternal, "compute failed"))
		return
	}
	c.JSON(http.StatusOK, envelope.OK(json.RawMessage(payload)))
}

func (d Dependencies) handleMapRadar(c *gin.Context) {
	resolved, err := d.MapServerExtractor.Extract(c)
	if err != nil {
		c.JSON(http.StatusOK, envelope.Error[any](envelope.CodeBadRequest, err.Error()))
		return
	}

	q := &queries.MapRadarQuery{DB: d.DB, Metrics: d.Metrics, MapName: resolved.MapName, ServerID: resolved.ServerID}

	outcome := d.Worker.RunWithFallback(c.Request.Context(), q)
	c.JSON(http.StatusOK, envelope.FromOutcome(outcome))
}

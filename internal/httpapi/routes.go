package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/OCAP2/fleetsim/internal/dispatcher"
	"github.com/OCAP2/fleetsim/internal/geo"
	"github.com/OCAP2/fleetsim/internal/handlers"
	"github.com/OCAP2/fleetsim/internal/sim"
	"github.com/OCAP2/fleetsim/internal/util"
	"github.com/OCAP2/fleetsim/pkg/core"
	"github.com/OCAP2/fleetsim/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/peterstace/simplefeatures/geom"
)

// Trail is the rendered trail of one device.
type Trail struct {
	EntityID     int              `json:"entityId"`
	Points       int              `json:"points"`
	LengthMeters float64          `json:"lengthMeters"`
	Geometry     *geom.LineString `json:"geometry,omitempty"`
}

// Simulation describes the run state.
type Simulation struct {
	Running    bool      `json:"running"`
	Tick       uint64    `json:"tick"`
	IntervalMs int64     `json:"intervalMs"`
	Time       time.Time `json:"time"`
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/health", s.health)

	api := r.Group("/api/v1")
	{
		api.GET("/health", s.health)

		devices := api.Group("/devices")
		{
			devices.GET("", s.listDevices)
			devices.GET("/:id", s.getDevice)
			devices.GET("/:id/history", s.getHistory)
			devices.POST("/:id/history", s.mutating(s.addWaypoint)...)
			devices.DELETE("/:id/history/:pointId", s.mutating(s.deleteWaypoint)...)
			devices.GET("/:id/trail", s.getTrail)
		}

		fences := api.Group("/geofences")
		{
			fences.GET("", s.listGeoFences)
			fences.GET("/:id/outline", s.getOutline)
		}

		api.GET("/alerts", s.listAlerts)
		api.GET("/stats", s.getStats)

		simulation := api.Group("/simulation")
		{
			simulation.GET("", s.getSimulation)
			simulation.POST("/start", s.mutating(s.command(handlers.CmdSimStart))...)
			simulation.POST("/stop", s.mutating(s.command(handlers.CmdSimStop))...)
			simulation.POST("/tick", s.mutating(s.command(handlers.CmdSimTick))...)
		}

		api.GET("/stream", s.stream)
	}
}

func (s *Server) dispatch(cmd string, args ...string) (any, error) {
	return s.deps.Dispatcher.Dispatch(dispatcher.Event{Command: cmd, Args: args})
}

// fail maps a command error to a response status.
func fail(c *gin.Context, err error) {
	var verr *sim.ValidationError
	switch {
	case errors.As(err, &verr):
		response.ValidationFailed(c, sim.ErrValidation.Error(), verr.Fields)
	case errors.Is(err, sim.ErrUnknownEntity):
		response.NotFound(c, "Device not found")
	case errors.Is(err, util.ErrMissingArg):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err.Error())
	}
}

// entityParam parses :id and checks that the device exists.
func (s *Server) entityParam(c *gin.Context) (core.Entity, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "Invalid device ID")
		return core.Entity{}, false
	}
	e, ok := s.deps.Engine.Entity(id)
	if !ok {
		response.NotFound(c, "Device not found")
		return core.Entity{}, false
	}
	return e, true
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Fleet simulator is running",
	})
}

// listDevices handles GET /api/v1/devices
func (s *Server) listDevices(c *gin.Context) {
	response.Success(c, s.deps.Engine.Entities())
}

// getDevice handles GET /api/v1/devices/:id
func (s *Server) getDevice(c *gin.Context) {
	if e, ok := s.entityParam(c); ok {
		response.Success(c, e)
	}
}

// getHistory handles GET /api/v1/devices/:id/history
func (s *Server) getHistory(c *gin.Context) {
	if e, ok := s.entityParam(c); ok {
		response.Success(c, s.deps.Engine.History(e.ID))
	}
}

// addWaypoint handles POST /api/v1/devices/:id/history
func (s *Server) addWaypoint(c *gin.Context) {
	e, ok := s.entityParam(c)
	if !ok {
		return
	}

	var in core.WaypointInput
	if err := c.ShouldBind(&in); err != nil {
		response.BadRequest(c, "Invalid waypoint form")
		return
	}

	res, err := s.dispatch(handlers.CmdWaypointAdd, strconv.Itoa(e.ID), in.Name, in.Lat, in.Lng)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, res)
}

// deleteWaypoint handles DELETE /api/v1/devices/:id/history/:pointId
func (s *Server) deleteWaypoint(c *gin.Context) {
	e, ok := s.entityParam(c)
	if !ok {
		return
	}
	pointID, err := strconv.ParseUint(c.Param("pointId"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid point ID")
		return
	}

	res, err := s.dispatch(handlers.CmdWaypointDelete, strconv.Itoa(e.ID), strconv.FormatUint(pointID, 10))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, res)
}

// getTrail handles GET /api/v1/devices/:id/trail
func (s *Server) getTrail(c *gin.Context) {
	e, ok := s.entityParam(c)
	if !ok {
		return
	}

	points := s.deps.Engine.History(e.ID)
	trail := Trail{
		EntityID:     e.ID,
		Points:       len(points),
		LengthMeters: geo.TrailLength(points),
	}
	// a single point has no line geometry
	if ls, err := geo.TrailLineString(points); err == nil {
		trail.Geometry = &ls
	}
	response.Success(c, trail)
}

// listGeoFences handles GET /api/v1/geofences
func (s *Server) listGeoFences(c *gin.Context) {
	response.Success(c, s.deps.Fleet.GeoFences())
}

// getOutline handles GET /api/v1/geofences/:id/outline
func (s *Server) getOutline(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "Invalid geofence ID")
		return
	}
	segments, err := strconv.Atoi(c.DefaultQuery("segments", strconv.Itoa(DefaultOutlineSegments)))
	if err != nil || segments <= 0 {
		response.BadRequest(c, "Invalid segments parameter")
		return
	}

	g, ok := s.deps.Fleet.GeoFence(id)
	if !ok {
		response.NotFound(c, "Geofence not found")
		return
	}
	outline := geo.FenceOutline(g, segments)
	response.Success(c, gin.H{"geofence": g, "geometry": &outline})
}

// listAlerts handles GET /api/v1/alerts
func (s *Server) listAlerts(c *gin.Context) {
	response.Success(c, s.deps.Fleet.Alerts())
}

// getStats handles GET /api/v1/stats
func (s *Server) getStats(c *gin.Context) {
	res, err := s.dispatch(handlers.CmdStats)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, res)
}

// getSimulation handles GET /api/v1/simulation
func (s *Server) getSimulation(c *gin.Context) {
	snap := s.deps.Engine.Snapshot()
	response.Success(c, Simulation{
		Running:    snap.Running,
		Tick:       snap.Tick,
		IntervalMs: s.deps.Engine.Interval().Milliseconds(),
		Time:       snap.Time,
	})
}

// command handles POST /api/v1/simulation/{start,stop,tick}
func (s *Server) command(cmd string) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.dispatch(cmd)
		if err != nil {
			fail(c, err)
			return
		}
		response.Success(c, res)
	}
}

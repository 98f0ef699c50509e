// Package api exposes the HTTP edge: the fulfillment and rearrangement
// endpoints, device configuration and manual commands, the status probe and
// the device websocket mount.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/vlm-project/vlmcore/core/allocation"
	"github.com/vlm-project/vlmcore/core/audit"
	"github.com/vlm-project/vlmcore/core/fulfillment"
	"github.com/vlm-project/vlmcore/core/logger"
	"github.com/vlm-project/vlmcore/core/model"
	"github.com/vlm-project/vlmcore/core/planner"
	"github.com/vlm-project/vlmcore/core/protocol"
	"github.com/vlm-project/vlmcore/core/store"
	"github.com/vlm-project/vlmcore/core/txid"
	"github.com/vlm-project/vlmcore/internal/eventbus"
)

// DeviceLink is the slice of the hardware link the edge needs: the websocket
// mount and the connection probe.
type DeviceLink interface {
	http.Handler
	IsConnected() bool
}

// Queue is the slice of the outbox the edge needs.
type Queue interface {
	Enqueue(frame []byte)
	Depth() int
}

// Server holds the handler dependencies.
type Server struct {
	svc      *fulfillment.Service
	store    store.Store
	out      Queue
	link     DeviceLink
	audit    *audit.Recorder
	bus      *eventbus.Bus
	upgrader websocket.Upgrader
	wsPath   string
	log      logger.Logger
}

// NewServer creates a Server. bus feeds the live audit stream endpoint and
// may be nil, which disables the stream.
func NewServer(svc *fulfillment.Service, st store.Store, out Queue, link DeviceLink, rec *audit.Recorder, bus *eventbus.Bus, wsPath string, log logger.Logger) *Server {
	if wsPath == "" {
		wsPath = "/ws"
	}
	return &Server{
		svc:   svc,
		store: st,
		out:   out,
		link:  link,
		audit: rec,
		bus:   bus,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		wsPath: wsPath,
		log:    log,
	}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.POST("/fulfillment", s.postFulfillment)
		api.POST("/rearrangement/plan", s.postRearrangementPlan)
		api.GET("/vlm/config", s.getVLMConfig)
		api.PUT("/vlm/config", s.putVLMConfig)
		api.POST("/vlm/command", s.postVLMCommand)
		api.GET("/status", s.getStatus)
		api.GET("/audit/stream", s.getAuditStream)
	}
	r.GET(s.wsPath, gin.WrapH(s.link))
	return r
}

func (s *Server) postFulfillment(c *gin.Context) {
	var req fulfillment.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.svc.Dispatch(c.Request.Context(), req)
	switch {
	case errors.Is(err, fulfillment.ErrInvalidOperation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, allocation.ErrNoShelfAvailable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		s.log.Errorf("fulfillment failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, res)
	}
}

type rearrangementRequest struct {
	Current    map[string]int `json:"current" binding:"required"`
	Target     map[string]int `json:"target" binding:"required"`
	Heights    map[string]int `json:"heights" binding:"required"`
	TotalRacks int            `json:"total_racks" binding:"required"`
}

func (s *Server) postRearrangementPlan(c *gin.Context) {
	var req rearrangementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	moves, err := s.svc.PlanRearrangement(req.Current, req.Target, req.Heights, req.TotalRacks)
	switch {
	case errors.Is(err, planner.ErrInvalidLayout):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, planner.ErrNoSpace), errors.Is(err, planner.ErrUnsolvable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		if moves == nil {
			moves = []planner.Move{}
		}
		c.JSON(http.StatusOK, gin.H{"moves": moves})
	}
}

func (s *Server) getVLMConfig(c *gin.Context) {
	cfg, err := s.store.VLMConfig(c.Request.Context())
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no configuration stored"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// putVLMConfig persists the configuration and pushes it to the device. The
// push rides the delivery queue like every other frame: a disconnected
// device receives it on reconnect.
func (s *Server) putVLMConfig(c *gin.Context) {
	var cfg model.VLMConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.SetVLMConfig(c.Request.Context(), cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	frame, err := protocol.Encode(protocol.ConfigPush{Code: protocol.CodeConfigPush, Config: cfg})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.out.Enqueue(frame)
	s.audit.Record(c.Request.Context(), model.AuditInfo, "configuration updated and pushed", model.AuditConfigPush, "")
	c.JSON(http.StatusOK, gin.H{"status": "queued"})
}

type commandRequest struct {
	Command string `json:"command" binding:"required"`
	Motion  string `json:"motion"`
}

var commandCodes = map[string]int{
	"motor":       protocol.CodeMotorCommand,
	"sensor":      protocol.CodeSensorCommand,
	"calibration": protocol.CodeCalibration,
}

func (s *Server) postVLMCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	code, ok := commandCodes[req.Command]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown command: " + req.Command})
		return
	}
	tx := txid.New()
	frame, err := protocol.Encode(protocol.ManualCommand{Code: code, Motion: req.Motion, TransactionID: tx})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.out.Enqueue(frame)
	s.audit.Record(c.Request.Context(), model.AuditInfo, "manual "+req.Command+" command queued", model.AuditManualCommand, tx)
	c.JSON(http.StatusAccepted, gin.H{"transaction_id": tx})
}

// getAuditStream upgrades to a websocket and forwards audit entries as they
// are recorded. Delivery is best-effort: a slow consumer misses entries (the
// bus never blocks producers) and the store-backed trail stays authoritative.
func (s *Server) getAuditStream(c *gin.Context) {
	if s.bus == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit stream disabled"})
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Errorf("audit stream upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	// Reads only notice the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case entry, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected":   s.link.IsConnected(),
		"queue_depth": s.out.Depth(),
	})
}

package api

import (
	"errors"
	"net/http"

	"cssd/internal/assets"
	"cssd/internal/engine"
	"cssd/internal/events"
	"cssd/internal/ledger"
	"cssd/internal/metrics"
	"cssd/internal/packs"
	"cssd/internal/sets"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
)

// Server is the REST surface of the inventory service
type Server struct {
	router   *gin.Engine
	db       *gorm.DB
	engine   *engine.Engine
	ledger   *ledger.Ledger
	tracker  *packs.Tracker
	hub      *events.Hub
	recorder *metrics.Recorder
	monitor  *metrics.Monitor
	secret   string
}

// NewServer wires the REST routes over the given components. secret is the
// JWT signing secret for identity extraction; empty disables token parsing
// and falls back to the X-Staff header (development mode).
func NewServer(db *gorm.DB, eng *engine.Engine, l *ledger.Ledger, tracker *packs.Tracker, hub *events.Hub,
	recorder *metrics.Recorder, monitor *metrics.Monitor, secret string) *Server {
	s := &Server{
		router:   gin.New(),
		db:       db,
		engine:   eng,
		ledger:   l,
		tracker:  tracker,
		hub:      hub,
		recorder: recorder,
		monitor:  monitor,
		secret:   secret,
	}
	s.router.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.hub.Handle)

	api := s.router.Group("/api/v1")
	api.Use(s.identity())
	{
		api.POST("/transactions", s.handleCreateTransaction)
		api.GET("/transactions", s.handleListTransactions)
		api.GET("/transactions/:id", s.handleGetTransaction)
		api.POST("/transactions/:id/validate", s.handleValidateTransaction)
		api.POST("/transactions/:id/reverse", s.handleReverseTransaction)

		api.POST("/instruments", s.handleCreateInstrument)
		api.GET("/instruments", s.handleListInstruments)
		api.PATCH("/instruments/:id", s.handleUpdateInstrument)
		api.GET("/instruments/:id/movements", s.handleInstrumentMovements)
		api.GET("/instruments/:id/stock", s.handleInstrumentStock)

		api.POST("/instruments/:id/assets", s.handleGenerateAssets)
		api.GET("/instruments/:id/assets", s.handleListAssets)
		api.PATCH("/assets/:id", s.handleUpdateAsset)
		api.DELETE("/assets/:id", s.handleDeactivateAsset)

		api.POST("/sets", s.handleCreateSet)
		api.GET("/sets", s.handleListSets)
		api.GET("/sets/:id/availability", s.handleSetAvailability)
		api.PATCH("/sets/:id", s.handleUpdateSet)

		api.POST("/units", s.handleCreateUnit)
		api.GET("/units", s.handleListUnits)
		api.DELETE("/units/:id", s.handleDeactivateUnit)
		api.GET("/units/:id/overdue", s.handleUnitOverdue)
		api.POST("/units/:id/stocktake", s.handleStockTake)

		api.POST("/wash", s.handleWash)
		api.POST("/packs", s.handleCreatePack)
		api.POST("/sterilize", s.handleSterilize)

		api.GET("/audit", s.handleAuditRun)
		api.POST("/admin/adjust", s.handleAdminAdjust)
		api.POST("/admin/recompute-totals", s.handleRecomputeTotals)
	}
}

// Router returns the gin router for serving and tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	status := s.monitor.Snapshot()
	status["status"] = "ok"
	if err := s.db.DB().Ping(); err != nil {
		status["status"] = "degraded"
		status["database_error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

// fail maps domain sentinels onto HTTP status codes
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrNotFound),
		errors.Is(err, ledger.ErrUnknownInstrument),
		errors.Is(err, sets.ErrUnknownSet),
		errors.Is(err, packs.ErrUnknownPack),
		errors.Is(err, assets.ErrUnknownAsset),
		gorm.IsRecordNotFoundError(err):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientStock),
		errors.Is(err, engine.ErrOverdueBlocked),
		errors.Is(err, engine.ErrAlreadyCompleted),
		errors.Is(err, engine.ErrInvalidTransition),
		errors.Is(err, packs.ErrPackState),
		errors.Is(err, sets.ErrInactiveSet),
		errors.Is(err, sets.ErrEmptySet):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

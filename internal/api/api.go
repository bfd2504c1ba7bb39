package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"tool-factory/internal/config"
	"tool-factory/internal/models"
	"tool-factory/internal/ranker"
	"tool-factory/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler serves the operator dashboard API.
type Handler struct {
	store  *store.Store
	ranker *ranker.Ranker
	cfg    *config.Config
	hub    *Hub
}

// SetupRoutes registers all dashboard endpoints on the router.
func SetupRoutes(r *gin.Engine, st *store.Store, rk *ranker.Ranker, cfg *config.Config, hub *Hub) *Handler {
	h := &Handler{store: st, ranker: rk, cfg: cfg, hub: hub}

	r.GET("/health", h.Health)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ranking", h.GetRanking)
		apiGroup.GET("/tools", h.GetTools)
		apiGroup.GET("/runs", h.GetRuns)
		apiGroup.GET("/runs/:date", h.GetRun)
	}

	r.GET("/ws/runs", h.RunEvents)

	return h
}

// Health is the liveness probe.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetRanking returns the current performance ranking.
func (h *Handler) GetRanking(c *gin.Context) {
	days := h.cfg.Ranker.LookbackDays
	if v := c.Query("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}

	ranking, err := h.ranker.Rank(time.Now(), days)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "ranking": ranking})
}

// GetTools lists every tool.
func (h *Handler) GetTools(c *gin.Context) {
	tools, err := h.store.ListTools()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": tools})
}

// GetRuns lists recent run records, newest first.
func (h *Handler) GetRuns(c *gin.Context) {
	limit := 30
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := h.store.ListRunRecords(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetRun returns one day's run record with its actions.
func (h *Handler) GetRun(c *gin.Context) {
	date, err := time.Parse(models.DateLayout, c.Param("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	rec, err := h.store.GetRunRecord(date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run for date"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// RunEvents upgrades the connection and streams live run events.
func (h *Handler) RunEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}
	h.hub.add(conn)

	// Reader loop only detects disconnects; clients never send data.
	go func() {
		defer h.hub.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

package web

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"arbmesh/config"
	"arbmesh/storage"
	"arbmesh/strategy"
)

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.GetSnapshot())
}

func (s *Server) handleWarmup(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.GetSnapshot().Warmup)
}

func (s *Server) handlePerformance(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.GetSnapshot().Performance)
}

func (s *Server) handleSystem(c *gin.Context) {
	if s.watchdog == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.watchdog.Last())
}

// handleEvents 事件查询：默认返回内存缓冲，带 source/level 过滤时走存储
func (s *Server) handleEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	level := c.Query("level")
	source := c.Query("source")
	symbol := c.Query("symbol")

	if level == "" && source == "" && symbol == "" {
		c.JSON(http.StatusOK, s.center.Recent(limit))
		return
	}

	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "存储未启用"})
		return
	}
	records, err := s.store.GetEvents(c.Request.Context(), &storage.EventFilter{
		Level:  level,
		Source: source,
		Symbol: symbol,
		Limit:  limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) handleFills(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "存储未启用"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	fills, err := s.store.GetFills(c.Request.Context(), &storage.FillFilter{
		Venue:  c.Query("venue"),
		Symbol: c.Query("symbol"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, fills)
}

func (s *Server) handleStart(c *gin.Context) {
	if err := s.orch.Start(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s.orch.Status()})
}

func (s *Server) handleStop(c *gin.Context) {
	var req struct {
		Flatten bool `json:"flatten"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := s.orch.Stop(req.Flatten); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s.orch.Status()})
}

func (s *Server) handleSetMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.orch.SetMode(strategy.Mode(req.Mode)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": req.Mode})
}

func (s *Server) handleSetLive(c *gin.Context) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.orch.SetLiveOrders(req.Enabled); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"live_orders": req.Enabled})
}

func (s *Server) handleUpdateSymbols(c *gin.Context) {
	var req struct {
		Symbols []config.SymbolConfig `json:"symbols" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.orch.UpdateSymbols(req.Symbols); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(req.Symbols)})
}

func (s *Server) handleSymbolParams(c *gin.Context) {
	symbol := c.Param("symbol")
	var req struct {
		ZEntry       float64 `json:"z_entry"`
		ZExit        float64 `json:"z_exit"`
		MaxPosition  float64 `json:"max_position"`
		BaseOrderQty float64 `json:"base_order_qty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.orch.UpdateSymbolParams(symbol, req.ZEntry, req.ZExit, req.MaxPosition, req.BaseOrderQty); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol})
}

func (s *Server) handleFlatten(c *gin.Context) {
	symbol := c.Param("symbol")
	if err := s.orch.FlattenSymbol(c.Request.Context(), symbol); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "flattened": true})
}

func (s *Server) handleCredentials(c *gin.Context) {
	var req struct {
		Venue     string `json:"venue" binding:"required"`
		APIKey    string `json:"api_key" binding:"required"`
		APISecret string `json:"api_secret" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.orch.ApplyCredentials(req.Venue, req.APIKey, req.APISecret); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"venue": req.Venue})
}

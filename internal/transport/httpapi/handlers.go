package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"keel/internal/config"
	"keel/internal/journal"
	"keel/internal/logger"
	"keel/internal/manager"

	"github.com/gin-gonic/gin"
)

// fillLister is the slice of the journal the API needs.
type fillLister interface {
	RecentFills(symbol string, limit int) ([]journal.FillRecord, error)
}

type handlers struct {
	mgr     *manager.TradingManager
	reload  func() (*config.Config, error)
	journal fillLister
}

func (h *handlers) register(g *gin.RouterGroup) {
	g.GET("/status", h.handleStatus)
	g.GET("/status/:symbol", h.handleStatusSymbol)
	g.POST("/start/:symbol", h.handleStart)
	g.POST("/stop/:symbol", h.handleStop)
	g.POST("/risk/reset/all", h.handleRiskResetAll)
	g.POST("/risk/reset/:symbol", h.handleRiskReset)
	g.GET("/config", h.handleConfigGet)
	g.POST("/config", h.handleConfigPost)
	g.POST("/config/reload", h.handleConfigReload)
	g.POST("/config/:symbol", h.handleConfigPostSymbol)
	g.GET("/fills/:symbol", h.handleFills)
}

func (h *handlers) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"assets": h.mgr.Status()})
}

func (h *handlers) handleStatusSymbol(c *gin.Context) {
	st, err := h.mgr.StatusOf(c.Param("symbol"))
	if err != nil {
		symbolError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handlers) handleStart(c *gin.Context) {
	symbol := c.Param("symbol")
	if err := h.mgr.Start(c.Request.Context(), symbol); err != nil {
		symbolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "running": true})
}

func (h *handlers) handleStop(c *gin.Context) {
	symbol := c.Param("symbol")
	if err := h.mgr.Stop(symbol); err != nil {
		symbolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "running": false})
}

func (h *handlers) handleRiskReset(c *gin.Context) {
	symbol := c.Param("symbol")
	if err := h.mgr.ResetRisk(symbol); err != nil {
		symbolError(c, err)
		return
	}
	logger.Infof("risk reset for %s requested via API", symbol)
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "reset": true})
}

func (h *handlers) handleRiskResetAll(c *gin.Context) {
	h.mgr.ResetRiskAll()
	logger.Infof("fleet-wide risk reset requested via API")
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

func (h *handlers) handleConfigGet(c *gin.Context) {
	c.JSON(http.StatusOK, redactConfig(h.mgr.Config()))
}

func (h *handlers) handleConfigPost(c *gin.Context) {
	var cfg config.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := cfg.Finalize(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.mgr.ApplyConfig(c.Request.Context(), &cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": true, "assets": len(cfg.Assets)})
}

// assetUpdate is a partial change to one asset block. Nil fields keep
// their current values.
type assetUpdate struct {
	Enabled         *bool              `json:"enabled"`
	Interval        *string            `json:"interval"`
	Strategy        *string            `json:"strategy"`
	Template        *string            `json:"template"`
	Params          map[string]any     `json:"params"`
	StartingCapital *float64           `json:"starting_capital"`
	PositionPct     *float64           `json:"position_pct"`
	StopLossPct     *float64           `json:"stop_loss_pct"`
	Risk            *config.RiskConfig `json:"risk"`
}

func (h *handlers) handleConfigPostSymbol(c *gin.Context) {
	var upd assetUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	symbol := c.Param("symbol")

	// Config() hands back shared state; mutate a copy only.
	cur := h.mgr.Config()
	cfg := *cur
	cfg.Assets = append([]config.AssetConfig(nil), cur.Assets...)

	idx := -1
	for i := range cfg.Assets {
		if strings.EqualFold(strings.TrimSpace(cfg.Assets[i].Symbol), strings.TrimSpace(symbol)) {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol: " + symbol})
		return
	}

	a := &cfg.Assets[idx]
	if upd.Enabled != nil {
		a.Enabled = *upd.Enabled
	}
	if upd.Interval != nil {
		a.Interval = *upd.Interval
	}
	if upd.Strategy != nil {
		a.Strategy = *upd.Strategy
	}
	if upd.Template != nil {
		a.Template = *upd.Template
	}
	if upd.Params != nil {
		a.Params = upd.Params
	}
	if upd.StartingCapital != nil {
		a.StartingCapital = *upd.StartingCapital
	}
	if upd.PositionPct != nil {
		a.PositionPct = *upd.PositionPct
	}
	if upd.StopLossPct != nil {
		a.StopLossPct = *upd.StopLossPct
	}
	if upd.Risk != nil {
		risk := *upd.Risk
		a.Risk = &risk
	}

	if err := cfg.Finalize(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.mgr.ApplyConfig(c.Request.Context(), &cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": a.Symbol, "asset": *a})
}

func (h *handlers) handleConfigReload(c *gin.Context) {
	if h.reload == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reload not configured"})
		return
	}
	cfg, err := h.reload()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.mgr.ApplyConfig(c.Request.Context(), cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reloaded": true, "assets": len(cfg.Assets)})
}

func (h *handlers) handleFills(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	fills, err := h.journal.RecentFills(c.Param("symbol"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"fills": fills})
}

func symbolError(c *gin.Context, err error) {
	if errors.Is(err, manager.ErrUnknownSymbol) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

const redactedPlaceholder = "********"

// redactConfig copies the config with credentials masked.
func redactConfig(cfg *config.Config) config.Config {
	out := *cfg
	if out.App.AuthToken != "" {
		out.App.AuthToken = redactedPlaceholder
	}
	if out.Exchange.APIKey != "" {
		out.Exchange.APIKey = redactedPlaceholder
	}
	if out.Exchange.APISecret != "" {
		out.Exchange.APISecret = redactedPlaceholder
	}
	if out.Notify.Telegram.BotToken != "" {
		out.Notify.Telegram.BotToken = redactedPlaceholder
	}
	return out
}

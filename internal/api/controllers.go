package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"listing-core/pkg/db"
)

func (s *Server) getStatus(c *gin.Context) {
	status, err := s.Engine.GetStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) getProfile(c *gin.Context) {
	userID := CurrentUserID(c)
	profile, err := s.Engine.Settings.Snapshot(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	if profile == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "PROFILE_NOT_FOUND",
			"error": "no trade profile for user",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trade_amount":      profile.TradeAmount,
		"leverage":          profile.Leverage,
		"leverage_override": profile.LeverageOverride,
		"take_profit_ratio": profile.TakeProfitRatio,
		"auto_trading":      profile.AutoTrading,
		"emergency_stop":    profile.EmergencyStop,
	})
}

func (s *Server) updateProfile(c *gin.Context) {
	var req struct {
		TradeAmount      float64 `json:"trade_amount"`
		Leverage         int     `json:"leverage"`
		LeverageOverride int     `json:"leverage_override"`
		TakeProfitRatio  float64 `json:"take_profit_ratio"`
		AutoTrading      bool    `json:"auto_trading"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	if req.TradeAmount <= 0 || req.Leverage <= 0 || req.TakeProfitRatio <= 1.0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PARAMS",
			"error": "trade_amount and leverage must be positive, take_profit_ratio must exceed 1.0",
		})
		return
	}

	userID := CurrentUserID(c)
	err := s.Engine.Settings.UpdateProfile(c.Request.Context(), db.Profile{
		UserID:           userID,
		TradeAmount:      req.TradeAmount,
		Leverage:         req.Leverage,
		LeverageOverride: req.LeverageOverride,
		TakeProfitRatio:  req.TakeProfitRatio,
		AutoTrading:      req.AutoTrading,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (s *Server) saveCredentials(c *gin.Context) {
	var req struct {
		APIKey     string `json:"api_key"`
		APISecret  string `json:"api_secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	if strings.TrimSpace(req.APIKey) == "" || strings.TrimSpace(req.APISecret) == "" || strings.TrimSpace(req.Passphrase) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "MISSING_CREDENTIALS",
			"error": "api_key, api_secret and passphrase are required",
		})
		return
	}

	userID := CurrentUserID(c)
	if err := s.Engine.SaveCredentials(c.Request.Context(), userID, req.APIKey, req.APISecret, req.Passphrase); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}

func (s *Server) getPositions(c *gin.Context) {
	userID := CurrentUserID(c)
	positions, err := s.Engine.DB.GetPositionsByUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	out := make([]gin.H, 0, len(positions))
	for _, p := range positions {
		out = append(out, gin.H{
			"id":           p.ID,
			"symbol":       p.Symbol,
			"event_id":     p.EventID,
			"entry_price":  p.EntryPrice,
			"size":         p.Size,
			"leverage":     p.Leverage,
			"status":       p.Status,
			"realized_pnl": p.RealizedPnL,
			"opened_at":    p.OpenedAt,
			"closed_at":    p.ClosedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"positions": out})
}

// manualTrade queues an entry for the authenticated user as if the symbol
// had just listed.
func (s *Server) manualTrade(c *gin.Context) {
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := c.BindJSON(&req); err != nil || strings.TrimSpace(req.Symbol) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "symbol is required",
		})
		return
	}

	userID := CurrentUserID(c)
	if err := s.Engine.ManualTrade(userID, strings.ToUpper(strings.TrimSpace(req.Symbol))); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

// emergencyStop queues an emergency stop for the authenticated user.
func (s *Server) emergencyStop(c *gin.Context) {
	userID := CurrentUserID(c)
	if err := s.Engine.EmergencyStop(userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lendingScope/internal/lending"
	"lendingScope/internal/model"
)

// Handler exposes engine operations over HTTP.
type Handler struct {
	engine *lending.Engine
	logger *zap.Logger
}

func NewHandler(engine *lending.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, logger: logger}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/v1")

	g.GET("/pools", h.ListPools)
	g.POST("/pools", h.InitPool)
	g.GET("/pools/:asset", h.GetPool)
	g.POST("/pools/:asset/accrue", h.AccruePool)

	g.POST("/positions", h.InitPosition)
	g.GET("/positions/:owner", h.GetPosition)
	g.POST("/positions/:owner/deposit", h.balanceOp(h.engine.Deposit))
	g.POST("/positions/:owner/withdraw", h.balanceOp(h.engine.Withdraw))
	g.POST("/positions/:owner/borrow", h.balanceOp(h.engine.Borrow))
	g.POST("/positions/:owner/repay", h.balanceOp(h.engine.Repay))
	g.PUT("/positions/:owner/monitoring", h.SetMonitoring)
	g.PUT("/positions/:owner/threshold", h.SetThreshold)
	g.POST("/positions/:owner/health", h.CheckHealth)
	g.GET("/positions/:owner/snapshots", h.ListSnapshots)
	g.POST("/positions/:owner/snapshots", h.CreateSnapshot)

	g.POST("/liquidations", h.Liquidate)
}

type initPoolRequest struct {
	Asset                  string  `json:"asset" binding:"required"`
	LiquidationThreshold   uint64  `json:"liquidation_threshold"`
	MaxLTV                 uint64  `json:"max_ltv"`
	LiquidationBonus       *uint64 `json:"liquidation_bonus"`
	LiquidationCloseFactor *uint64 `json:"liquidation_close_factor"`
	BaseRateBps            *uint64 `json:"base_rate_bps"`
	Slope1Bps              *uint64 `json:"slope1_bps"`
	Slope2Bps              *uint64 `json:"slope2_bps"`
	OptimalUtilizationBps  *uint64 `json:"optimal_utilization_bps"`
}

func (r initPoolRequest) params() lending.PoolParams {
	p := lending.DefaultPoolParams(r.Asset, r.LiquidationThreshold, r.MaxLTV)
	override := func(dst *uint64, src *uint64) {
		if src != nil {
			*dst = *src
		}
	}
	override(&p.LiquidationBonus, r.LiquidationBonus)
	override(&p.LiquidationCloseFactor, r.LiquidationCloseFactor)
	override(&p.BaseRateBps, r.BaseRateBps)
	override(&p.Slope1Bps, r.Slope1Bps)
	override(&p.Slope2Bps, r.Slope2Bps)
	override(&p.OptimalUtilizationBps, r.OptimalUtilizationBps)
	return p
}

func (h *Handler) InitPool(c *gin.Context) {
	var req initPoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pool, err := h.engine.InitPool(c.Request.Context(), req.params())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, pool)
}

func (h *Handler) ListPools(c *gin.Context) {
	pools, err := h.engine.Pools(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pools": pools})
}

func (h *Handler) GetPool(c *gin.Context) {
	pool, err := h.engine.Pool(c.Request.Context(), c.Param("asset"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pool)
}

func (h *Handler) AccruePool(c *gin.Context) {
	interest, err := h.engine.AccruePool(c.Request.Context(), c.Param("asset"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": c.Param("asset"), "interest": interest})
}

func (h *Handler) InitPosition(c *gin.Context) {
	var req struct {
		Owner       string `json:"owner" binding:"required"`
		StableAsset string `json:"stable_asset"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	owner, ok := parseOwner(c, req.Owner)
	if !ok {
		return
	}
	pos, err := h.engine.InitPosition(c.Request.Context(), owner, req.StableAsset)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, pos)
}

func (h *Handler) GetPosition(c *gin.Context) {
	owner, ok := parseOwner(c, c.Param("owner"))
	if !ok {
		return
	}
	pos, err := h.engine.Position(c.Request.Context(), owner)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"position":      pos,
		"health_factor": lending.FormatBps(pos.HealthFactor),
	})
}

type balanceFunc func(ctx context.Context, owner common.Address, asset string, amount uint64) (lending.Result, error)

// balanceOp adapts deposit, withdraw, borrow and repay to one request shape.
func (h *Handler) balanceOp(op balanceFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, ok := parseOwner(c, c.Param("owner"))
		if !ok {
			return
		}
		var req struct {
			Asset  string `json:"asset" binding:"required"`
			Amount uint64 `json:"amount"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := op(c.Request.Context(), owner, req.Asset, req.Amount)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"asset":         res.Asset,
			"amount":        res.Amount,
			"shares":        res.Shares,
			"health_factor": lending.FormatBps(res.HealthFactor),
		})
	}
}

func (h *Handler) SetMonitoring(c *gin.Context) {
	owner, ok := parseOwner(c, c.Param("owner"))
	if !ok {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var err error
	if req.Enabled {
		err = h.engine.EnableMonitoring(c.Request.Context(), owner)
	} else {
		err = h.engine.DisableMonitoring(c.Request.Context(), owner)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": owner.Hex(), "enabled": req.Enabled})
}

func (h *Handler) SetThreshold(c *gin.Context) {
	owner, ok := parseOwner(c, c.Param("owner"))
	if !ok {
		return
	}
	var req struct {
		Threshold      uint64 `json:"threshold"`
		FrequencyHours uint64 `json:"frequency_hours"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.SetThreshold(c.Request.Context(), owner, req.Threshold, req.FrequencyHours); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": owner.Hex(), "threshold": req.Threshold, "frequency_hours": req.FrequencyHours})
}

func (h *Handler) CheckHealth(c *gin.Context) {
	owner, ok := parseOwner(c, c.Param("owner"))
	if !ok {
		return
	}
	v, err := h.engine.CheckHealth(c.Request.Context(), owner)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"health_factor":          v.HealthFactor,
		"health_factor_display":  lending.FormatBps(v.HealthFactor),
		"total_collateral_value": v.TotalCollateralValue,
		"total_borrowed_value":   v.TotalBorrowedValue,
		"prices":                 v.Prices,
	})
}

func (h *Handler) CreateSnapshot(c *gin.Context) {
	owner, ok := parseOwner(c, c.Param("owner"))
	if !ok {
		return
	}
	snap, err := h.engine.CreateSnapshot(c.Request.Context(), owner)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (h *Handler) ListSnapshots(c *gin.Context) {
	owner, ok := parseOwner(c, c.Param("owner"))
	if !ok {
		return
	}
	snaps, err := h.engine.Snapshots(c.Request.Context(), owner)
	if err != nil {
		h.fail(c, err)
		return
	}
	if snaps == nil {
		snaps = []model.HealthSnapshot{}
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

func (h *Handler) Liquidate(c *gin.Context) {
	var req struct {
		Liquidator      string `json:"liquidator" binding:"required"`
		Borrower        string `json:"borrower" binding:"required"`
		DebtAsset       string `json:"debt_asset" binding:"required"`
		CollateralAsset string `json:"collateral_asset" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	liquidator, ok := parseOwner(c, req.Liquidator)
	if !ok {
		return
	}
	borrower, ok := parseOwner(c, req.Borrower)
	if !ok {
		return
	}
	res, err := h.engine.Liquidate(c.Request.Context(), lending.LiquidationRequest{
		Liquidator:      liquidator,
		Borrower:        borrower,
		DebtAsset:       req.DebtAsset,
		CollateralAsset: req.CollateralAsset,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"repaid":        res.Repaid,
		"seized":        res.Seized,
		"health_factor": lending.FormatBps(res.HealthFactor),
	})
}

func parseOwner(c *gin.Context, input string) (common.Address, bool) {
	if !common.IsHexAddress(input) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner address"})
		return common.Address{}, false
	}
	return common.HexToAddress(input), true
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": lending.Kind(err)})
}

// StatusFor maps engine errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, lending.ErrOracle):
		return http.StatusBadGateway
	case errors.Is(err, lending.ErrLiquidationUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, lending.ErrPoolNotFound), errors.Is(err, lending.ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, lending.ErrPoolExists), errors.Is(err, lending.ErrPositionExists),
		errors.Is(err, lending.ErrSnapshotExists):
		return http.StatusConflict
	case errors.Is(err, lending.ErrInvalidAmount), errors.Is(err, lending.ErrInvalidThreshold),
		errors.Is(err, lending.ErrInvalidAlertFrequency), errors.Is(err, lending.ErrOverLTV):
		return http.StatusBadRequest
	case errors.Is(err, lending.ErrInsufficientFunds), errors.Is(err, lending.ErrOverRepay),
		errors.Is(err, lending.ErrOverBorrowableAmount), errors.Is(err, lending.ErrUnderCollateralized),
		errors.Is(err, lending.ErrNotUndercollateralized), errors.Is(err, lending.ErrSeizureBounds):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

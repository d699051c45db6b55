package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ecochain/ecochain/internal/ledger"
)

// LedgerHandler exposes read-only HTTP endpoints for the block ledger.
type LedgerHandler struct {
	ledger ledger.Ledger
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(l ledger.Ledger, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/verify", h.Verify)
		l.GET("/blocks/:idx", h.GetBlock)
		l.GET("/export", h.Export)
		l.GET("/proof/:hash", h.Proof)
	}
}

// Overview handles GET /ledger and returns the chain summary.
func (h *LedgerHandler) Overview(c *gin.Context) {
	s, err := ledger.Summarize(c.Request.Context(), h.ledger)
	if err != nil {
		h.logger.Error("ledger summary", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	SetChainValid(s.IsValid)
	c.JSON(http.StatusOK, s)
}

// Verify handles GET /ledger/verify by walking the full chain.
func (h *LedgerHandler) Verify(c *gin.Context) {
	ctx := c.Request.Context()

	valid, err := h.ledger.IsValid(ctx)
	if err != nil {
		h.logger.Error("ledger IsValid", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify ledger"})
		return
	}
	n, err := h.ledger.Len(ctx)
	if err != nil {
		h.logger.Error("ledger Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}

	SetChainValid(valid)
	if !valid {
		h.logger.Warn("ledger integrity check failed", zap.Int("blocks", n))
	}
	c.JSON(http.StatusOK, gin.H{"valid": valid, "blocks": n})
}

// GetBlock handles GET /ledger/blocks/:idx.
func (h *LedgerHandler) GetBlock(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	b, err := h.ledger.Get(c.Request.Context(), idx)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "block not found"})
			return
		}
		h.logger.Error("ledger Get", zap.Int("idx", idx), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get block"})
		return
	}
	c.JSON(http.StatusOK, b)
}

// Export handles GET /ledger/export: the whole chain as a JSON array.
func (h *LedgerHandler) Export(c *gin.Context) {
	out, err := ledger.Export(c.Request.Context(), h.ledger)
	if err != nil {
		h.logger.Error("ledger export", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to export ledger"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="ecochain-ledger.json"`)
	c.Data(http.StatusOK, "application/json", out)
}

// Proof handles GET /ledger/proof/:hash: proof of inclusion for a token hash.
// An unknown token yields 404 with verified=false.
func (h *LedgerHandler) Proof(c *gin.Context) {
	p, err := h.ledger.ProofOfInclusion(c.Request.Context(), c.Param("hash"))
	if err != nil {
		h.logger.Error("ledger proof", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build proof"})
		return
	}
	if !p.Verified {
		c.JSON(http.StatusNotFound, p)
		return
	}
	c.JSON(http.StatusOK, p)
}

package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ecochain/ecochain/internal/auth"
	"github.com/ecochain/ecochain/internal/emission"
	"github.com/ecochain/ecochain/internal/registry/service"
	"github.com/ecochain/ecochain/internal/token"
)

// TokenHandler handles emission calculation, token issuance, verification and
// the public registry.
type TokenHandler struct {
	svc    *service.IssuanceService
	issuer *auth.Issuer // nil = issuance is open
	logger *zap.Logger
}

// NewTokenHandler creates a new TokenHandler. issuer may be nil to leave
// POST /tokens unauthenticated.
func NewTokenHandler(svc *service.IssuanceService, issuer *auth.Issuer, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{svc: svc, issuer: issuer, logger: logger}
}

func (h *TokenHandler) requireIssuer() gin.HandlerFunc {
	if h.issuer == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return auth.RequireIssuer(h.issuer)
}

// Register mounts the token routes on the given router group.
func (h *TokenHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/emissions/calculate", h.Calculate)
	rg.GET("/emissions/business-types", h.BusinessTypes)

	tokens := rg.Group("/tokens")
	{
		tokens.POST("", h.requireIssuer(), h.Issue)
		tokens.GET("", h.List)
		tokens.POST("/verify", h.Verify)
		tokens.GET("/:hash", h.Get)
	}

	reg := rg.Group("/registry")
	{
		reg.GET("", h.Registry)
		reg.GET("/proof/:hash", h.RegistryProof)
	}
}

// Calculate handles POST /emissions/calculate.
func (h *TokenHandler) Calculate(c *gin.Context) {
	req := emission.NewInput()
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	a, err := h.svc.Calculate(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, a)
}

// BusinessTypes handles GET /emissions/business-types.
func (h *TokenHandler) BusinessTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"business_types": emission.BusinessTypes()})
}

// Issue handles POST /tokens: calculate, issue and record a token.
func (h *TokenHandler) Issue(c *gin.Context) {
	req := service.IssueRequest{Input: emission.NewInput()}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	out, err := h.svc.Issue(c.Request.Context(), req)
	if err != nil {
		var rejected *service.RejectedError
		if errors.As(err, &rejected) {
			RecordIssuanceRejected()
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "risk": rejected.Report})
			return
		}
		if service.IsValidation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("issue token", zap.String("sme_id", req.SMEID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	RecordTokenIssued(out.Token.BusinessType, out.Token.EmissionsReducedKg)
	RecordLedgerAppend()
	if claims := auth.ClaimsFromCtx(c); claims != nil {
		h.logger.Info("token issued by", zap.String("issuer", claims.Subject), zap.String("token_id", out.Token.TokenID))
	}
	c.JSON(http.StatusCreated, out)
}

// List handles GET /tokens.
func (h *TokenHandler) List(c *gin.Context) {
	toks, err := h.svc.Tokens(c.Request.Context())
	if err != nil {
		h.logger.Error("list tokens", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tokens"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": toks, "count": len(toks)})
}

// Get handles GET /tokens/:hash: the recorded token and its block.
func (h *TokenHandler) Get(c *gin.Context) {
	rec, err := h.svc.Lookup(c.Request.Context(), c.Param("hash"))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
			return
		}
		h.logger.Error("lookup token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up token"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Verify handles POST /tokens/verify. The body is a full token as issued.
func (h *TokenHandler) Verify(c *gin.Context) {
	var tok token.Token
	if err := c.ShouldBindJSON(&tok); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token: " + err.Error()})
		return
	}
	if tok.Hash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token has no hash"})
		return
	}

	v, err := h.svc.VerifyToken(c.Request.Context(), &tok)
	if err != nil {
		h.logger.Error("verify token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify token"})
		return
	}
	RecordVerification(v.Verified)
	c.JSON(http.StatusOK, v)
}

// Registry handles GET /registry: every token hash and their Merkle root.
func (h *TokenHandler) Registry(c *gin.Context) {
	reg, err := h.svc.RegistryRoot(c.Request.Context())
	if err != nil {
		h.logger.Error("registry root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build registry"})
		return
	}
	c.JSON(http.StatusOK, reg)
}

// RegistryProof handles GET /registry/proof/:hash.
func (h *TokenHandler) RegistryProof(c *gin.Context) {
	p, err := h.svc.RegistryProof(c.Request.Context(), c.Param("hash"))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
			return
		}
		h.logger.Error("registry proof", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build proof"})
		return
	}
	c.JSON(http.StatusOK, p)
}

package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	mw "github.com/talentx/authcore/middleware"
)

func (h *Handler) AddMFAAPI(rg *gin.RouterGroup) {
	mfa := rg.Group("/mfa")
	mfa.POST("/verify", h.verifyMFALogin)
	mfa.POST("/enroll", h.setupMFAEnrollment)
	mfa.POST("/enroll/confirm", h.confirmMFAEnrollment)

	authed := mfa.Group("", mw.RequireAuth(h.engine))
	authed.POST("/setup", h.setupMFA)
	authed.POST("/confirm", h.confirmMFA)
	authed.POST("/disable", h.disableMFA)
	authed.GET("/status", h.mfaStatus)
}

type mfaCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

type mfaLoginRequest struct {
	MFAToken string `json:"mfaToken" binding:"required"`
	Code     string `json:"code" binding:"required"`
}

type mfaEnrollRequest struct {
	MFAToken string `json:"mfaToken" binding:"required"`
}

type mfaDisableRequest struct {
	Password string `json:"password" binding:"required"`
	Code     string `json:"code" binding:"required"`
}

func (h *Handler) verifyMFALogin(c *gin.Context) {
	var req mfaLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.engine.CompleteMFALogin(c.Request.Context(), req.MFAToken, req.Code)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// setupMFAEnrollment and confirmMFAEnrollment serve logins parked because the
// account must enroll first. They authenticate with the mfaToken only.
func (h *Handler) setupMFAEnrollment(c *gin.Context) {
	var req mfaEnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	setup, err := h.engine.SetupMFAEnrollment(c.Request.Context(), req.MFAToken)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, setup)
}

func (h *Handler) confirmMFAEnrollment(c *gin.Context) {
	var req mfaLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.engine.ConfirmMFAEnrollment(c.Request.Context(), req.MFAToken, req.Code)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) setupMFA(c *gin.Context) {
	id, _ := mw.Identity(c)
	setup, err := h.engine.SetupMFA(c.Request.Context(), id.AccountID)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, setup)
}

func (h *Handler) confirmMFA(c *gin.Context) {
	var req mfaCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id, _ := mw.Identity(c)
	codes, err := h.engine.ConfirmMFA(c.Request.Context(), id.AccountID, req.Code)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "backupCodes": codes})
}

func (h *Handler) disableMFA(c *gin.Context) {
	var req mfaDisableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id, _ := mw.Identity(c)
	if err := h.engine.DisableMFA(c.Request.Context(), id.AccountID, req.Password, req.Code); err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": false})
}

func (h *Handler) mfaStatus(c *gin.Context) {
	id, _ := mw.Identity(c)
	st, err := h.engine.MFAStatus(c.Request.Context(), id.AccountID)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

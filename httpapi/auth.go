package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/talentx/authcore"
	mw "github.com/talentx/authcore/middleware"
)

func (h *Handler) AddAuthAPI(rg *gin.RouterGroup) {
	rg.POST("/register", h.register)
	rg.POST("/login", h.login)
	rg.POST("/refresh", h.refresh)
	rg.POST("/logout", mw.RequireAuth(h.engine), h.logout)

	rg.POST("/otp/request", h.requestOTP)
	rg.POST("/otp/verify", h.verifyOTP)

	rg.POST("/forgot-password", h.forgotPassword)
	rg.POST("/reset-password", h.resetPassword)
	rg.POST("/change-password", mw.RequireAuth(h.engine), h.changePassword)

	rg.GET("/me", mw.RequireAuth(h.engine), h.me)
	rg.POST("/invite", mw.RequireAuth(h.engine), mw.RequirePermission("users:invite"), h.invite)
}

type registerRequest struct {
	Email     string `json:"email" binding:"required"`
	Password  string `json:"password" binding:"required"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	TenantID  string `json:"tenantId"`
	Role      string `json:"role"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.engine.Register(c.Request.Context(), authcore.RegisterRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		TenantID:  req.TenantID,
		Role:      req.Role,
	})
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	TenantID string `json:"tenantId"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.engine.Login(c.Request.Context(), authcore.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
		TenantID: req.TenantID,
	})
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

func (h *Handler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pair, err := h.engine.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h *Handler) logout(c *gin.Context) {
	id, _ := mw.Identity(c)
	if err := h.engine.Logout(c.Request.Context(), id.AccountID); err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

type otpRequest struct {
	Email    string `json:"email" binding:"required"`
	TenantID string `json:"tenantId"`
	Type     string `json:"type"`
}

func otpType(s string) authcore.OTPType {
	if s == "" {
		return authcore.OTPLogin
	}
	return authcore.OTPType(strings.ToUpper(s))
}

func (h *Handler) requestOTP(c *gin.Context) {
	var req otpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.engine.RequestOTP(c.Request.Context(), authcore.OTPRequest{
		Email:    req.Email,
		TenantID: req.TenantID,
		Type:     otpType(req.Type),
	})
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type otpVerifyRequest struct {
	Email    string `json:"email" binding:"required"`
	TenantID string `json:"tenantId"`
	Code     string `json:"code" binding:"required"`
	Type     string `json:"type"`
}

func (h *Handler) verifyOTP(c *gin.Context) {
	var req otpVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.engine.VerifyOTP(c.Request.Context(), authcore.OTPVerification{
		Email:    req.Email,
		TenantID: req.TenantID,
		Code:     req.Code,
		Type:     otpType(req.Type),
	})
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type forgotPasswordRequest struct {
	Email    string `json:"email" binding:"required"`
	TenantID string `json:"tenantId"`
}

func (h *Handler) forgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.engine.ForgotPassword(c.Request.Context(), req.Email, req.TenantID); err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "If an account exists for this email, a reset link has been sent."})
}

type resetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

func (h *Handler) resetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.engine.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

func (h *Handler) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id, _ := mw.Identity(c)
	if err := h.engine.ChangePassword(c.Request.Context(), id.AccountID, req.CurrentPassword, req.NewPassword); err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

func (h *Handler) me(c *gin.Context) {
	id, _ := mw.Identity(c)
	profile, err := h.engine.Me(c.Request.Context(), id.AccountID)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

type inviteRequest struct {
	Email     string `json:"email" binding:"required"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role" binding:"required"`
}

// invite creates an account in the caller's tenant.
func (h *Handler) invite(c *gin.Context) {
	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id, _ := mw.Identity(c)
	res, err := h.engine.InviteAccount(c.Request.Context(), authcore.InviteRequest{
		Email:       req.Email,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Role:        req.Role,
		TenantID:    id.TenantID,
		InviterName: strings.TrimSpace(id.FirstName + " " + id.LastName),
	})
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

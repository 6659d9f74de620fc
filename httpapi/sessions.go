package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	mw "github.com/talentx/authcore/middleware"
)

func (h *Handler) AddSessionAPI(rg *gin.RouterGroup) {
	rg.GET("/session-timeout", h.sessionTimeout)

	sessions := rg.Group("/sessions", mw.RequireAuth(h.engine))
	sessions.GET("", h.listSessions)
	sessions.DELETE("/:id", h.terminateSession)
	sessions.DELETE("", mw.RequireSession(h.engine), h.terminateOtherSessions)
	sessions.POST("/refresh", mw.RequireSession(h.engine), h.refreshSession)
}

// sessionTimeout returns the timeout of ?role=, or the whole table.
func (h *Handler) sessionTimeout(c *gin.Context) {
	if role := c.Query("role"); role != "" {
		c.JSON(http.StatusOK, h.engine.SessionTimeout(role))
		return
	}
	c.JSON(http.StatusOK, gin.H{"timeouts": h.engine.SessionTimeouts()})
}

func (h *Handler) listSessions(c *gin.Context) {
	id, _ := mw.Identity(c)
	list, err := h.engine.ListSessions(c.Request.Context(), id.AccountID, c.GetHeader(mw.SessionHeader))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

func (h *Handler) terminateSession(c *gin.Context) {
	id, _ := mw.Identity(c)
	if err := h.engine.TerminateSession(c.Request.Context(), id.AccountID, c.Param("id")); err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"terminated": 1})
}

func (h *Handler) terminateOtherSessions(c *gin.Context) {
	id, _ := mw.Identity(c)
	n, err := h.engine.TerminateOtherSessions(c.Request.Context(), id.AccountID, mw.SessionToken(c))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"terminated": n})
}

func (h *Handler) refreshSession(c *gin.Context) {
	st, err := h.engine.RefreshSession(c.Request.Context(), mw.SessionToken(c))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

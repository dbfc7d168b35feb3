package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/duocal/internal/middleware"
	"github.com/charlesng35/duocal/pkg/errors"
	"github.com/charlesng35/duocal/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUserID returns the authenticated user, writing a 401 when absent.
func currentUserID(c *gin.Context) (string, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return "", false
	}
	return userID, true
}

func pathID(c *gin.Context) string {
	return strings.TrimSpace(c.Param("id"))
}

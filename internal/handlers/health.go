package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/duocal/pkg/response"
)

// Health reports liveness plus a database ping, answering 503 when storage is unreachable.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		code := http.StatusOK

		if err := pingDatabase(requestContext(c), db); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		response.Success(c, code, gin.H{
			"status":     status,
			"checked_at": time.Now().UTC(),
		})
	}
}

func pingDatabase(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return gorm.ErrInvalidDB
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

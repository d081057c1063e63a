package middleware

import (
	apiError "collaborative-office-suite/internal/errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func ErrorHandler(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next() // Execute the handler first

		if len(c.Errors) == 0 {
			return
		}

		// raw errors we didn't wrap are treated as Internal
		apiErr := apiError.From(c.Errors.Last().Err)

		if apiErr.Status >= 500 {
			log.Error(apiErr.Message,
				zap.String("path", c.Request.URL.Path),
				zap.Error(apiErr.Internal))
		} else {
			log.Info(apiErr.Message,
				zap.String("path", c.Request.URL.Path),
				zap.String("code", apiErr.Code),
				zap.NamedError("cause", apiErr.Internal))
		}

		c.AbortWithStatusJSON(apiErr.Status, apiErr)
	}
}

// RequestLogger logs one line per request.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if userID := c.GetString(ContextUserID); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}
		log.Info("HTTP Request", fields...)
	}
}

package server

import (
	"errors"
	"net/http"

	"ticketboard/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// writeError 把业务错误映射为状态码，内部错误只返回通用信息。
func writeError(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": message(err, "invalid payload")})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": message(err, "not found")})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": message(err, "forbidden")})
	case errors.Is(err, service.ErrQuotaExceeded):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": message(err, "quota exceeded")})
	default:
		log.Error().Err(err).Str("op", op).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func message(err error, fallback string) string {
	var target *service.Error
	if errors.As(err, &target) {
		return target.Msg
	}
	return fallback
}

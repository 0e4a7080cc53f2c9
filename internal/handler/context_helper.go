package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/timetable-api/internal/middleware"
	"github.com/noah-isme/timetable-api/internal/models"
)

func identityFromContext(c *gin.Context) *models.Identity {
	return middleware.IdentityFromContext(c)
}

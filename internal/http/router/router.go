package router

import (
	"github.com/gin-gonic/gin"

	"vidrelay.app/relay/internal/http/handler"
)

// ProbePaths are polled by the hosting platform and logged quietly.
var ProbePaths = []string{"/", "/health", "/ready"}

func SetupRoutes(router *gin.Engine, status *handler.StatusHandler) {
	router.GET("/", status.Root)
	router.HEAD("/", status.Root)
	router.GET("/health", status.Health)
	router.GET("/ready", status.Ready)
	router.GET("/stats", status.Stats)
}

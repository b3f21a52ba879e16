// Package router provides answer service routing.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/answerd/internal/answerd/handler"
)

// Register registers the answer service routes.
func Register(engine *gin.Engine, answerHandler *handler.AnswerHandler) {
	engine.GET("/healthz", answerHandler.Healthz)

	v1 := engine.Group("/v1")
	{
		v1.POST("/answers", answerHandler.CreateAnswer)
		v1.POST("/answers/stream", answerHandler.StreamAnswer)
		v1.GET("/stats", answerHandler.Stats)
	}

	logger.Info("HTTP routes registered")
}

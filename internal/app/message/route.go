package message

import "github.com/gin-gonic/gin"

func RegisterRoutes(rg *gin.RouterGroup, handler Handler) {
	messages := rg.Group("/messages")
	{
		messages.POST("/compact", handler.Compact)
		messages.GET("/buffer/stats", handler.GetBufferStats)
		messages.GET("/message/:id", handler.GetMessageByID)
		messages.PATCH("/message/:id", handler.UpdateMessage)
		messages.DELETE("/message/:id", handler.DeleteMessage)
		messages.POST("/:stream_key", handler.CreateMessage)
		messages.GET("/:stream_key", handler.GetMessagesByStreamKey)
	}
}

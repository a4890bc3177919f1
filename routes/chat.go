package routes

import (
	"fmt"
	"net/http"

	"iqbot/models"
	"iqbot/services"
	"iqbot/utils"

	"github.com/gin-gonic/gin"
)

func SetupChatRoutes(api *gin.RouterGroup, deps Dependencies) {
	chat := api.Group("/chat")

	chat.POST("/ask", handleAsk(deps))
	chat.GET("/history", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"turns": deps.Chat.History()})
	})
	chat.DELETE("/history", func(c *gin.Context) {
		deps.Chat.ResetChat()
		c.JSON(http.StatusOK, gin.H{"message": "chat history reset"})
	})
	chat.GET("/export", handleExport(deps))
}

func handleAsk(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.AskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		ans, err := deps.Chat.Ask(c.Request.Context(), req.Question)
		if err != nil {
			utils.RespondWithBadRequest(c, err.Error(), nil)
			return
		}

		// Sources are only shown next to answers drawn from them.
		citations := ans.Citations
		if !ans.Grounded {
			citations = []models.Citation{}
		}
		c.JSON(http.StatusOK, models.AskResponse{
			Answer:    ans.Text,
			Citations: citations,
			Grounded:  ans.Grounded,
		})
	}
}

func handleExport(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		format := c.DefaultQuery("format", services.ExportFormatJSON)
		data := deps.Export.Collect(deps.Workspace.ID, format, deps.Workspace.Sources(), deps.Chat.History())

		file, err := deps.Export.Render(data, format)
		if err != nil {
			utils.RespondWithBadRequest(c, err.Error(), gin.H{"supported": []string{services.ExportFormatJSON, services.ExportFormatXLSX}})
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
		c.Data(http.StatusOK, file.ContentType, file.Data)
	}
}

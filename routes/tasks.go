package routes

import (
	"errors"
	"net/http"

	"iqbot/internal/queue"
	"iqbot/utils"

	"github.com/gin-gonic/gin"
)

func SetupTaskRoutes(api *gin.RouterGroup, deps Dependencies) {
	api.GET("/tasks/:id", func(c *gin.Context) {
		if deps.Queue == nil {
			respondQueueDisabled(c)
			return
		}

		st, err := deps.Queue.Status(c.Param("id"))
		if err != nil {
			if errors.Is(err, queue.ErrTaskNotFound) {
				utils.RespondWithNotFound(c, "Task not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to read task state", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, st)
	})
}

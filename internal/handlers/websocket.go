package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/ridelink/ridelink-backend/internal/events"
	"github.com/ridelink/ridelink-backend/internal/models"
)

// WebSocket upgrades the connection and hands it to the hub. The auth
// middleware has already validated the token (passed as a query parameter by
// browser clients).
func WebSocket(hub *events.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := models.RoleRider
		if c.GetString("userType") == string(models.UserTypeDriver) {
			role = models.RoleDriver
		}
		hub.HandleWebSocket(c.Writer, c.Request, c.GetUint("userId"), role)
	}
}

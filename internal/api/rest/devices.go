package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenLabCore/internal/types"
)

// GET /api/v1/devices
// Last known status of every bench device, as seen by the monitor.
func (s *Server) listDevices(c *gin.Context) {
	statuses := s.lm.DeviceManager().Statuses()
	if len(statuses) == 0 {
		statuses = s.lm.DeviceManager().ProbeAll()
	}

	connected := 0
	for _, st := range statuses {
		if st.Connected {
			connected++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"devices":   statuses,
		"count":     len(statuses),
		"connected": connected,
	})
}

// POST /api/v1/devices/probe
func (s *Server) probeDevices(c *gin.Context) {
	if s.lm.DeviceManager().Busy() {
		c.JSON(http.StatusConflict, types.NewErrorResponse("DEVICE_409", "Bench is running a recipe", nil))
		return
	}
	statuses := s.lm.DeviceManager().ProbeAll()
	c.JSON(http.StatusOK, gin.H{"devices": statuses, "count": len(statuses)})
}

package home

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"hamlet/api/api/common"
	"hamlet/api/codes"
	"hamlet/api/service"
)

type Agents struct {
	Gate *service.SpawnGate
}

// GET /agents
func (h *Agents) List(c *gin.Context) {
	res := common.Response{}
	res.Timestamp = time.Now().Unix()
	res.Code = codes.CODE_SUCCESS
	res.Msg = "success"
	res.Data = gin.H{
		"spawned": h.Gate.Registry().List(),
		"pending": len(h.Gate.Pending()),
	}
	c.JSON(http.StatusOK, res)
}

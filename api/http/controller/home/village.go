package home

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"hamlet/api/api/common"
	"hamlet/api/codes"
	"hamlet/api/log"
	"hamlet/api/service"
	"hamlet/api/store"
)

type Village struct {
	Store *store.VillageStore
	World *service.World
}

// GET /villages
func (h *Village) List(c *gin.Context) {
	res := common.Response{}
	res.Timestamp = time.Now().Unix()

	villages, err := h.World.RefreshAll(c.Request.Context())
	if err != nil {
		log.Error("list villages error", err)
		res.Code = codes.CODE_ERR_UNKNOWN
		res.Msg = "list villages failed"
		c.JSON(http.StatusOK, res)
		return
	}

	res.Code = codes.CODE_SUCCESS
	res.Msg = "success"
	res.Data = villages
	c.JSON(http.StatusOK, res)
}

// GET /villages/grid/:gx/:gy
func (h *Village) AtGrid(c *gin.Context) {
	res := common.Response{}
	res.Timestamp = time.Now().Unix()

	gx, errX := strconv.Atoi(c.Param("gx"))
	gy, errY := strconv.Atoi(c.Param("gy"))
	if errX != nil || errY != nil {
		res.Code = codes.CODE_ERR_BAD_PARAMS
		res.Msg = "gx and gy must be integers"
		c.JSON(http.StatusOK, res)
		return
	}

	v, err := h.Store.GetByGrid(c.Request.Context(), gx, gy)
	if err != nil {
		log.Error("grid lookup error", err)
		res.Code = codes.CODE_ERR_UNKNOWN
		res.Msg = "grid lookup failed"
		c.JSON(http.StatusOK, res)
		return
	}
	if v == nil {
		res.Code = codes.CODE_ERR_OBJ_NOT_FOUND
		res.Msg = "no village at grid cell"
		c.JSON(http.StatusOK, res)
		return
	}

	res.Code = codes.CODE_SUCCESS
	res.Msg = "success"
	res.Data = v
	c.JSON(http.StatusOK, res)
}

// GET /villages/nearby?gx=0&gy=0
func (h *Village) Nearby(c *gin.Context) {
	res := common.Response{}
	res.Timestamp = time.Now().Unix()

	gx, errX := strconv.Atoi(c.DefaultQuery("gx", "0"))
	gy, errY := strconv.Atoi(c.DefaultQuery("gy", "0"))
	if errX != nil || errY != nil {
		res.Code = codes.CODE_ERR_BAD_PARAMS
		res.Msg = "gx and gy must be integers"
		c.JSON(http.StatusOK, res)
		return
	}

	villages, err := h.World.RefreshNearby(c.Request.Context(), gx, gy)
	if err != nil {
		log.Error("nearby villages error", err)
		res.Code = codes.CODE_ERR_UNKNOWN
		res.Msg = "nearby lookup failed"
		c.JSON(http.StatusOK, res)
		return
	}

	res.Code = codes.CODE_SUCCESS
	res.Msg = "success"
	res.Data = villages
	c.JSON(http.StatusOK, res)
}

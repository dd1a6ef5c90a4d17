package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"hamlet/api/api/common"
	"hamlet/api/api/interceptor"
	"hamlet/api/codes"
	"hamlet/api/log"
	"hamlet/api/model"
	"hamlet/api/service"
	"hamlet/api/store"
)

type Village struct {
	Store *store.VillageStore
	World *service.World
}

// POST /auth/villages
func (h *Village) Save(c *gin.Context) {
	res := common.Response{}
	res.Timestamp = time.Now().Unix()

	var req model.VillageMetadata
	if err := c.ShouldBindJSON(&req); err != nil {
		res.Code = codes.CODE_ERR_REQFORMAT
		res.Msg = "invalid request" + err.Error()
		c.JSON(http.StatusOK, res)
		return
	}

	ctx := c.Request.Context()
	saved, err := h.Store.Save(ctx, req)
	switch {
	case errors.Is(err, store.ErrGridOccupied):
		res.Code = codes.CODE_ERR_GRID_OCCUPIED
		res.Msg = err.Error()
		c.JSON(http.StatusOK, res)
		return
	case errors.Is(err, store.ErrInvalidVillage):
		res.Code = codes.CODE_ERR_BAD_PARAMS
		res.Msg = err.Error()
		c.JSON(http.StatusOK, res)
		return
	case err != nil:
		log.Error("save village error", err)
		res.Code = codes.CODE_ERR_UNKNOWN
		res.Msg = "save village failed"
		c.JSON(http.StatusOK, res)
		return
	}

	// the index only grows, so drop the old geometry before re-reading the neighbourhood
	h.World.RemoveVillage(saved.Slug)
	if _, err := h.World.RefreshNearby(ctx, saved.GridX, saved.GridY); err != nil {
		log.Warnf("village %s saved but world refresh failed: %v", saved.Slug, err)
	}
	log.WithField("wallet", c.GetString(interceptor.CtxWallet)).Infof("village %s saved at (%d,%d)", saved.Slug, saved.GridX, saved.GridY)

	res.Code = codes.CODE_SUCCESS
	res.Msg = "success"
	res.Data = saved
	c.JSON(http.StatusOK, res)
}

// DELETE /auth/villages/:slug
func (h *Village) Delete(c *gin.Context) {
	res := common.Response{}
	res.Timestamp = time.Now().Unix()

	slug := c.Param("slug")
	if err := h.Store.Delete(c.Request.Context(), slug); err != nil {
		log.Error("delete village error", err)
		res.Code = codes.CODE_ERR_UNKNOWN
		res.Msg = "delete village failed"
		c.JSON(http.StatusOK, res)
		return
	}
	h.World.RemoveVillage(slug)
	log.WithField("wallet", c.GetString(interceptor.CtxWallet)).Infof("village %s deleted", slug)

	res.Code = codes.CODE_SUCCESS
	res.Msg = "success"
	c.JSON(http.StatusOK, res)
}

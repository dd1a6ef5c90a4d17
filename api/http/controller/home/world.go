package home

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"hamlet/api/api/common"
	"hamlet/api/codes"
	"hamlet/api/log"
	"hamlet/api/model"
	"hamlet/api/service"
	"hamlet/api/service/gridpkg"
	"hamlet/api/service/mappkg"
)

type World struct {
	World *service.World
}

type loadRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type collisionResp struct {
	X          int             `json:"x"`
	Y          int             `json:"y"`
	Grid       model.GridPoint `json:"grid"`
	Collision  bool            `json:"collision"`
	HasVillage bool            `json:"has_village"`
	Slug       string          `json:"slug,omitempty"`
	Loaded     bool            `json:"loaded"`
}

// villageMapResp is what a renderer needs to place one loaded village.
type villageMapResp struct {
	Metadata model.VillageMetadata     `json:"metadata"`
	OriginX  int                       `json:"originX"` // world tile of local (0,0)
	OriginY  int                       `json:"originY"`
	Map      *mappkg.TiledMap          `json:"map"`
	Tilesets []*mappkg.ResolvedTileset `json:"tilesets"`
	LoadedAt time.Time                 `json:"loadedAt"`
}

// GET /world/collision?x=10&y=5
func (h *World) Collision(c *gin.Context) {
	res := common.Response{}
	res.Timestamp = time.Now().Unix()

	x, errX := strconv.Atoi(c.Query("x"))
	y, errY := strconv.Atoi(c.Query("y"))
	if errX != nil || errY != nil {
		res.Code = codes.CODE_ERR_BAD_PARAMS
		res.Msg = "x and y must be integers"
		c.JSON(http.StatusOK, res)
		return
	}

	g := gridpkg.WorldToGrid(x, y)
	out := collisionResp{
		X:          x,
		Y:          y,
		Grid:       g,
		Collision:  h.World.IsCollisionAt(x, y),
		HasVillage: h.World.HasVillageAt(x, y),
	}
	out.Slug, _ = h.World.VillageSlugAtGrid(g.X, g.Y)
	out.Loaded = h.World.LoadedVillageAtGrid(g.X, g.Y) != nil

	res.Code = codes.CODE_SUCCESS
	res.Msg = "success"
	res.Data = out
	c.JSON(http.StatusOK, res)
}

// POST /world/load {"x":10,"y":5}
func (h *World) Load(c *gin.Context) {
	res := common.Response{}
	res.Timestamp = time.Now().Unix()

	var req loadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		res.Code = codes.CODE_ERR_REQFORMAT
		res.Msg = "invalid request" + err.Error()
		c.JSON(http.StatusOK, res)
		return
	}

	loaded, err := h.World.LoadAround(c.Request.Context(), req.X, req.Y)
	if err != nil {
		log.Error("load around error", err)
		res.Code = codes.CODE_ERR_UNKNOWN
		res.Msg = "load failed"
		c.JSON(http.StatusOK, res)
		return
	}

	res.Code = codes.CODE_SUCCESS
	res.Msg = "success"
	res.Data = gin.H{
		"grid":   gridpkg.WorldToGrid(req.X, req.Y),
		"loaded": loaded,
	}
	c.JSON(http.StatusOK, res)
}

// GET /world/villages
func (h *World) Villages(c *gin.Context) {
	res := common.Response{}
	res.Timestamp = time.Now().Unix()
	res.Code = codes.CODE_SUCCESS
	res.Msg = "success"
	res.Data = gin.H{
		"loaded":   h.World.LoadedSlugs(),
		"villages": h.World.Villages(),
	}
	c.JSON(http.StatusOK, res)
}

// GET /world/villages/:slug/map loads the village if needed.
func (h *World) VillageMap(c *gin.Context) {
	res := common.Response{}
	res.Timestamp = time.Now().Unix()

	slug := c.Param("slug")
	lv, err := h.World.LoadVillage(c.Request.Context(), slug)
	switch {
	case errors.Is(err, service.ErrUnknownVillage):
		res.Code = codes.CODE_ERR_OBJ_NOT_FOUND
		res.Msg = "village not found"
		c.JSON(http.StatusOK, res)
		return
	case errors.Is(err, mappkg.ErrMapDocument), errors.Is(err, service.ErrVillageChanged):
		res.Code = codes.CODE_ERR_PROCESSING
		res.Msg = err.Error()
		c.JSON(http.StatusOK, res)
		return
	case err != nil:
		log.Error("load village error", err)
		res.Code = codes.CODE_ERR_UNKNOWN
		res.Msg = "load village failed"
		c.JSON(http.StatusOK, res)
		return
	}

	ox, oy := gridpkg.LocalToWorld(0, 0, lv.Metadata.GridX, lv.Metadata.GridY)
	res.Code = codes.CODE_SUCCESS
	res.Msg = "success"
	res.Data = villageMapResp{
		Metadata: lv.Metadata,
		OriginX:  ox,
		OriginY:  oy,
		Map:      lv.Map,
		Tilesets: lv.Tilesets,
		LoadedAt: lv.LoadedAt,
	}
	c.JSON(http.StatusOK, res)
}

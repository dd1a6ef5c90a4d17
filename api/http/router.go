package http

import (
	"github.com/gin-gonic/gin"

	"hamlet/api/api/http/controller/auth"
	"hamlet/api/api/http/controller/home"
	"hamlet/api/api/http/controller/preauth"
	"hamlet/api/api/interceptor"
	"hamlet/api/api/ws"
	"hamlet/api/security"
	"hamlet/api/service"
	"hamlet/api/store"
)

// Deps are the long-lived components the handlers serve.
type Deps struct {
	Store  *store.VillageStore
	World  *service.World
	Gate   *service.SpawnGate
	Hub    *ws.Hub
	Nonces *security.NonceStore
	Tokens *security.TokenIssuer
	Admins []string
}

func Routers(e *gin.RouterGroup, d Deps) {
	villages := &home.Village{Store: d.Store, World: d.World}
	world := &home.World{World: d.World}
	agents := &home.Agents{Gate: d.Gate}
	wallet := &preauth.Wallet{Nonces: d.Nonces, Tokens: d.Tokens}
	admin := &auth.Village{Store: d.Store, World: d.World}

	homeGroup := e.Group("/")
	homeGroup.GET("villages", villages.List)
	homeGroup.GET("villages/nearby", villages.Nearby)
	homeGroup.GET("villages/grid/:gx/:gy", villages.AtGrid)

	homeGroup.GET("world/collision", world.Collision)
	homeGroup.POST("world/load", world.Load)
	homeGroup.GET("world/villages", world.Villages)
	homeGroup.GET("world/villages/:slug/map", world.VillageMap)

	homeGroup.GET("agents", agents.List)
	if d.Hub != nil {
		homeGroup.GET("ws/agents", d.Hub.ServeAgents)
	}

	preAuthGroup := e.Group("/preauth")
	preAuthGroup.POST("get_msg", wallet.GetAuthMsg)
	preAuthGroup.POST("verify_msg", wallet.VerifyMessage)

	authGroup := e.Group("/auth", interceptor.TokenInterceptor(d.Tokens), interceptor.AdminInterceptor(d.Admins))
	authGroup.POST("/villages", admin.Save)
	authGroup.DELETE("/villages/:slug", admin.Delete)
}

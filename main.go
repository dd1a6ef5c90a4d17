package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"hamlet/api/api/common"
	apihttp "hamlet/api/api/http"
	"hamlet/api/api/ws"
	"hamlet/api/blob"
	mycache "hamlet/api/cache"
	"hamlet/api/config"
	"hamlet/api/log"
	"hamlet/api/security"
	"hamlet/api/service"
	"hamlet/api/service/mappkg"
	"hamlet/api/store"
	"hamlet/api/system"
	"hamlet/api/thirdpart"
)

const (
	spawnRecheck    = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load(os.Getenv("VILLAGE_CONFIG_FILE"))
	if err != nil {
		log.Fatal("load config: ", err)
	}
	log.Init(cfg.Log)

	client, err := system.InitRedis(cfg.Redis)
	if err != nil {
		log.Fatal("init redis: ", err)
	}
	defer system.CloseRedis()

	assets, err := mycache.NewAssetCache(cfg.Blob.CacheMaxCost, cfg.Blob.CacheTTL)
	if err != nil {
		log.Fatal("init asset cache: ", err)
	}
	defer assets.Close()
	blobs, err := blob.NewStore(cfg.Blob, assets)
	if err != nil {
		log.Fatal("init blob store: ", err)
	}

	villages := store.NewVillageStore(client, cfg.Redis.Namespace).WithMaxCells(cfg.World.MaxVillageCells)
	loader := mappkg.NewLoader(blobs, cfg.World.ObstaclePrefix, cfg.World.TilesetConcurrency)
	world := service.NewWorld(villages, loader)
	world.SetLoadTimeout(cfg.World.LoadTimeout)

	registry := service.NewAgentRegistry()
	radius := cfg.Agents.SpawnSearchRadius
	gate := service.NewSpawnGate(world, registry, service.SpawnOptions{
		DefaultMovementMode: cfg.Agents.DefaultMovementMode,
		SpawnInterval:       cfg.Agents.SpawnInterval,
		Search: func(x, y int) (int, int, bool) {
			return world.NearestOpenTile(x, y, radius)
		},
		Recheck: spawnRecheck,
	})
	hub := ws.NewHub(registry.List)
	gate.OnSpawn(hub.PublishSpawn)

	tokenTTL := cfg.Auth.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = common.TOKEN_DURATION
	}
	tokens, err := security.NewTokenIssuer(cfg.Auth.JWTSecret, tokenTTL)
	if err != nil {
		log.Fatal("init token issuer: ", err)
	}
	nonces := security.NewNonceStore(client, cfg.Redis.Namespace, cfg.Auth.NonceTTL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.World.PreloadNearby {
		go func() {
			if _, err := world.RefreshAll(ctx); err != nil {
				log.Warnf("preload: %v", err)
				return
			}
			loaded, err := world.LoadAround(ctx, 0, 0)
			if err != nil {
				log.Warnf("preload: %v", err)
				return
			}
			log.Infof("preloaded villages around origin: %v", loaded)
		}()
	}
	if cfg.Agents.SourceURL != "" {
		go func() {
			if err := gate.Run(ctx, thirdpart.NewAgentSource(cfg.Agents)); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("spawn gate stopped: %v", err)
			}
		}()
	} else {
		log.Warn("agents.source_url not set, agent spawning disabled")
	}

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery(), cors.New(corsConfig(cfg.Server.CorsOrigins)))
	apihttp.Routers(r.Group("/"), apihttp.Deps{
		Store:  villages,
		World:  world,
		Gate:   gate,
		Hub:    hub,
		Nonces: nonces,
		Tokens: tokens,
		Admins: cfg.Auth.AdminWallets,
	})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}
	go func() {
		log.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server: ", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http shutdown: %v", err)
	}
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "AUTH"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	}
	return c
}

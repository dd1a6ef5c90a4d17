// Command util seeds village metadata from a YAML manifest. Each village is deleted before it is
// saved so a geometry change never leaves stale grid cells behind.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"hamlet/api/blob"
	mycache "hamlet/api/cache"
	"hamlet/api/config"
	"hamlet/api/log"
	"hamlet/api/model"
	"hamlet/api/service/mappkg"
	"hamlet/api/store"
	"hamlet/api/system"
)

func main() {
	manifestPath := flag.String("manifest", "villages.yaml", "Path to the village manifest (YAML)")
	configPath := flag.String("config", "", "Config file (default: search ./config.yaml)")
	verify := flag.Bool("verify", false, "Load every map document and report its collision set before saving")
	dryRun := flag.Bool("dry-run", false, "Print the plan without touching redis")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	must(err)
	log.Init(cfg.Log)

	m, err := readManifest(*manifestPath)
	must(err)
	villages := m.Metadata()
	must(validate(villages, cfg.World.MaxVillageCells))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if *verify {
		loader, closeLoader, err := newLoader(cfg)
		must(err)
		defer closeLoader()
		for _, v := range villages {
			must(verifyVillage(ctx, loader, v))
		}
	}

	if *dryRun {
		for _, v := range villages {
			fmt.Printf("would save %-24s grid (%d,%d) size %dx%d  %s\n",
				v.Slug, v.GridX, v.GridY, v.GridWidth, v.GridHeight, v.TmjURL)
		}
		return
	}

	client, err := system.InitRedis(cfg.Redis)
	must(err)
	defer system.CloseRedis()
	vs := store.NewVillageStore(client, cfg.Redis.Namespace).WithMaxCells(cfg.World.MaxVillageCells)

	for _, v := range villages {
		must(vs.Delete(ctx, v.Slug))
		saved, err := vs.Save(ctx, v)
		must(err)
		fmt.Printf("saved %-24s grid (%d,%d) size %dx%d\n",
			saved.Slug, saved.GridX, saved.GridY, saved.GridWidth, saved.GridHeight)
	}
	fmt.Printf("OK\nvillages: %d\nnamespace: %s\n", len(villages), cfg.Redis.Namespace)
}

func newLoader(cfg *config.Config) (*mappkg.Loader, func(), error) {
	cache, err := mycache.NewAssetCache(cfg.Blob.CacheMaxCost, cfg.Blob.CacheTTL)
	if err != nil {
		return nil, nil, err
	}
	bs, err := blob.NewStore(cfg.Blob, cache)
	if err != nil {
		cache.Close()
		return nil, nil, err
	}
	return mappkg.NewLoader(bs, cfg.World.ObstaclePrefix, cfg.World.TilesetConcurrency), cache.Close, nil
}

func verifyVillage(ctx context.Context, loader *mappkg.Loader, v model.VillageMetadata) error {
	b, err := loader.Load(ctx, v)
	if err != nil {
		return err
	}
	wantW, wantH := v.GridWidth*model.CellTiles, v.GridHeight*model.CellTiles
	if b.Map.Width != wantW || b.Map.Height != wantH {
		fmt.Fprintf(os.Stderr, "warn: %s map is %dx%d tiles, grid footprint is %dx%d\n",
			v.Slug, b.Map.Width, b.Map.Height, wantW, wantH)
	}
	fmt.Printf("verified %-24s tiles %dx%d  tilesets %d/%d  blocked %d\n",
		v.Slug, b.Map.Width, b.Map.Height, len(b.LoadedTilesets()), len(b.Tilesets), len(b.Collision))
	return nil
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

package mappkg

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"hamlet/api/service/gridpkg"
)

/* ---------- Tiled JSON (.tmj / .tsj), only the fields the world needs ---------- */

type TiledMap struct {
	Type         string       `json:"type"` // "map"
	Version      string       `json:"version"`
	Orientation  string       `json:"orientation"`
	RenderOrder  string       `json:"renderorder"`
	Infinite     bool         `json:"infinite"`
	Width        int          `json:"width"` // tiles
	Height       int          `json:"height"`
	TileWidth    int          `json:"tilewidth"` // pixels
	TileHeight   int          `json:"tileheight"`
	Layers       []TiledLayer `json:"layers"`
	Tilesets     []TilesetRef `json:"tilesets"`
	NextLayerID  int          `json:"nextlayerid"`
	NextObjectID int          `json:"nextobjectid"`
}

// TiledLayer covers tilelayer, objectgroup, imagelayer and group.
type TiledLayer struct {
	ID          int             `json:"id"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Visible     bool            `json:"visible"`
	Opacity     float64         `json:"opacity"`
	X           int             `json:"x"`
	Y           int             `json:"y"`
	Width       int             `json:"width"`
	Height      int             `json:"height"`
	Encoding    string          `json:"encoding,omitempty"`    // csv | base64
	Compression string          `json:"compression,omitempty"` // gzip | zlib | zstd
	Data        json.RawMessage `json:"data,omitempty"`
	Chunks      []TiledChunk    `json:"chunks,omitempty"`
	Layers      []TiledLayer    `json:"layers,omitempty"`
	Objects     json.RawMessage `json:"objects,omitempty"`
	Image       string          `json:"image,omitempty"`
}

// TiledChunk is one block of an infinite map's tile layer.
type TiledChunk struct {
	X      int             `json:"x"`
	Y      int             `json:"y"`
	Width  int             `json:"width"`
	Height int             `json:"height"`
	Data   json.RawMessage `json:"data"`
}

type Tileset struct {
	Name        string `json:"name"`
	TileWidth   int    `json:"tilewidth"`
	TileHeight  int    `json:"tileheight"`
	TileCount   int    `json:"tilecount"`
	Columns     int    `json:"columns"`
	Margin      int    `json:"margin"`
	Spacing     int    `json:"spacing"`
	Image       string `json:"image"`
	ImageWidth  int    `json:"imagewidth"`
	ImageHeight int    `json:"imageheight"`
}

// TilesetRef is an entry of the map's tilesets array: either {firstgid, source} pointing at an
// external .tsj, or {firstgid, ...inline tileset}.
type TilesetRef struct {
	FirstGID int    `json:"firstgid"`
	Source   string `json:"source,omitempty"`
	Tileset
}

func (r TilesetRef) External() bool { return r.Source != "" }

/* ---------- tile ids ---------- */

// The top three bits of a global tile id carry flip flags.
const (
	FlippedHorizontallyFlag uint32 = 0x80000000
	FlippedVerticallyFlag   uint32 = 0x40000000
	FlippedDiagonallyFlag   uint32 = 0x20000000

	flipFlags = FlippedHorizontallyFlag | FlippedVerticallyFlag | FlippedDiagonallyFlag
)

// MaskGID clears the flip flags, leaving the tile id.
func MaskGID(raw uint32) uint32 {
	return raw &^ flipFlags
}

/* ---------- layer data ---------- */

// decodeTileData accepts the JSON array form and the base64 form with optional compression.
func decodeTileData(raw json.RawMessage, encoding, compression string) ([]uint32, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '[' {
		var ids []uint32
		if err := json.Unmarshal(raw, &ids); err != nil {
			return nil, fmt.Errorf("tile data array: %w", err)
		}
		return ids, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("tile data string: %w", err)
	}
	if encoding != "" && encoding != "base64" {
		return nil, fmt.Errorf("unsupported tile data encoding %q", encoding)
	}
	buf, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("tile data base64: %w", err)
	}
	buf, err = decompress(buf, compression)
	if err != nil {
		return nil, err
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("tile data length %d is not a multiple of 4", len(buf))
	}
	ids := make([]uint32, len(buf)/4)
	for i := range ids {
		ids[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return ids, nil
}

func decompress(buf []byte, compression string) ([]byte, error) {
	var (
		r   io.Reader
		err error
	)
	switch compression {
	case "":
		return buf, nil
	case "gzip":
		var gr *gzip.Reader
		gr, err = gzip.NewReader(bytes.NewReader(buf))
		if err == nil {
			defer gr.Close()
			r = gr
		}
	case "zlib":
		var zr io.ReadCloser
		zr, err = zlib.NewReader(bytes.NewReader(buf))
		if err == nil {
			defer zr.Close()
			r = zr
		}
	case "zstd":
		var zr *zstd.Decoder
		zr, err = zstd.NewReader(bytes.NewReader(buf))
		if err == nil {
			defer zr.Close()
			r = zr
		}
	default:
		return nil, fmt.Errorf("unsupported tile data compression %q", compression)
	}
	if err != nil {
		return nil, fmt.Errorf("%s reader: %w", compression, err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s decode: %w", compression, err)
	}
	return out, nil
}

var gzipMagic = []byte{0x1f, 0x8b}

// ParseMap decodes a map document, transparently un-gzipping it.
func ParseMap(doc []byte) (*TiledMap, error) {
	if bytes.HasPrefix(doc, gzipMagic) {
		plain, err := decompress(doc, "gzip")
		if err != nil {
			return nil, err
		}
		doc = plain
	}
	var tm TiledMap
	if err := json.Unmarshal(doc, &tm); err != nil {
		return nil, fmt.Errorf("unmarshal map: %w", err)
	}
	if tm.Type != "" && tm.Type != "map" {
		return nil, fmt.Errorf("document type %q is not a map", tm.Type)
	}
	return &tm, nil
}

/* ---------- collision ---------- */

// IsObstacleLayer reports whether a layer name carries the obstacle prefix, ignoring case.
func IsObstacleLayer(name, prefix string) bool {
	return strings.HasPrefix(strings.ToLower(name), strings.ToLower(prefix))
}

// DeriveCollision marks every local tile that holds a non-empty tile id in an obstacle layer.
// Keys are gridpkg.GridKey(localX, localY).
func DeriveCollision(tm *TiledMap, prefix string) (map[string]struct{}, error) {
	blocked := make(map[string]struct{})
	if err := collectCollision(tm, tm.Layers, prefix, blocked); err != nil {
		return nil, err
	}
	return blocked, nil
}

func collectCollision(tm *TiledMap, layers []TiledLayer, prefix string, blocked map[string]struct{}) error {
	for _, l := range layers {
		switch l.Type {
		case "group":
			if err := collectCollision(tm, l.Layers, prefix, blocked); err != nil {
				return err
			}
			continue
		case "tilelayer":
		default:
			continue
		}
		if !IsObstacleLayer(l.Name, prefix) {
			continue
		}

		if len(l.Chunks) > 0 {
			for _, ch := range l.Chunks {
				ids, err := decodeTileData(ch.Data, l.Encoding, l.Compression)
				if err != nil {
					return fmt.Errorf("layer %q chunk (%d,%d): %w", l.Name, ch.X, ch.Y, err)
				}
				markBlocked(ids, ch.Width, ch.X, ch.Y, blocked)
			}
			continue
		}

		ids, err := decodeTileData(l.Data, l.Encoding, l.Compression)
		if err != nil {
			return fmt.Errorf("layer %q: %w", l.Name, err)
		}
		width := l.Width
		if width <= 0 {
			width = tm.Width
		}
		markBlocked(ids, width, l.X, l.Y, blocked)
	}
	return nil
}

func markBlocked(ids []uint32, width, offX, offY int, blocked map[string]struct{}) {
	if width <= 0 {
		return
	}
	for i, raw := range ids {
		if MaskGID(raw) == 0 {
			continue
		}
		blocked[gridpkg.GridKey(offX+i%width, offY+i/width)] = struct{}{}
	}
}

package mappkg

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"hamlet/api/service/gridpkg"
)

func TestMaskGID(t *testing.T) {
	flags := []uint32{
		0,
		FlippedHorizontallyFlag,
		FlippedVerticallyFlag,
		FlippedDiagonallyFlag,
		FlippedHorizontallyFlag | FlippedVerticallyFlag,
		FlippedHorizontallyFlag | FlippedVerticallyFlag | FlippedDiagonallyFlag,
	}
	for _, base := range []uint32{1, 7, 1234, 0x1FFFFFFF} {
		for _, f := range flags {
			if got := MaskGID(base | f); got != base {
				t.Errorf("MaskGID(%#x) = %#x, want %#x", base|f, got, base)
			}
		}
	}
	for _, f := range flags[1:4] {
		if got := MaskGID(f); got != 0 {
			t.Errorf("flag-only value %#x should mask to 0, got %#x", f, got)
		}
	}
}

func TestDeriveCollision(t *testing.T) {
	doc := []byte(`{
		"type": "map", "width": 3, "height": 2, "tilewidth": 32, "tileheight": 32,
		"layers": [
			{"type": "tilelayer", "name": "ground", "width": 3, "height": 2, "data": [1,1,1,1,1,1]},
			{"type": "tilelayer", "name": "Obstacles", "width": 3, "height": 2,
			 "data": [0, 2147483653, 0, 536870912, 0, 9]},
			{"type": "group", "name": "deco", "layers": [
				{"type": "tilelayer", "name": "OBSTACLE-trees", "width": 3, "height": 2, "data": [0,0,0,3,0,0]}
			]},
			{"type": "objectgroup", "name": "obstacle-objects", "objects": []}
		]
	}`)
	tm, err := ParseMap(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, err := DeriveCollision(tm, DefaultObstaclePrefix)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	want := map[string]bool{
		gridpkg.GridKey(1, 0): true, // base id 5 with horizontal flip
		gridpkg.GridKey(2, 1): true,
		gridpkg.GridKey(0, 1): true, // from the nested group layer
	}
	if len(got) != len(want) {
		t.Fatalf("collision = %v, want keys %v", got, want)
	}
	for k := range want {
		if _, ok := got[k]; !ok {
			t.Fatalf("missing blocked tile %s in %v", k, got)
		}
	}
}

func TestDeriveCollisionInfiniteChunks(t *testing.T) {
	doc := []byte(`{
		"type": "map", "infinite": true, "width": 0, "height": 0,
		"layers": [{"type": "tilelayer", "name": "obstacle", "chunks": [
			{"x": 16, "y": 0, "width": 2, "height": 2, "data": [0, 1, 0, 0]},
			{"x": -2, "y": -2, "width": 2, "height": 2, "data": [0, 0, 4, 0]}
		]}]
	}`)
	tm, err := ParseMap(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, err := DeriveCollision(tm, "obstacle")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	for _, k := range []string{"17,0", "-2,-1"} {
		if _, ok := got[k]; !ok {
			t.Fatalf("missing %s in %v", k, got)
		}
	}
	if len(got) != 2 {
		t.Fatalf("unexpected collision set %v", got)
	}
}

func encodeIDs(ids []uint32) []byte {
	buf := make([]byte, 4*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint32(buf[i*4:], id)
	}
	return buf
}

func TestDecodeTileDataCompressed(t *testing.T) {
	ids := []uint32{0, 3, FlippedVerticallyFlag | 2, 0}
	plain := encodeIDs(ids)

	compressors := map[string]func([]byte) []byte{
		"": func(b []byte) []byte { return b },
		"gzip": func(b []byte) []byte {
			var out bytes.Buffer
			w := gzip.NewWriter(&out)
			_, _ = w.Write(b)
			_ = w.Close()
			return out.Bytes()
		},
		"zlib": func(b []byte) []byte {
			var out bytes.Buffer
			w := zlib.NewWriter(&out)
			_, _ = w.Write(b)
			_ = w.Close()
			return out.Bytes()
		},
		"zstd": func(b []byte) []byte {
			enc, _ := zstd.NewWriter(nil)
			defer enc.Close()
			return enc.EncodeAll(b, nil)
		},
	}

	for name, compress := range compressors {
		raw, _ := json.Marshal(base64.StdEncoding.EncodeToString(compress(plain)))
		got, err := decodeTileData(raw, "base64", name)
		if err != nil {
			t.Fatalf("%q: %v", name, err)
		}
		if len(got) != len(ids) {
			t.Fatalf("%q: got %d ids", name, len(got))
		}
		for i := range ids {
			if got[i] != ids[i] {
				t.Fatalf("%q: id %d = %#x, want %#x", name, i, got[i], ids[i])
			}
		}
	}

	if _, err := decodeTileData(json.RawMessage(`"AAAA"`), "base64", "lzma"); err == nil {
		t.Fatalf("unknown compression should fail")
	}
}

func TestParseMapGzipped(t *testing.T) {
	var out bytes.Buffer
	w := gzip.NewWriter(&out)
	_, _ = w.Write([]byte(`{"type":"map","width":20,"height":20}`))
	_ = w.Close()

	tm, err := ParseMap(out.Bytes())
	if err != nil {
		t.Fatalf("parse gzipped: %v", err)
	}
	if tm.Width != 20 {
		t.Fatalf("width = %d", tm.Width)
	}
	if _, err := ParseMap([]byte(`{"type":"tileset"}`)); err == nil {
		t.Fatalf("non-map document should be rejected")
	}
}

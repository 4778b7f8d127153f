package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/demogame/runtime/internal/core/fault"
)

// Bundle is the loaded asset set. Bitmaps are decoded at load; a reload
// re-decodes a single file and, once committed, swaps its bitmap under the
// same id.
type Bundle struct {
	manifest *Manifest
	log      *zap.Logger

	mu      sync.RWMutex
	bitmaps []Bitmap
	byName  map[string]uint32
	byPath  map[string]uint32
	shaders map[string][2][]byte
}

// Load reads the manifest and every file it lists. Any missing or
// undecodable file fails the whole load.
func Load(manifestPath string, log *zap.Logger) (*Bundle, error) {
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, fault.Transport("load asset bundle", true, err)
	}
	b := &Bundle{
		manifest: m,
		log:      log,
		bitmaps:  make([]Bitmap, len(m.Textures)),
		byName:   make(map[string]uint32, len(m.Textures)),
		byPath:   make(map[string]uint32, len(m.Textures)),
		shaders:  make(map[string][2][]byte, len(m.Shaders)),
	}
	for i, t := range m.Textures {
		p := m.Resolve(t.Path)
		bm, err := DecodeFile(p)
		if err != nil {
			return nil, fault.Transport("load texture "+t.Name, true, err)
		}
		b.bitmaps[i] = bm
		b.byName[t.Name] = uint32(i)
		b.byPath[cleanAbs(p)] = uint32(i)
	}
	for _, s := range m.Shaders {
		vs, err := os.ReadFile(m.Resolve(s.Vertex))
		if err != nil {
			return nil, fault.Transport("load shader "+s.Name, true, err)
		}
		fs, err := os.ReadFile(m.Resolve(s.Fragment))
		if err != nil {
			return nil, fault.Transport("load shader "+s.Name, true, err)
		}
		b.shaders[s.Name] = [2][]byte{vs, fs}
	}
	log.Debug("asset bundle loaded",
		zap.String("manifest", manifestPath),
		zap.Int("textures", len(b.bitmaps)),
		zap.Int("shaders", len(b.shaders)))
	return b, nil
}

// Len returns the number of textures.
func (b *Bundle) Len() int { return len(b.bitmaps) }

// Bitmap returns the decoded texture with the given id.
func (b *Bundle) Bitmap(id uint32) (Bitmap, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if int(id) >= len(b.bitmaps) {
		return Bitmap{}, fmt.Errorf("texture id %d out of range [0,%d)", id, len(b.bitmaps))
	}
	return b.bitmaps[id], nil
}

// ID returns the id of a named texture.
func (b *Bundle) ID(name string) (uint32, bool) {
	id, ok := b.byName[name]
	return id, ok
}

// TerrainID returns the id of the terrain atlas, or 0 if none is named.
func (b *Bundle) TerrainID() uint32 {
	if b.manifest.Terrain == "" {
		return 0
	}
	return b.byName[b.manifest.Terrain]
}

// Shader returns the vertex and fragment sources of a program.
func (b *Bundle) Shader(name string) (vertex, fragment []byte, err error) {
	s, ok := b.shaders[name]
	if !ok {
		return nil, nil, fmt.Errorf("shader %q not in manifest", name)
	}
	return s[0], s[1], nil
}

// ReloadTexture re-decodes the texture file at path and returns the id it
// keeps. The cached bitmap is left untouched until CommitTexture. Failures
// are not fatal.
func (b *Bundle) ReloadTexture(path string) (uint32, Bitmap, error) {
	id, ok := b.byPath[cleanAbs(path)]
	if !ok {
		id, ok = b.byBase(filepath.Base(path))
	}
	if !ok {
		return 0, Bitmap{}, fault.Transport("reload texture", false, fmt.Errorf("%s is not in the bundle", path))
	}
	bm, err := DecodeFile(b.manifest.Resolve(b.manifest.Textures[id].Path))
	if err != nil {
		return 0, Bitmap{}, fault.Transport("reload texture", false, err)
	}
	return id, bm, nil
}

// CommitTexture makes bm the cached bitmap of id.
func (b *Bundle) CommitTexture(id uint32, bm Bitmap) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(id) < len(b.bitmaps) {
		b.bitmaps[id] = bm
	}
}

// byBase matches notifications that carry a path relative to some other
// root than ours.
func (b *Bundle) byBase(base string) (uint32, bool) {
	var (
		found uint32
		n     int
	)
	for i, t := range b.manifest.Textures {
		if filepath.Base(t.Path) == base {
			found = uint32(i)
			n++
		}
	}
	return found, n == 1
}

func cleanAbs(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// Package assets loads the texture and shader bundle the renderer draws
// with. Texture ids are dense and stable: the position of the texture in
// the manifest.
package assets

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// TextureEntry is one texture of the manifest. Its id is its index.
type TextureEntry struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// ShaderEntry names the vertex/fragment sources of one program.
type ShaderEntry struct {
	Name     string `yaml:"name"`
	Vertex   string `yaml:"vertex"`
	Fragment string `yaml:"fragment"`
}

// Manifest is the bundle description. Paths are relative to the manifest.
type Manifest struct {
	Textures []TextureEntry `yaml:"textures"`
	Shaders  []ShaderEntry  `yaml:"shaders"`
	Terrain  string         `yaml:"terrain"` // texture name of the terrain atlas

	dir string
}

// --- YAML loading ---

// LoadManifest reads a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	seen := make(map[string]bool, len(m.Textures))
	for i, t := range m.Textures {
		if t.Name == "" || t.Path == "" {
			return nil, fmt.Errorf("manifest %s: texture %d needs name and path", path, i)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("manifest %s: duplicate texture %q", path, t.Name)
		}
		seen[t.Name] = true
	}
	if m.Terrain != "" && !seen[m.Terrain] {
		return nil, fmt.Errorf("manifest %s: terrain texture %q not listed", path, m.Terrain)
	}
	m.dir = filepath.Dir(path)
	return &m, nil
}

// Resolve turns a manifest-relative path into a file path.
func (m *Manifest) Resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.dir, p)
}

package reload

import (
	"path/filepath"
	"strings"
)

// ChangeKind classifies a changed file by extension.
type ChangeKind int

const (
	ChangeUnknown ChangeKind = iota
	ChangeModule
	ChangeTexture
	ChangeShader
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeModule:
		return "module"
	case ChangeTexture:
		return "texture"
	case ChangeShader:
		return "shader"
	default:
		return "unknown"
	}
}

var extensions = map[string]ChangeKind{
	".wasm": ChangeModule,
	".lua":  ChangeModule,
	".png":  ChangeTexture,
	".jpg":  ChangeTexture,
	".jpeg": ChangeTexture,
	".webp": ChangeTexture,
	".bmp":  ChangeTexture,
	".ktx2": ChangeTexture,
	".vert": ChangeShader,
	".frag": ChangeShader,
	".glsl": ChangeShader,
	".wgsl": ChangeShader,
}

// Classify returns the kind of change a path represents.
func Classify(path string) ChangeKind {
	return extensions[strings.ToLower(filepath.Ext(path))]
}

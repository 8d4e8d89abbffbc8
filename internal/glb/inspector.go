// Package glb inspects binary glTF (GLB) containers without pulling in a
// full scene-graph library. It answers one question for the pipeline: is this
// byte blob a structurally sound model, and what does it roughly contain.
package glb

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

const (
	// "glTF" little-endian.
	MagicGLB uint32 = 0x46546C67
	// Chunk type "JSON".
	chunkTypeJSON uint32 = 0x4E4F534A
	// Chunk type "BIN\0".
	chunkTypeBIN uint32 = 0x004E4942

	headerLen = 12
	chunkHdr  = 8

	// DefaultMaxSize caps accepted model payloads at 100 MB.
	DefaultMaxSize = 100 * 1024 * 1024
)

// Report is the outcome of a structural inspection. Warnings are
// informational and never flip Valid.
type Report struct {
	Valid         bool     `json:"valid"`
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings"`
	Size          int64    `json:"size"`
	FormatVersion uint32   `json:"format_version"`
	MeshCount     int      `json:"mesh_count"`
	TextureCount  int      `json:"texture_count"`
	MaterialCount int      `json:"material_count"`
}

type Inspector struct {
	MaxSize int64
}

func NewInspector(maxSize int64) *Inspector {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Inspector{MaxSize: maxSize}
}

// CheckMagic reports whether data starts with the GLB magic signature.
// Used on its own to sanity-check generated LOD artifacts.
func CheckMagic(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	return binary.LittleEndian.Uint32(data[0:4]) == MagicGLB
}

// Validate inspects a model payload. It never panics on malformed input;
// every structural problem lands in Report.Errors.
func (in *Inspector) Validate(data []byte) Report {
	rep := Report{Size: int64(len(data))}

	if int64(len(data)) > in.MaxSize {
		rep.Errors = append(rep.Errors, fmt.Sprintf("file size %d exceeds maximum %d bytes", len(data), in.MaxSize))
		return rep
	}
	if len(data) < headerLen {
		rep.Errors = append(rep.Errors, fmt.Sprintf("file too small: %d bytes, need at least %d for a GLB header", len(data), headerLen))
		return rep
	}
	if !CheckMagic(data) {
		rep.Errors = append(rep.Errors, "invalid magic bytes: not a GLB container")
		return rep
	}

	rep.FormatVersion = binary.LittleEndian.Uint32(data[4:8])
	if rep.FormatVersion != 2 {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("unexpected glTF version %d, expected 2", rep.FormatVersion))
	}

	declaredLen := binary.LittleEndian.Uint32(data[8:12])
	if int64(declaredLen) != int64(len(data)) {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("header declares %d bytes, actual %d", declaredLen, len(data)))
	}

	doc, err := in.parseChunks(data, &rep)
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		return rep
	}

	rep.MeshCount = len(doc.Meshes)
	rep.TextureCount = len(doc.Textures)
	rep.MaterialCount = len(doc.Materials)
	if doc.Scene == nil {
		rep.Warnings = append(rep.Warnings, "no default scene set")
	}
	if rep.MeshCount == 0 {
		rep.Warnings = append(rep.Warnings, "model contains no meshes")
	}
	rep.Warnings = append(rep.Warnings, fmt.Sprintf("contains %d meshes, %d textures", rep.MeshCount, rep.TextureCount))

	rep.Valid = true
	return rep
}

// gltfDoc is the subset of the glTF JSON chunk the inspector cares about.
type gltfDoc struct {
	Scene     *int             `json:"scene"`
	Scenes    []json.RawMessage `json:"scenes"`
	Meshes    []json.RawMessage `json:"meshes"`
	Textures  []json.RawMessage `json:"textures"`
	Materials []json.RawMessage `json:"materials"`
	Buffers   []struct {
		URI string `json:"uri"`
	} `json:"buffers"`
}

func (in *Inspector) parseChunks(data []byte, rep *Report) (*gltfDoc, error) {
	offset := headerLen
	var jsonChunk []byte
	seenBin := false

	for offset+chunkHdr <= len(data) {
		chunkLen := binary.LittleEndian.Uint32(data[offset : offset+4])
		chunkType := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		start := offset + chunkHdr
		end := start + int(chunkLen)
		if end < start || end > len(data) {
			return nil, fmt.Errorf("chunk at offset %d overruns file (declared %d bytes)", offset, chunkLen)
		}
		switch chunkType {
		case chunkTypeJSON:
			if jsonChunk != nil {
				rep.Warnings = append(rep.Warnings, "multiple JSON chunks, using the first")
			} else {
				jsonChunk = data[start:end]
			}
		case chunkTypeBIN:
			seenBin = true
		default:
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("unknown chunk type 0x%08X skipped", chunkType))
		}
		// Chunks are 4-byte aligned.
		offset = end + pad4(int(chunkLen))
	}

	if jsonChunk == nil {
		return nil, errNoJSONChunk()
	}

	var doc gltfDoc
	if err := json.Unmarshal(jsonChunk, &doc); err != nil {
		return nil, fmt.Errorf("malformed glTF JSON chunk: %v", err)
	}
	if !seenBin {
		// A buffer without a URI refers to the GLB-embedded binary chunk.
		for _, b := range doc.Buffers {
			if b.URI == "" {
				rep.Warnings = append(rep.Warnings, "glTF declares an embedded buffer but the BIN chunk is missing")
				break
			}
		}
	}
	return &doc, nil
}

func pad4(n int) int {
	if r := n % 4; r != 0 {
		return 4 - r
	}
	return 0
}

func errNoJSONChunk() error {
	return fmt.Errorf("no JSON chunk found in container")
}

package glb

import (
	"encoding/binary"
	"strings"
	"testing"
)

// buildGLB assembles a container from raw chunks: (type, payload) pairs.
func buildGLB(version uint32, chunks ...[2]any) []byte {
	body := []byte{}
	for _, c := range chunks {
		chunkType := c[0].(uint32)
		payload := []byte(c[1].(string))
		padded := append([]byte{}, payload...)
		for len(padded)%4 != 0 {
			padded = append(padded, 0x20)
		}
		hdr := make([]byte, 8)
		binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(padded)))
		binary.LittleEndian.PutUint32(hdr[4:8], chunkType)
		body = append(body, hdr...)
		body = append(body, padded...)
	}
	out := make([]byte, 12)
	binary.LittleEndian.PutUint32(out[0:4], MagicGLB)
	binary.LittleEndian.PutUint32(out[4:8], version)
	binary.LittleEndian.PutUint32(out[8:12], uint32(12+len(body)))
	return append(out, body...)
}

func validGLB() []byte {
	return buildGLB(2,
		[2]any{chunkTypeJSON, `{"scene":0,"scenes":[{}],"meshes":[{},{}],"textures":[{}],"materials":[{}]}`},
		[2]any{chunkTypeBIN, "\x00\x00\x00\x00"},
	)
}

func TestValidate_ValidModel(t *testing.T) {
	in := NewInspector(0)
	rep := in.Validate(validGLB())
	if !rep.Valid {
		t.Fatalf("expected valid report, got errors: %v", rep.Errors)
	}
	if rep.MeshCount != 2 {
		t.Fatalf("mesh count: want=2 got=%d", rep.MeshCount)
	}
	if rep.TextureCount != 1 {
		t.Fatalf("texture count: want=1 got=%d", rep.TextureCount)
	}
	if rep.MaterialCount != 1 {
		t.Fatalf("material count: want=1 got=%d", rep.MaterialCount)
	}
	if rep.FormatVersion != 2 {
		t.Fatalf("format version: want=2 got=%d", rep.FormatVersion)
	}
}

func TestValidate_TooSmall(t *testing.T) {
	rep := NewInspector(0).Validate([]byte("glTF"))
	if rep.Valid {
		t.Fatal("expected invalid report for truncated header")
	}
	if len(rep.Errors) == 0 || !strings.Contains(rep.Errors[0], "too small") {
		t.Fatalf("expected too-small error, got %v", rep.Errors)
	}
}

func TestValidate_BadMagic(t *testing.T) {
	data := validGLB()
	data[0] = 'X'
	rep := NewInspector(0).Validate(data)
	if rep.Valid {
		t.Fatal("expected invalid report for bad magic")
	}
	if !strings.Contains(rep.Errors[0], "magic") {
		t.Fatalf("expected magic error, got %v", rep.Errors)
	}
}

func TestValidate_OversizeRejected(t *testing.T) {
	rep := NewInspector(16).Validate(validGLB())
	if rep.Valid {
		t.Fatal("expected oversize payload to be rejected")
	}
	if !strings.Contains(rep.Errors[0], "exceeds maximum") {
		t.Fatalf("expected size error, got %v", rep.Errors)
	}
}

func TestValidate_MalformedJSONChunk(t *testing.T) {
	data := buildGLB(2, [2]any{chunkTypeJSON, `{"scene":`})
	rep := NewInspector(0).Validate(data)
	if rep.Valid {
		t.Fatal("expected invalid report for malformed JSON chunk")
	}
	if !strings.Contains(rep.Errors[0], "malformed glTF JSON") {
		t.Fatalf("expected malformed JSON error, got %v", rep.Errors)
	}
}

func TestValidate_MissingJSONChunk(t *testing.T) {
	data := buildGLB(2, [2]any{chunkTypeBIN, "\x00\x00\x00\x00"})
	rep := NewInspector(0).Validate(data)
	if rep.Valid {
		t.Fatal("expected invalid report without a JSON chunk")
	}
}

func TestValidate_ChunkOverrun(t *testing.T) {
	data := validGLB()
	// Corrupt the first chunk length to point past the end of file.
	binary.LittleEndian.PutUint32(data[12:16], 1<<30)
	rep := NewInspector(0).Validate(data)
	if rep.Valid {
		t.Fatal("expected invalid report for overrunning chunk")
	}
	if !strings.Contains(rep.Errors[0], "overruns") {
		t.Fatalf("expected overrun error, got %v", rep.Errors)
	}
}

func TestValidate_WarningsDoNotFlipValid(t *testing.T) {
	// Version 1 plus no meshes and no default scene: warnings only.
	data := buildGLB(1, [2]any{chunkTypeJSON, `{"textures":[]}`})
	rep := NewInspector(0).Validate(data)
	if !rep.Valid {
		t.Fatalf("expected valid report, got errors: %v", rep.Errors)
	}
	wantWarnings := []string{"unexpected glTF version", "no default scene", "no meshes"}
	for _, want := range wantWarnings {
		found := false
		for _, w := range rep.Warnings {
			if strings.Contains(w, want) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("missing warning %q in %v", want, rep.Warnings)
		}
	}
}

func TestValidate_UnknownChunkSkipped(t *testing.T) {
	data := buildGLB(2,
		[2]any{chunkTypeJSON, `{"meshes":[{}]}`},
		[2]any{uint32(0xDEADBEEF), "junk"},
	)
	rep := NewInspector(0).Validate(data)
	if !rep.Valid {
		t.Fatalf("expected valid report, got errors: %v", rep.Errors)
	}
	found := false
	for _, w := range rep.Warnings {
		if strings.Contains(w, "unknown chunk type") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected unknown-chunk warning, got %v", rep.Warnings)
	}
}

func TestValidate_MissingBINChunkWarns(t *testing.T) {
	// A buffer without a URI points at the embedded BIN chunk; its absence
	// is suspicious but not fatal.
	data := buildGLB(2, [2]any{chunkTypeJSON, `{"scene":0,"scenes":[{}],"meshes":[{}],"buffers":[{"byteLength":8}]}`})
	rep := NewInspector(0).Validate(data)
	if !rep.Valid {
		t.Fatalf("expected valid report, got errors: %v", rep.Errors)
	}
	found := false
	for _, w := range rep.Warnings {
		if strings.Contains(w, "BIN chunk is missing") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected missing-BIN warning, got %v", rep.Warnings)
	}

	// With the BIN chunk present, or with only URI-backed buffers, no warning.
	for _, data := range [][]byte{
		buildGLB(2,
			[2]any{chunkTypeJSON, `{"scene":0,"scenes":[{}],"meshes":[{}],"buffers":[{"byteLength":8}]}`},
			[2]any{chunkTypeBIN, "\x00\x00\x00\x00\x00\x00\x00\x00"},
		),
		buildGLB(2, [2]any{chunkTypeJSON, `{"scene":0,"scenes":[{}],"meshes":[{}],"buffers":[{"uri":"mesh.bin"}]}`}),
	} {
		rep := NewInspector(0).Validate(data)
		for _, w := range rep.Warnings {
			if strings.Contains(w, "BIN chunk is missing") {
				t.Fatalf("unexpected missing-BIN warning: %v", rep.Warnings)
			}
		}
	}
}

func TestCheckMagic(t *testing.T) {
	if !CheckMagic(validGLB()) {
		t.Fatal("valid container should pass the magic check")
	}
	if CheckMagic([]byte{1, 2}) {
		t.Fatal("short slice should fail the magic check")
	}
	if CheckMagic([]byte("USDZ........")) {
		t.Fatal("non-GLB bytes should fail the magic check")
	}
}

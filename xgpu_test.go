package xgpu

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/gogpu/xgpu/ucode"
)

func testProgram(shaderType ucode.ShaderType) *ucode.Program {
	target := ucode.TargetPosition
	if shaderType == ucode.ShaderTypePixel {
		target = ucode.TargetColor
	}
	operand := ucode.Operand{
		Storage:        ucode.StorageRegister,
		Index:          0,
		ComponentCount: 4,
		Components:     ucode.IdentityComponents,
	}
	return &ucode.Program{
		Type:      shaderType,
		Microcode: []uint32{0x0badf00d, uint32(shaderType)},
		Blocks: []ucode.Block{{Records: []ucode.ControlFlowRecord{
			&ucode.ExecRecord{IsEnd: true, Instructions: []ucode.Instruction{
				&ucode.AluInstruction{
					VectorOpcode:   ucode.VectorOpAdd,
					VectorOperands: []ucode.Operand{operand, operand},
					VectorResult: ucode.Result{
						Storage:    target,
						WriteMask:  0b1111,
						Components: ucode.IdentityComponents,
					},
				},
			}},
		}}},
		RegisterCount: 1,
	}
}

// TestTranslateVertexShader translates a basic vertex shader and checks the
// container magic.
func TestTranslateVertexShader(t *testing.T) {
	blob, err := Translate(testProgram(ucode.ShaderTypeVertex))
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if len(blob) < 4 {
		t.Fatal("Output too short")
	}
	// 'DXBC' little-endian.
	magic := uint32(blob[0]) | uint32(blob[1])<<8 | uint32(blob[2])<<16 | uint32(blob[3])<<24
	want := uint32('D') | uint32('X')<<8 | uint32('B')<<16 | uint32('C')<<24
	if magic != want {
		t.Errorf("Invalid container magic: got 0x%08x, want 0x%08x", magic, want)
	}
	t.Logf("Generated %d bytes of DXBC", len(blob))
}

// TestTranslatePixelShader translates a basic pixel shader through the
// options path.
func TestTranslatePixelShader(t *testing.T) {
	tr, err := TranslateWithOptions(testProgram(ucode.ShaderTypePixel), DefaultOptions())
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if len(tr.Binary) == 0 {
		t.Fatal("empty container")
	}
	if tr.Modification != 0 {
		t.Errorf("default translation carries modification %#x", tr.Modification)
	}
}

// TestTranslateDeterministic checks that translating the same program twice
// yields byte-identical containers.
func TestTranslateDeterministic(t *testing.T) {
	a, err := Translate(testProgram(ucode.ShaderTypeVertex))
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	b, err := Translate(testProgram(ucode.ShaderTypeVertex))
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("translation is not deterministic")
	}
}

// TestForceEarlyDepthStencil checks the option changes the pixel shader
// output and is ignored for vertex shaders.
func TestForceEarlyDepthStencil(t *testing.T) {
	opts := DefaultOptions()
	opts.ForceEarlyDepthStencil = true

	plain, err := TranslateWithOptions(testProgram(ucode.ShaderTypePixel), DefaultOptions())
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	early, err := TranslateWithOptions(testProgram(ucode.ShaderTypePixel), opts)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if early.Modification == 0 {
		t.Errorf("option did not select the early depth/stencil variant")
	}
	if bytes.Equal(plain.Binary, early.Binary) {
		t.Errorf("early depth/stencil variant is byte-identical to the default")
	}

	vertex, err := TranslateWithOptions(testProgram(ucode.ShaderTypeVertex), opts)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if vertex.Modification != 0 {
		t.Errorf("vertex shader picked up a pixel-only modification")
	}
}

func TestHashMatchesDictionaryIdentity(t *testing.T) {
	microcode := []uint32{1, 2, 3}
	if Hash(microcode) != Hash([]uint32{1, 2, 3}) {
		t.Errorf("equal microcode hashed differently")
	}
	if Hash(microcode) == Hash([]uint32{1, 2, 4}) {
		t.Errorf("distinct microcode collided")
	}
}

func TestSetLogger(t *testing.T) {
	if Logger() == nil {
		t.Fatal("default logger is nil")
	}
	custom := slog.New(slog.DiscardHandler)
	SetLogger(custom)
	defer SetLogger(nil)
	if Logger() != custom {
		t.Errorf("SetLogger did not take effect")
	}
	SetLogger(nil)
	if Logger() == nil {
		t.Errorf("SetLogger(nil) must restore the silent logger")
	}
}

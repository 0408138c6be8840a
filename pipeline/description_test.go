package pipeline

import (
	"bytes"
	"testing"

	"github.com/gogpu/xgpu/translate"
	"github.com/gogpu/xgpu/ucode"
)

func vec4Operand(index uint32) ucode.Operand {
	return ucode.Operand{
		Storage:        ucode.StorageRegister,
		Index:          index,
		ComponentCount: 4,
		Components:     ucode.IdentityComponents,
	}
}

func vec4Result(storage ucode.ResultStorage, index uint32) ucode.Result {
	return ucode.Result{
		Storage:    storage,
		Index:      index,
		WriteMask:  0b1111,
		Components: ucode.IdentityComponents,
	}
}

func endExec(instructions ...ucode.Instruction) *ucode.ExecRecord {
	return &ucode.ExecRecord{IsEnd: true, Instructions: instructions}
}

// vertexProgram builds a minimal valid vertex program; seed makes the
// microcode, and therefore the shader hash, distinct.
func vertexProgram(seed uint32) *ucode.Program {
	return &ucode.Program{
		Type:      ucode.ShaderTypeVertex,
		Microcode: []uint32{0x10293847, seed},
		Blocks: []ucode.Block{{Records: []ucode.ControlFlowRecord{
			endExec(&ucode.AluInstruction{
				VectorOpcode:   ucode.VectorOpAdd,
				VectorOperands: []ucode.Operand{vec4Operand(0), vec4Operand(0)},
				VectorResult:   vec4Result(ucode.TargetPosition, 0),
			}),
		}}},
		RegisterCount: 2,
	}
}

func pixelProgram(seed uint32) *ucode.Program {
	return &ucode.Program{
		Type:      ucode.ShaderTypePixel,
		Microcode: []uint32{0xdeadbeef, seed},
		Blocks: []ucode.Block{{Records: []ucode.ControlFlowRecord{
			endExec(&ucode.AluInstruction{
				VectorOpcode:   ucode.VectorOpAdd,
				VectorOperands: []ucode.Operand{vec4Operand(0), vec4Operand(0)},
				VectorResult:   vec4Result(ucode.TargetColor, 0),
			}),
		}}},
		RegisterCount: 1,
	}
}

// baseDrawState is a plain opaque triangle draw with one 8888 target.
func baseDrawState() DrawState {
	return DrawState{
		PrimitiveType: PrimitiveTriangleList,
		CullBack:      true,
		ColorMask:     0xF,
		RenderTargets: [4]RenderTargetState{
			{Used: true, Format: ColorFormat8888, SrcBlend: 1, DestBlend: 0},
		},
	}
}

func TestDescriptionRoundTrip(t *testing.T) {
	d := Description{
		VertexShaderHash:     0x1122334455667788,
		PixelShaderHash:      0x99aabbccddeeff00,
		DepthBias:            -42,
		DepthBiasSlopeScaled: 1.5,
		StripCutIndex:        StripCutFFFFFFFF,
		Topology:             TopologyLine,
		GeometryShader:       GeometryShaderQuadList,
		FillModeWireframe:    1,
		CullMode:             CullFront,
		DepthClip:            1,
		ROVMultisample:       1,
		DepthFormat:          DepthFormatD24FS8,
		DepthFunc:            CompareLessEqual,
		DepthWrite:           1,
		StencilEnable:        1,
		StencilReadMask:      0xF0,
		StencilWriteMask:     0x0F,
		StencilFrontFailOp:   StencilOpInvert,
		StencilFrontPassOp:   StencilOpIncrementWrap,
		StencilFrontFunc:     CompareNotEqual,
		StencilBackFailOp:    StencilOpDecrementClamp,
		StencilBackFunc:      CompareGreater,
	}
	d.RenderTargets[0] = RenderTargetDescription{
		Used: 1, Format: ColorFormat16161616Float, WriteMask: 0xA,
		SrcBlend: BlendSrcAlpha, DestBlend: BlendInvSrcAlpha, BlendOp: BlendOpAdd,
		SrcBlendAlpha: BlendOne, DestBlendAlpha: BlendZero, BlendOpAlpha: BlendOpMax,
	}
	d.RenderTargets[2] = RenderTargetDescription{Used: 1, Format: ColorFormat32Float}

	encoded := d.Encode()
	if len(encoded) != DescriptionSize {
		t.Fatalf("encoded length = %d, want %d", len(encoded), DescriptionSize)
	}
	decoded, err := DecodeDescription(encoded)
	if err != nil {
		t.Fatalf("DecodeDescription: %v", err)
	}
	if decoded != d {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, d)
	}
	if decoded.Hash() != d.Hash() {
		t.Errorf("hash changed across round trip")
	}
	if _, err := DecodeDescription(encoded[:len(encoded)-1]); err == nil {
		t.Errorf("short buffer decoded without error")
	}
}

func TestConvertDepthBias(t *testing.T) {
	tests := []struct {
		name   string
		offset float32
		format DepthFormat
		want   int32
	}{
		{"zero", 0, DepthFormatD24S8, 0},
		{"one unorm unit", 1.0 / (1 << 23), DepthFormatD24S8, 1},
		{"one float unit", 1.0 / (1 << 19), DepthFormatD24FS8, 1},
		{"full unit float scale", 1, DepthFormatD24FS8, 1 << 19},
		{"full unit unorm scale", 1, DepthFormatD24S8, 1 << 23},
		{"rounds away from zero", 0.5 / (1 << 23), DepthFormatD24S8, 1},
		{"negative rounds away from zero", -0.5 / (1 << 23), DepthFormatD24S8, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := convertDepthBias(tt.offset, tt.format); got != tt.want {
				t.Errorf("convertDepthBias(%v, %v) = %d, want %d",
					tt.offset, tt.format, got, tt.want)
			}
		})
	}
}

func TestBlendFactorMaps(t *testing.T) {
	tests := []struct {
		guest     uint8
		want      BlendFactor
		wantAlpha BlendFactor
	}{
		{0, BlendZero, BlendZero},
		{1, BlendOne, BlendOne},
		{4, BlendSrcColor, BlendSrcAlpha},
		{5, BlendInvSrcColor, BlendInvSrcAlpha},
		{6, BlendSrcAlpha, BlendSrcAlpha},
		{8, BlendDestColor, BlendDestAlpha},
		{10, BlendDestAlpha, BlendDestAlpha},
		{12, BlendConstant, BlendConstant},
		{14, BlendConstant, BlendConstant},
		{16, BlendSrcAlphaSat, BlendSrcAlphaSat},
		// Undefined encodings fall to zero rather than out of range.
		{2, BlendZero, BlendZero},
		{31, BlendZero, BlendZero},
	}
	for _, tt := range tests {
		if got := blendFactorMap[tt.guest]; got != tt.want {
			t.Errorf("blendFactorMap[%d] = %d, want %d", tt.guest, got, tt.want)
		}
		if got := blendFactorAlphaMap[tt.guest]; got != tt.wantAlpha {
			t.Errorf("blendFactorAlphaMap[%d] = %d, want %d", tt.guest, got, tt.wantAlpha)
		}
	}
}

func TestNewDescriptionRequiresVertexShader(t *testing.T) {
	draw := baseDrawState()
	if _, err := NewDescription(nil, nil, &draw); err != ErrNoVertexShader {
		t.Fatalf("err = %v, want ErrNoVertexShader", err)
	}
}

func TestNewDescriptionTopology(t *testing.T) {
	vs := translate.NewShader(vertexProgram(1))
	tests := []struct {
		prim     PrimitiveType
		topology TopologyClass
		gs       GeometryShaderKind
	}{
		{PrimitivePointList, TopologyPoint, GeometryShaderPointList},
		{PrimitiveLineStrip, TopologyLine, GeometryShaderNone},
		{PrimitiveTriangleStrip, TopologyTriangle, GeometryShaderNone},
		{PrimitiveRectangleList, TopologyTriangle, GeometryShaderRectangleList},
		{PrimitiveQuadList, TopologyLine, GeometryShaderQuadList},
	}
	for _, tt := range tests {
		draw := baseDrawState()
		draw.PrimitiveType = tt.prim
		d, err := NewDescription(vs, nil, &draw)
		if err != nil {
			t.Fatalf("NewDescription(%v): %v", tt.prim, err)
		}
		if d.Topology != tt.topology || d.GeometryShader != tt.gs {
			t.Errorf("%v: topology %d gs %d, want %d %d",
				tt.prim, d.Topology, d.GeometryShader, tt.topology, tt.gs)
		}
	}
}

func TestNewDescriptionStripCut(t *testing.T) {
	vs := translate.NewShader(vertexProgram(1))
	draw := baseDrawState()
	draw.MultiPrimitiveIndexBufferEnable = true
	draw.IndexFormat = IndexFormat32
	d, _ := NewDescription(vs, nil, &draw)
	if d.StripCutIndex != StripCutFFFFFFFF {
		t.Errorf("32-bit strip cut = %d, want StripCutFFFFFFFF", d.StripCutIndex)
	}
	draw.IndexFormat = IndexFormat16
	d, _ = NewDescription(vs, nil, &draw)
	if d.StripCutIndex != StripCutFFFF {
		t.Errorf("16-bit strip cut = %d, want StripCutFFFF", d.StripCutIndex)
	}
}

// The culled side's fill and offset state must not leak into the description:
// draws differing only in dead state have to land on the same pipeline.
func TestNewDescriptionIgnoresCulledSideState(t *testing.T) {
	vs := translate.NewShader(vertexProgram(1))
	a := baseDrawState()
	a.CullBack = true
	a.PolygonModeEnable = true
	b := a
	b.BackFillWireframe = true
	b.PolyOffsetBackEnable = true
	b.PolyOffsetBack = 4
	b.PolyOffsetBackScale = 2

	da, err := NewDescription(vs, nil, &a)
	if err != nil {
		t.Fatalf("NewDescription: %v", err)
	}
	db, err := NewDescription(vs, nil, &b)
	if err != nil {
		t.Fatalf("NewDescription: %v", err)
	}
	if !bytes.Equal(da.Encode(), db.Encode()) {
		t.Errorf("culled-side state changed the description")
	}
}

func TestNewDescriptionStencilBackfaceMasks(t *testing.T) {
	vs := translate.NewShader(vertexProgram(1))
	draw := baseDrawState()
	draw.CullBack = false
	draw.DepthTargetUsed = true
	draw.StencilEnable = true
	draw.StencilBackfaceEnable = true
	draw.StencilFront = StencilSideState{
		Func: CompareLess, PassOp: StencilOpReplace, ReadMask: 0x11, WriteMask: 0x22,
	}
	draw.StencilBack = StencilSideState{
		Func: CompareGreater, PassOp: StencilOpInvert, ReadMask: 0x33, WriteMask: 0x44,
	}

	d, err := NewDescription(vs, nil, &draw)
	if err != nil {
		t.Fatalf("NewDescription: %v", err)
	}
	if d.StencilReadMask != 0x11 || d.StencilWriteMask != 0x22 {
		t.Errorf("masks %#x/%#x, want front masks when front faces draw",
			d.StencilReadMask, d.StencilWriteMask)
	}
	if d.StencilBackFunc != CompareGreater || d.StencilBackPassOp != StencilOpInvert {
		t.Errorf("back face state not taken from the back side")
	}

	draw.CullFront = true
	d, err = NewDescription(vs, nil, &draw)
	if err != nil {
		t.Fatalf("NewDescription: %v", err)
	}
	if d.StencilReadMask != 0x33 || d.StencilWriteMask != 0x44 {
		t.Errorf("masks %#x/%#x, want back masks when only back faces draw",
			d.StencilReadMask, d.StencilWriteMask)
	}

	draw.StencilBackfaceEnable = false
	d, err = NewDescription(vs, nil, &draw)
	if err != nil {
		t.Fatalf("NewDescription: %v", err)
	}
	if d.StencilBackFunc != d.StencilFrontFunc || d.StencilBackPassOp != d.StencilFrontPassOp {
		t.Errorf("back face state should mirror the front without backface stencil")
	}
}

func TestNewDescriptionWriteMaskZeroResetsBlend(t *testing.T) {
	vs := translate.NewShader(vertexProgram(1))
	draw := baseDrawState()
	draw.ColorMask = 0
	draw.RenderTargets[0].SrcBlend = 6  // source alpha
	draw.RenderTargets[0].DestBlend = 7 // inverse source alpha
	d, err := NewDescription(vs, nil, &draw)
	if err != nil {
		t.Fatalf("NewDescription: %v", err)
	}
	rt := d.RenderTargets[0]
	if rt.WriteMask != 0 {
		t.Fatalf("write mask = %#x, want 0", rt.WriteMask)
	}
	if rt.SrcBlend != BlendOne || rt.DestBlend != BlendZero || rt.BlendOp != BlendOpAdd {
		t.Errorf("masked-out target kept blend state: %+v", rt)
	}
}

func TestNewDescriptionDepthFormatOnlyWhenBound(t *testing.T) {
	vs := translate.NewShader(vertexProgram(1))
	draw := baseDrawState()
	draw.DepthTargetUsed = true
	draw.DepthFormat = DepthFormatD24FS8
	d, err := NewDescription(vs, nil, &draw)
	if err != nil {
		t.Fatalf("NewDescription: %v", err)
	}
	if d.DepthFormat != DepthFormatD24S8 {
		t.Errorf("format recorded with depth always-pass and no writes")
	}
	draw.DepthEnable = true
	draw.DepthFunc = CompareLess
	d, _ = NewDescription(vs, nil, &draw)
	if d.DepthFormat != DepthFormatD24FS8 {
		t.Errorf("format not recorded with depth testing on")
	}
}

func TestNativeBlendDisabledForOpaqueState(t *testing.T) {
	vs := translate.NewShader(vertexProgram(1))
	draw := baseDrawState()
	d, err := NewDescription(vs, nil, &draw)
	if err != nil {
		t.Fatalf("NewDescription: %v", err)
	}
	nd := d.Native(nil, nil)
	if len(nd.ColorTargets) != 1 {
		t.Fatalf("got %d color targets, want 1", len(nd.ColorTargets))
	}
	if nd.ColorTargets[0].Blend != nil {
		t.Errorf("opaque one/zero/add state produced an enabled blend")
	}

	draw.RenderTargets[0].SrcBlend = 6
	draw.RenderTargets[0].DestBlend = 7
	d, _ = NewDescription(vs, nil, &draw)
	nd = d.Native(nil, nil)
	if nd.ColorTargets[0].Blend == nil {
		t.Fatalf("alpha blend state did not enable blending")
	}
}

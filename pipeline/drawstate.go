// Package pipeline maps guest draw state and translated shader pairs to
// compiled graphics pipeline objects. Pipelines are deduplicated by a content
// hash of their fixed-function description, compiled inline or on a bounded
// worker pool, and persisted to append-only log files for warm starts.
package pipeline

// Guest fixed-function enums, carrying the register encodings of the guest
// GPU. DrawState is a plain snapshot of the register file taken by the
// caller; the register file itself lives upstream.

// PrimitiveType is the guest draw primitive.
type PrimitiveType uint8

const (
	PrimitiveNone          PrimitiveType = 0
	PrimitivePointList     PrimitiveType = 1
	PrimitiveLineList      PrimitiveType = 2
	PrimitiveLineStrip     PrimitiveType = 3
	PrimitiveTriangleList  PrimitiveType = 4
	PrimitiveTriangleFan   PrimitiveType = 5
	PrimitiveTriangleStrip PrimitiveType = 6
	PrimitiveRectangleList PrimitiveType = 8
	PrimitiveLineLoop      PrimitiveType = 12
	PrimitiveQuadList      PrimitiveType = 13
	PrimitiveQuadStrip     PrimitiveType = 14
)

// IsPolygonal reports whether the primitive has faces, and thus whether cull
// state, fill mode and depth bias apply to it.
func (p PrimitiveType) IsPolygonal() bool {
	switch p {
	case PrimitiveTriangleList, PrimitiveTriangleFan, PrimitiveTriangleStrip,
		PrimitiveRectangleList, PrimitiveQuadList, PrimitiveQuadStrip:
		return true
	}
	return false
}

// IndexFormat is the guest index buffer element width.
type IndexFormat uint8

const (
	IndexFormat16 IndexFormat = iota
	IndexFormat32
)

// CompareFunction is the guest 3-bit comparison: bit 0 passes on less, bit 1
// on equal, bit 2 on greater.
type CompareFunction uint8

const (
	CompareNever CompareFunction = iota
	CompareLess
	CompareEqual
	CompareLessEqual
	CompareGreater
	CompareNotEqual
	CompareGreaterEqual
	CompareAlways
)

// StencilOp is the guest stencil operation.
type StencilOp uint8

const (
	StencilOpKeep StencilOp = iota
	StencilOpZero
	StencilOpReplace
	StencilOpIncrementClamp
	StencilOpDecrementClamp
	StencilOpInvert
	StencilOpIncrementWrap
	StencilOpDecrementWrap
)

// BlendOp is the guest blend combine function.
type BlendOp uint8

const (
	BlendOpAdd BlendOp = iota
	BlendOpSubtract
	BlendOpMin
	BlendOpMax
	BlendOpRevSubtract
)

// DepthFormat is the guest depth render target format.
type DepthFormat uint8

const (
	DepthFormatD24S8 DepthFormat = iota
	// DepthFormatD24FS8 is the 20e4 floating-point depth format. Depth bias
	// values are scaled differently for it.
	DepthFormatD24FS8
)

// ColorFormat is the guest color render target format.
type ColorFormat uint8

const (
	ColorFormat8888                   ColorFormat = 0
	ColorFormat8888Gamma              ColorFormat = 1
	ColorFormat2101010                ColorFormat = 2
	ColorFormat2101010Float           ColorFormat = 3
	ColorFormat1616                   ColorFormat = 4
	ColorFormat16161616               ColorFormat = 5
	ColorFormat1616Float              ColorFormat = 6
	ColorFormat16161616Float          ColorFormat = 7
	ColorFormat2101010As10            ColorFormat = 10
	ColorFormat2101010FloatAs16161616 ColorFormat = 12
	ColorFormat32Float                ColorFormat = 14
	ColorFormat3232Float              ColorFormat = 15
)

// Base collapses the aliased encodings onto the format that decides the host
// render target format, so aliases never produce distinct pipelines.
func (f ColorFormat) Base() ColorFormat {
	switch f {
	case ColorFormat2101010As10:
		return ColorFormat2101010
	case ColorFormat2101010FloatAs16161616:
		return ColorFormat2101010Float
	}
	return f
}

// StencilSideState is one face's stencil configuration.
type StencilSideState struct {
	Func        CompareFunction
	FailOp      StencilOp
	DepthFailOp StencilOp
	PassOp      StencilOp
	ReadMask    uint8
	WriteMask   uint8
}

// RenderTargetState is the guest blend control of one bound color target.
type RenderTargetState struct {
	Used   bool
	Format ColorFormat

	// Blend factors are the raw 5-bit guest indices; the description maps
	// them to host factors.
	SrcBlend       uint8
	DestBlend      uint8
	BlendOp        BlendOp
	SrcBlendAlpha  uint8
	DestBlendAlpha uint8
	BlendOpAlpha   BlendOp
}

// DrawState is the register-file snapshot a pipeline description is computed
// from. Callers fill it from current guest state before each draw; the cache
// only reads it.
type DrawState struct {
	PrimitiveType PrimitiveType
	IndexFormat   IndexFormat
	// MultiPrimitiveIndexBufferEnable turns on the strip-cut (primitive
	// reset) index.
	MultiPrimitiveIndexBufferEnable bool

	FrontCounterClockwise bool
	CullFront             bool
	CullBack              bool
	// Wireframe fill requested per side (guest fill type other than
	// triangles). Points fill is not supported on the host, so it is also
	// drawn as wireframe.
	FrontFillWireframe bool
	BackFillWireframe  bool
	PolygonModeEnable  bool

	PolyOffsetFrontEnable bool
	PolyOffsetBackEnable  bool
	PolyOffsetParaEnable  bool
	PolyOffsetFront       float32
	PolyOffsetFrontScale  float32
	PolyOffsetBack        float32
	PolyOffsetBackScale   float32

	DepthClipDisable bool
	EarlyZ           bool
	// ROVMultisample is set when blending is emulated through a
	// rasterizer-ordered view and the guest surface is multisampled; the
	// pipeline must then rasterize at the sample rate.
	ROVMultisample bool

	// DepthTargetUsed is whether a depth/stencil surface is bound at all.
	DepthTargetUsed  bool
	DepthFormat      DepthFormat
	DepthEnable      bool
	DepthWriteEnable bool
	DepthFunc        CompareFunction

	StencilEnable         bool
	StencilBackfaceEnable bool
	StencilFront          StencilSideState
	StencilBack           StencilSideState

	// ColorMask packs four 4-bit per-target write masks.
	ColorMask     uint32
	RenderTargets [4]RenderTargetState

	// SQProgramCntl is the raw guest shader control register, persisted with
	// shaders so a replayed translation sees the state it was created under.
	SQProgramCntl uint32
}

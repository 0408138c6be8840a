package ucode

// VertexFormat is the guest vertex fetch data format. Only the fields that
// affect host binding identity and load emission are modeled; exotic packed
// formats are resolved by the upstream decoder into component count and
// whether a raw dword load suffices.
type VertexFormat uint8

const (
	VertexFormat8888 VertexFormat = iota
	VertexFormat16x2
	VertexFormat16x4
	VertexFormat32
	VertexFormat32x2
	VertexFormat32x3
	VertexFormat32x4
	VertexFormatFloat32
	VertexFormatFloat32x2
	VertexFormatFloat32x3
	VertexFormatFloat32x4
)

// ComponentCount returns how many components the format yields.
func (f VertexFormat) ComponentCount() uint8 {
	switch f {
	case VertexFormat32, VertexFormatFloat32:
		return 1
	case VertexFormat16x2, VertexFormat32x2, VertexFormatFloat32x2:
		return 2
	case VertexFormat32x3, VertexFormatFloat32x3:
		return 3
	}
	return 4
}

// IsFloat reports whether the format loads IEEE floats directly, with no
// integer-to-float conversion needed after the raw load.
func (f VertexFormat) IsFloat() bool {
	return f >= VertexFormatFloat32
}

// VertexFetchInstruction reads vertex data through one of the 96 fetch
// constants. A mini-fetch reuses the address computed by the preceding full
// fetch.
type VertexFetchInstruction struct {
	Predicated         bool
	PredicateCondition bool

	FetchConstantIndex uint32
	Format             VertexFormat
	// Stride and Offset are in dwords, as encoded in the instruction.
	Stride uint32
	Offset uint32
	// IsIndexRounded rounds the index operand to nearest rather than
	// flooring before the address multiply.
	IsIndexRounded bool
	IsMiniFetch    bool

	// Operands[0] is the index source for a full fetch.
	Operands []Operand
	Result   Result
}

func (v *VertexFetchInstruction) isInstruction() {}

// TextureDimension is the guest texture shape for a texture fetch.
type TextureDimension uint8

const (
	TextureDimension1D TextureDimension = iota
	TextureDimension2D
	TextureDimension3D
	TextureDimensionCube
)

func (d TextureDimension) String() string {
	switch d {
	case TextureDimension1D:
		return "1d"
	case TextureDimension2D:
		return "2d"
	case TextureDimension3D:
		return "3d"
	}
	return "cube"
}

// CoordinateCount returns the number of coordinate components sampled.
func (d TextureDimension) CoordinateCount() uint8 {
	switch d {
	case TextureDimension1D:
		return 1
	case TextureDimension2D:
		return 2
	}
	return 3
}

// TextureFetchOpcode distinguishes the texture fetch family members.
type TextureFetchOpcode uint8

const (
	TextureOpFetch TextureFetchOpcode = iota
	TextureOpSetLOD
	TextureOpGetComputedLOD
	TextureOpGetWeights
)

// TextureFilter is a per-fetch filtering override; FilterUseFetchConst defers
// to the fetch constant at runtime.
type TextureFilter uint8

const (
	FilterPoint TextureFilter = iota
	FilterLinear
	FilterUseFetchConst
)

// TextureFetchInstruction samples a texture bound through one of the 32
// texture fetch constants.
type TextureFetchInstruction struct {
	Predicated         bool
	PredicateCondition bool

	Opcode             TextureFetchOpcode
	FetchConstantIndex uint32
	Dimension          TextureDimension

	// UseComputedLOD selects hardware LOD computation; otherwise the LOD
	// register set by TextureOpSetLOD is used.
	UseComputedLOD bool
	LODBias        float32

	// MagFilter/MinFilter/MipFilter and AnisoFilter override the fetch
	// constant's filtering when not FilterUseFetchConst; they participate
	// in sampler binding identity.
	MagFilter  TextureFilter
	MinFilter  TextureFilter
	MipFilter  TextureFilter
	AnisoValid bool

	// Operands[0] holds the coordinates.
	Operands []Operand
	Result   Result
}

func (t *TextureFetchInstruction) isInstruction() {}

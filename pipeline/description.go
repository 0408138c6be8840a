package pipeline

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/bytedance/gopkg/util/xxhash3"

	"github.com/gogpu/xgpu/translate"
)

// ErrNoVertexShader is returned when a pipeline is requested without a vertex
// shader.
var ErrNoVertexShader = errors.New("pipeline: no vertex shader")

// BlendFactor is the host blend factor a guest factor index maps to.
type BlendFactor uint8

const (
	BlendZero BlendFactor = iota
	BlendOne
	BlendSrcColor
	BlendInvSrcColor
	BlendSrcAlpha
	BlendInvSrcAlpha
	BlendDestColor
	BlendInvDestColor
	BlendDestAlpha
	BlendInvDestAlpha
	BlendConstant
	BlendInvConstant
	BlendSrcAlphaSat
)

// blendFactorMap maps the 5-bit guest color blend factor to the host factor.
// 32 entries for safety, every unknown encoding falls to zero. Constant color
// and constant alpha both map to the single host blend constant.
var blendFactorMap = [32]BlendFactor{
	0:  BlendZero,
	1:  BlendOne,
	4:  BlendSrcColor,
	5:  BlendInvSrcColor,
	6:  BlendSrcAlpha,
	7:  BlendInvSrcAlpha,
	8:  BlendDestColor,
	9:  BlendInvDestColor,
	10: BlendDestAlpha,
	11: BlendInvDestAlpha,
	12: BlendConstant,
	13: BlendInvConstant,
	14: BlendConstant,
	15: BlendInvConstant,
	16: BlendSrcAlphaSat,
}

// blendFactorAlphaMap is blendFactorMap with the color modes changed to their
// alpha counterparts. Guest shaders do use color factors in the alpha slot.
var blendFactorAlphaMap = [32]BlendFactor{
	0:  BlendZero,
	1:  BlendOne,
	4:  BlendSrcAlpha,
	5:  BlendInvSrcAlpha,
	6:  BlendSrcAlpha,
	7:  BlendInvSrcAlpha,
	8:  BlendDestAlpha,
	9:  BlendInvDestAlpha,
	10: BlendDestAlpha,
	11: BlendInvDestAlpha,
	12: BlendConstant,
	13: BlendInvConstant,
	14: BlendConstant,
	15: BlendInvConstant,
	16: BlendSrcAlphaSat,
}

// StripCutIndex selects the primitive-reset index value.
type StripCutIndex uint8

const (
	StripCutNone StripCutIndex = iota
	StripCutFFFF
	StripCutFFFFFFFF
)

// TopologyClass is the host primitive topology class of a pipeline.
type TopologyClass uint8

const (
	TopologyPoint TopologyClass = iota
	TopologyLine
	TopologyTriangle
)

// GeometryShaderKind selects a host geometry shader used to expand guest
// primitives the host cannot draw directly.
type GeometryShaderKind uint8

const (
	GeometryShaderNone GeometryShaderKind = iota
	GeometryShaderPointList
	GeometryShaderRectangleList
	GeometryShaderQuadList
)

// CullModeDesc is the resolved host cull mode.
type CullModeDesc uint8

const (
	CullNone CullModeDesc = iota
	CullFront
	CullBack
)

// RenderTargetDescription is the per-target slice of a Description.
type RenderTargetDescription struct {
	Used           uint8
	Format         ColorFormat
	WriteMask      uint8
	SrcBlend       BlendFactor
	DestBlend      BlendFactor
	BlendOp        BlendOp
	SrcBlendAlpha  BlendFactor
	DestBlendAlpha BlendFactor
	BlendOpAlpha   BlendOp
}

// Description is the full fixed-function identity of a pipeline: two shader
// content hashes plus every state value that affects pipeline creation. It is
// fully value-initialized, so byte-equal encodings mean identical pipelines;
// the encoding is both the cache comparison key and the persisted log record.
type Description struct {
	VertexShaderHash uint64
	PixelShaderHash  uint64

	DepthBias            int32
	DepthBiasSlopeScaled float32

	StripCutIndex         StripCutIndex
	Topology              TopologyClass
	GeometryShader        GeometryShaderKind
	FillModeWireframe     uint8
	CullMode              CullModeDesc
	FrontCounterClockwise uint8
	DepthClip             uint8
	ForceEarlyZ           uint8
	ROVMultisample        uint8

	DepthFormat DepthFormat
	DepthFunc   CompareFunction
	DepthWrite  uint8

	StencilEnable           uint8
	StencilReadMask         uint8
	StencilWriteMask        uint8
	StencilFrontFailOp      StencilOp
	StencilFrontDepthFailOp StencilOp
	StencilFrontPassOp      StencilOp
	StencilFrontFunc        CompareFunction
	StencilBackFailOp       StencilOp
	StencilBackDepthFailOp  StencilOp
	StencilBackPassOp       StencilOp
	StencilBackFunc         CompareFunction

	RenderTargets [4]RenderTargetDescription
}

// DescriptionSize is the encoded byte length of a Description.
const DescriptionSize = 24 + 23 + 4*9

// Encode serializes the description to its fixed-size little-endian form.
func (d *Description) Encode() []byte {
	buf := make([]byte, 0, DescriptionSize)
	buf = binary.LittleEndian.AppendUint64(buf, d.VertexShaderHash)
	buf = binary.LittleEndian.AppendUint64(buf, d.PixelShaderHash)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(d.DepthBias))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(d.DepthBiasSlopeScaled))
	buf = append(buf,
		byte(d.StripCutIndex), byte(d.Topology), byte(d.GeometryShader),
		d.FillModeWireframe, byte(d.CullMode), d.FrontCounterClockwise,
		d.DepthClip, d.ForceEarlyZ, d.ROVMultisample,
		byte(d.DepthFormat), byte(d.DepthFunc), d.DepthWrite,
		d.StencilEnable, d.StencilReadMask, d.StencilWriteMask,
		byte(d.StencilFrontFailOp), byte(d.StencilFrontDepthFailOp),
		byte(d.StencilFrontPassOp), byte(d.StencilFrontFunc),
		byte(d.StencilBackFailOp), byte(d.StencilBackDepthFailOp),
		byte(d.StencilBackPassOp), byte(d.StencilBackFunc))
	for i := range d.RenderTargets {
		rt := &d.RenderTargets[i]
		buf = append(buf, rt.Used, byte(rt.Format), rt.WriteMask,
			byte(rt.SrcBlend), byte(rt.DestBlend), byte(rt.BlendOp),
			byte(rt.SrcBlendAlpha), byte(rt.DestBlendAlpha), byte(rt.BlendOpAlpha))
	}
	return buf
}

// DecodeDescription parses an encoded description. The input must be exactly
// DescriptionSize bytes.
func DecodeDescription(buf []byte) (Description, error) {
	var d Description
	if len(buf) != DescriptionSize {
		return d, fmt.Errorf("pipeline: description is %d bytes, want %d",
			len(buf), DescriptionSize)
	}
	d.VertexShaderHash = binary.LittleEndian.Uint64(buf)
	d.PixelShaderHash = binary.LittleEndian.Uint64(buf[8:])
	d.DepthBias = int32(binary.LittleEndian.Uint32(buf[16:]))
	d.DepthBiasSlopeScaled = math.Float32frombits(binary.LittleEndian.Uint32(buf[20:]))
	b := buf[24:]
	d.StripCutIndex = StripCutIndex(b[0])
	d.Topology = TopologyClass(b[1])
	d.GeometryShader = GeometryShaderKind(b[2])
	d.FillModeWireframe = b[3]
	d.CullMode = CullModeDesc(b[4])
	d.FrontCounterClockwise = b[5]
	d.DepthClip = b[6]
	d.ForceEarlyZ = b[7]
	d.ROVMultisample = b[8]
	d.DepthFormat = DepthFormat(b[9])
	d.DepthFunc = CompareFunction(b[10])
	d.DepthWrite = b[11]
	d.StencilEnable = b[12]
	d.StencilReadMask = b[13]
	d.StencilWriteMask = b[14]
	d.StencilFrontFailOp = StencilOp(b[15])
	d.StencilFrontDepthFailOp = StencilOp(b[16])
	d.StencilFrontPassOp = StencilOp(b[17])
	d.StencilFrontFunc = CompareFunction(b[18])
	d.StencilBackFailOp = StencilOp(b[19])
	d.StencilBackDepthFailOp = StencilOp(b[20])
	d.StencilBackPassOp = StencilOp(b[21])
	d.StencilBackFunc = CompareFunction(b[22])
	b = b[23:]
	for i := range d.RenderTargets {
		rt := &d.RenderTargets[i]
		e := b[i*9 : i*9+9]
		rt.Used = e[0]
		rt.Format = ColorFormat(e[1])
		rt.WriteMask = e[2]
		rt.SrcBlend = BlendFactor(e[3])
		rt.DestBlend = BlendFactor(e[4])
		rt.BlendOp = BlendOp(e[5])
		rt.SrcBlendAlpha = BlendFactor(e[6])
		rt.DestBlendAlpha = BlendFactor(e[7])
		rt.BlendOpAlpha = BlendOp(e[8])
	}
	return d, nil
}

// Hash is the content hash used as the bucket key in the cache and as the
// integrity check in the persisted pipeline log.
func (d *Description) Hash() uint64 {
	return xxhash3.Hash(d.Encode())
}

// convertDepthBias converts the guest polygon offset, expressed in guest
// depth units, to the host integer depth bias. The scale is the significand
// width of the depth format: 2^23 for the unorm format, 2^19 for 20e4 float
// depth. Rounded away from zero so a too-small guest value still biases
// instead of collapsing to no offset at all.
func convertDepthBias(offset float32, format DepthFormat) int32 {
	scaled := float64(offset)
	if format == DepthFormatD24FS8 {
		scaled *= float64(int32(1) << 19)
	} else {
		scaled *= float64(int32(1) << 23)
	}
	bias := int32(math.Ceil(math.Abs(scaled)))
	if scaled < 0 {
		bias = -bias
	}
	return bias
}

// NewDescription computes the pipeline description for the current draw
// state. Every unused field stays zero, so encodings of equal state are
// byte-equal.
func NewDescription(vertexShader, pixelShader *translate.Shader,
	draw *DrawState) (Description, error) {
	var d Description
	if vertexShader == nil {
		return d, ErrNoVertexShader
	}
	d.VertexShaderHash = vertexShader.Hash()
	if pixelShader != nil {
		d.PixelShaderHash = pixelShader.Hash()
	}

	if draw.MultiPrimitiveIndexBufferEnable {
		// Not using 0xFFFF with 32-bit indices: endian-swapped guest index
		// buffers would hold 0xFFFF0000 there anyway.
		if draw.IndexFormat == IndexFormat32 {
			d.StripCutIndex = StripCutFFFFFFFF
		} else {
			d.StripCutIndex = StripCutFFFF
		}
	}

	switch draw.PrimitiveType {
	case PrimitivePointList:
		d.Topology = TopologyPoint
	case PrimitiveLineList, PrimitiveLineStrip, PrimitiveLineLoop,
		PrimitiveQuadList:
		// Quads are drawn as line lists with adjacency.
		d.Topology = TopologyLine
	default:
		d.Topology = TopologyTriangle
	}
	switch draw.PrimitiveType {
	case PrimitivePointList:
		d.GeometryShader = GeometryShaderPointList
	case PrimitiveRectangleList:
		d.GeometryShader = GeometryShaderRectangleList
	case PrimitiveQuadList:
		d.GeometryShader = GeometryShaderQuadList
	}

	// The host has one fill mode and one depth bias for both faces, so the
	// values to use depend on culling: if a side is culled, take the other
	// side's state; with no culling, prefer the front.
	polygonal := draw.PrimitiveType.IsPolygonal()
	cullFront := false
	cullBack := false
	var polyOffset, polyOffsetScale float32
	if polygonal {
		if draw.FrontCounterClockwise {
			d.FrontCounterClockwise = 1
		}
		cullFront = draw.CullFront
		cullBack = draw.CullBack
		switch {
		case cullFront:
			d.CullMode = CullFront
		case cullBack:
			d.CullMode = CullBack
		}
		if !cullFront {
			if draw.FrontFillWireframe {
				d.FillModeWireframe = 1
			}
			if draw.PolyOffsetFrontEnable {
				polyOffset = draw.PolyOffsetFront
				polyOffsetScale = draw.PolyOffsetFrontScale
			}
		}
		if !cullBack {
			if draw.BackFillWireframe {
				d.FillModeWireframe = 1
			}
			if draw.PolyOffsetBackEnable && polyOffset == 0 && polyOffsetScale == 0 {
				polyOffset = draw.PolyOffsetBack
				polyOffsetScale = draw.PolyOffsetBackScale
			}
		}
		if !draw.PolygonModeEnable {
			d.FillModeWireframe = 0
		}
	} else if draw.PolyOffsetParaEnable {
		polyOffset = draw.PolyOffsetFront
		polyOffsetScale = draw.PolyOffsetFrontScale
	}
	d.DepthBias = convertDepthBias(polyOffset, draw.DepthFormat)
	// Guest slope is expressed in subpixels, the host wants pixels.
	d.DepthBiasSlopeScaled = polyOffsetScale * (1.0 / 16.0)
	if !draw.DepthClipDisable {
		d.DepthClip = 1
	}

	if draw.DepthTargetUsed {
		if draw.DepthEnable {
			d.DepthFunc = draw.DepthFunc
			if draw.DepthWriteEnable {
				d.DepthWrite = 1
			}
		} else {
			d.DepthFunc = CompareAlways
		}
		if draw.StencilEnable {
			d.StencilEnable = 1
			stencilBackface := polygonal && draw.StencilBackfaceEnable
			// One read/write mask pair on the host: use the back-face masks
			// only when exclusively back faces are drawn.
			masks := &draw.StencilFront
			if stencilBackface && cullFront {
				masks = &draw.StencilBack
			}
			d.StencilReadMask = masks.ReadMask
			d.StencilWriteMask = masks.WriteMask
			d.StencilFrontFailOp = draw.StencilFront.FailOp
			d.StencilFrontDepthFailOp = draw.StencilFront.DepthFailOp
			d.StencilFrontPassOp = draw.StencilFront.PassOp
			d.StencilFrontFunc = draw.StencilFront.Func
			if stencilBackface {
				d.StencilBackFailOp = draw.StencilBack.FailOp
				d.StencilBackDepthFailOp = draw.StencilBack.DepthFailOp
				d.StencilBackPassOp = draw.StencilBack.PassOp
				d.StencilBackFunc = draw.StencilBack.Func
			} else {
				d.StencilBackFailOp = d.StencilFrontFailOp
				d.StencilBackDepthFailOp = d.StencilFrontDepthFailOp
				d.StencilBackPassOp = d.StencilFrontPassOp
				d.StencilBackFunc = d.StencilFrontFunc
			}
		}
		// The format participates in the hash only when the depth/stencil
		// view would actually be bound.
		if d.DepthFunc != CompareAlways || d.DepthWrite != 0 || d.StencilEnable != 0 {
			d.DepthFormat = draw.DepthFormat
		}
	} else {
		d.DepthFunc = CompareAlways
	}
	if draw.EarlyZ {
		d.ForceEarlyZ = 1
	}
	if draw.ROVMultisample {
		d.ROVMultisample = 1
	}

	for i := range draw.RenderTargets {
		src := &draw.RenderTargets[i]
		if !src.Used {
			break
		}
		rt := &d.RenderTargets[i]
		rt.Used = 1
		rt.Format = src.Format.Base()
		rt.WriteMask = uint8((draw.ColorMask >> (uint(i) * 4)) & 0xF)
		if rt.WriteMask != 0 {
			rt.SrcBlend = blendFactorMap[src.SrcBlend&0x1F]
			rt.DestBlend = blendFactorMap[src.DestBlend&0x1F]
			rt.BlendOp = src.BlendOp
			rt.SrcBlendAlpha = blendFactorAlphaMap[src.SrcBlendAlpha&0x1F]
			rt.DestBlendAlpha = blendFactorAlphaMap[src.DestBlendAlpha&0x1F]
			rt.BlendOpAlpha = src.BlendOpAlpha
		} else {
			rt.SrcBlend = BlendOne
			rt.DestBlend = BlendZero
			rt.BlendOp = BlendOpAdd
			rt.SrcBlendAlpha = BlendOne
			rt.DestBlendAlpha = BlendZero
			rt.BlendOpAlpha = BlendOpAdd
		}
	}

	return d, nil
}

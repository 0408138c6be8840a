package pipeline

import "github.com/gogpu/gputypes"

// Handle is the opaque compiled pipeline object produced by the device. A nil
// handle on a cached pipeline records a creation failure; it is never
// retried within the process.
type Handle any

// Device is the sink that compiles a pipeline from translated shader
// bytecode plus fixed-function state. Implementations may take arbitrary
// time; the cache calls it from worker goroutines outside any lock.
type Device interface {
	CreateGraphicsPipeline(desc *NativeDescription) (Handle, error)
}

// StencilFaceDescription is one face of the native stencil state.
type StencilFaceDescription struct {
	Compare     gputypes.CompareFunction
	FailOp      gputypes.StencilOperation
	DepthFailOp gputypes.StencilOperation
	PassOp      gputypes.StencilOperation
}

// BlendComponent describes blending of one channel group (color or alpha).
type BlendComponent struct {
	SrcFactor gputypes.BlendFactor
	DstFactor gputypes.BlendFactor
	Operation gputypes.BlendOperation
}

// BlendDescription is the full blend state of one color target.
type BlendDescription struct {
	Color BlendComponent
	Alpha BlendComponent
}

// ColorTargetDescription is one native color attachment.
type ColorTargetDescription struct {
	Format    gputypes.TextureFormat
	WriteMask gputypes.ColorWriteMask
	// Blend is nil when blending is disabled for the target.
	Blend *BlendDescription
}

// NativeDescription is the device-facing form of a pipeline: shader bytecode
// plus the description translated into host vocabulary.
type NativeDescription struct {
	VertexShader []byte
	// PixelShader is a minimal pass-through blob for depth-only pipelines.
	PixelShader []byte

	Topology      gputypes.PrimitiveTopology
	StripCutIndex StripCutIndex
	FrontFace     gputypes.FrontFace
	CullMode      gputypes.CullMode
	Wireframe     bool

	DepthBias           int32
	DepthBiasSlopeScale float32
	DepthClip           bool

	// DepthFormat is TextureFormatUndefined when no depth/stencil view is
	// bound.
	DepthFormat       gputypes.TextureFormat
	DepthWriteEnabled bool
	DepthCompare      gputypes.CompareFunction
	StencilEnabled    bool
	StencilReadMask   uint8
	StencilWriteMask  uint8
	StencilFront      StencilFaceDescription
	StencilBack       StencilFaceDescription

	ColorTargets []ColorTargetDescription

	ForceEarlyZ bool
	SampleCount uint32
}

// Guest to host enum tables, indexed by the guest encodings.

var hostCompareFunctions = [8]gputypes.CompareFunction{
	gputypes.CompareFunctionNever,
	gputypes.CompareFunctionLess,
	gputypes.CompareFunctionEqual,
	gputypes.CompareFunctionLessEqual,
	gputypes.CompareFunctionGreater,
	gputypes.CompareFunctionNotEqual,
	gputypes.CompareFunctionGreaterEqual,
	gputypes.CompareFunctionAlways,
}

var hostStencilOperations = [8]gputypes.StencilOperation{
	gputypes.StencilOperationKeep,
	gputypes.StencilOperationZero,
	gputypes.StencilOperationReplace,
	gputypes.StencilOperationIncrementClamp,
	gputypes.StencilOperationDecrementClamp,
	gputypes.StencilOperationInvert,
	gputypes.StencilOperationIncrementWrap,
	gputypes.StencilOperationDecrementWrap,
}

var hostBlendFactors = [13]gputypes.BlendFactor{
	BlendZero:         gputypes.BlendFactorZero,
	BlendOne:          gputypes.BlendFactorOne,
	BlendSrcColor:     gputypes.BlendFactorSrc,
	BlendInvSrcColor:  gputypes.BlendFactorOneMinusSrc,
	BlendSrcAlpha:     gputypes.BlendFactorSrcAlpha,
	BlendInvSrcAlpha:  gputypes.BlendFactorOneMinusSrcAlpha,
	BlendDestColor:    gputypes.BlendFactorDst,
	BlendInvDestColor: gputypes.BlendFactorOneMinusDst,
	BlendDestAlpha:    gputypes.BlendFactorDstAlpha,
	BlendInvDestAlpha: gputypes.BlendFactorOneMinusDstAlpha,
	BlendConstant:     gputypes.BlendFactorConstant,
	BlendInvConstant:  gputypes.BlendFactorOneMinusConstant,
	BlendSrcAlphaSat:  gputypes.BlendFactorSrcAlphaSaturated,
}

var hostBlendOperations = [5]gputypes.BlendOperation{
	BlendOpAdd:         gputypes.BlendOperationAdd,
	BlendOpSubtract:    gputypes.BlendOperationSubtract,
	BlendOpMin:         gputypes.BlendOperationMin,
	BlendOpMax:         gputypes.BlendOperationMax,
	BlendOpRevSubtract: gputypes.BlendOperationReverseSubtract,
}

func hostBlendFactor(f BlendFactor) gputypes.BlendFactor {
	if int(f) >= len(hostBlendFactors) {
		return gputypes.BlendFactorZero
	}
	return hostBlendFactors[f]
}

func hostBlendOperation(op BlendOp) gputypes.BlendOperation {
	if int(op) >= len(hostBlendOperations) {
		return gputypes.BlendOperationAdd
	}
	return hostBlendOperations[op]
}

// hostColorFormat maps a guest color render target format to the closest
// host texture format. Gamma conversion happens in the translated shader, so
// the gamma format shares the linear one.
func hostColorFormat(f ColorFormat) gputypes.TextureFormat {
	switch f.Base() {
	case ColorFormat8888, ColorFormat8888Gamma:
		return gputypes.TextureFormatRGBA8Unorm
	case ColorFormat2101010:
		return gputypes.TextureFormatRGB10A2Unorm
	case ColorFormat2101010Float:
		// 7e3 float has no host equivalent, expanded to full halves.
		return gputypes.TextureFormatRGBA16Float
	case ColorFormat1616, ColorFormat1616Float:
		return gputypes.TextureFormatRG16Float
	case ColorFormat16161616, ColorFormat16161616Float:
		return gputypes.TextureFormatRGBA16Float
	case ColorFormat32Float:
		return gputypes.TextureFormatR32Float
	case ColorFormat3232Float:
		return gputypes.TextureFormatRG32Float
	}
	return gputypes.TextureFormatRGBA8Unorm
}

func hostDepthFormat(f DepthFormat) gputypes.TextureFormat {
	if f == DepthFormatD24FS8 {
		return gputypes.TextureFormatDepth32FloatStencil8
	}
	return gputypes.TextureFormatDepth24PlusStencil8
}

// Native translates the description into the device's vocabulary. The shader
// blobs are passed in because the description only holds their hashes.
func (d *Description) Native(vertexShader, pixelShader []byte) *NativeDescription {
	nd := &NativeDescription{
		VertexShader:        vertexShader,
		PixelShader:         pixelShader,
		StripCutIndex:       d.StripCutIndex,
		Wireframe:           d.FillModeWireframe != 0,
		DepthBias:           d.DepthBias,
		DepthBiasSlopeScale: d.DepthBiasSlopeScaled,
		DepthClip:           d.DepthClip != 0,
		DepthFormat:         gputypes.TextureFormatUndefined,
		ForceEarlyZ:         d.ForceEarlyZ != 0,
		SampleCount:         1,
	}
	if d.ROVMultisample != 0 {
		// ROV-emulated blending reads coverage per sample, so the pipeline
		// rasterizes at the surface's 4x rate.
		nd.SampleCount = 4
	}

	switch d.Topology {
	case TopologyPoint:
		nd.Topology = gputypes.PrimitiveTopologyPointList
	case TopologyLine:
		nd.Topology = gputypes.PrimitiveTopologyLineList
	default:
		nd.Topology = gputypes.PrimitiveTopologyTriangleList
	}
	if d.FrontCounterClockwise != 0 {
		nd.FrontFace = gputypes.FrontFaceCCW
	} else {
		nd.FrontFace = gputypes.FrontFaceCW
	}
	switch d.CullMode {
	case CullFront:
		nd.CullMode = gputypes.CullModeFront
	case CullBack:
		nd.CullMode = gputypes.CullModeBack
	default:
		nd.CullMode = gputypes.CullModeNone
	}

	depthBound := d.DepthFunc != CompareAlways || d.DepthWrite != 0 ||
		d.StencilEnable != 0
	if depthBound {
		nd.DepthFormat = hostDepthFormat(d.DepthFormat)
	}
	nd.DepthCompare = hostCompareFunctions[d.DepthFunc&7]
	nd.DepthWriteEnabled = d.DepthWrite != 0
	if d.StencilEnable != 0 {
		nd.StencilEnabled = true
		nd.StencilReadMask = d.StencilReadMask
		nd.StencilWriteMask = d.StencilWriteMask
		nd.StencilFront = StencilFaceDescription{
			Compare:     hostCompareFunctions[d.StencilFrontFunc&7],
			FailOp:      hostStencilOperations[d.StencilFrontFailOp&7],
			DepthFailOp: hostStencilOperations[d.StencilFrontDepthFailOp&7],
			PassOp:      hostStencilOperations[d.StencilFrontPassOp&7],
		}
		nd.StencilBack = StencilFaceDescription{
			Compare:     hostCompareFunctions[d.StencilBackFunc&7],
			FailOp:      hostStencilOperations[d.StencilBackFailOp&7],
			DepthFailOp: hostStencilOperations[d.StencilBackDepthFailOp&7],
			PassOp:      hostStencilOperations[d.StencilBackPassOp&7],
		}
	}

	for i := range d.RenderTargets {
		rt := &d.RenderTargets[i]
		if rt.Used == 0 {
			break
		}
		target := ColorTargetDescription{
			Format:    hostColorFormat(rt.Format),
			WriteMask: gputypes.ColorWriteMask(rt.WriteMask),
		}
		// 1*src + 0*dest with add is blending disabled; opaque geometry is
		// drawn with exactly that state and rasterizes faster unblended.
		if rt.SrcBlend != BlendOne || rt.DestBlend != BlendZero ||
			rt.BlendOp != BlendOpAdd ||
			rt.SrcBlendAlpha != BlendOne || rt.DestBlendAlpha != BlendZero ||
			rt.BlendOpAlpha != BlendOpAdd {
			target.Blend = &BlendDescription{
				Color: BlendComponent{
					SrcFactor: hostBlendFactor(rt.SrcBlend),
					DstFactor: hostBlendFactor(rt.DestBlend),
					Operation: hostBlendOperation(rt.BlendOp),
				},
				Alpha: BlendComponent{
					SrcFactor: hostBlendFactor(rt.SrcBlendAlpha),
					DstFactor: hostBlendFactor(rt.DestBlendAlpha),
					Operation: hostBlendOperation(rt.BlendOpAlpha),
				},
			}
		}
		nd.ColorTargets = append(nd.ColorTargets, target)
	}

	return nd
}

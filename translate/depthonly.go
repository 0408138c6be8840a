package translate

import "github.com/gogpu/xgpu/dxbc"

// DepthOnlyPixelShader builds the pixel shader bound to pipelines that have
// no guest pixel shader. It declares no inputs and writes no outputs; depth
// and stencil come from the rasterizer alone. Binding it instead of leaving
// the stage empty keeps depth-only and color pipelines on the same driver
// path.
func DepthOnlyPixelShader() []byte {
	var code []uint32
	var stats dxbc.Statistics
	a := dxbc.NewAssembler(&code, &stats)
	a.OpDclGlobalFlags(dxbc.GlobalFlagRefactoringAllowed)
	a.OpRet()
	builder := &dxbc.ContainerBuilder{
		Version: dxbc.Version5_1(dxbc.ProgramPixel),
		Code:    code,
		Stats:   stats,
	}
	return builder.Build()
}

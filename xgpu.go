// Package xgpu translates Xenos guest shader microcode to DXBC shader model
// 5.1 bytecode and caches the resulting graphics pipelines.
//
// The package provides a simple, high-level API for one-shot translation as
// well as lower-level access to the individual stages:
//   - ucode — the decoded guest microcode data model
//   - translate — the stateful microcode-to-DXBC translator
//   - dxbc — DXBC operand encoding and container assembly
//   - pipeline — the concurrent, disk-backed pipeline cache
//
// Example usage:
//
//	program := decodeGuestShader(...) // *ucode.Program from the decoder
//	blob, err := xgpu.Translate(program)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// For per-draw pipeline management, use the pipeline package:
//
//	cache, _ := pipeline.NewCache(pipeline.Options{Device: device})
//	shader := cache.LoadShader(program)
//	p, err := cache.ConfigurePipeline(shader, pixelShader, &drawState)
package xgpu

import (
	"fmt"

	"github.com/gogpu/xgpu/translate"
	"github.com/gogpu/xgpu/ucode"
)

// TranslateOptions configures shader translation.
type TranslateOptions struct {
	// VendorID is the host GPU PCI vendor; some vendors get control-flow
	// workarounds.
	VendorID uint32

	// SwitchFlowControl lowers guest control flow through a switch jump
	// table; when false an if-cascade is emitted instead.
	SwitchFlowControl bool

	// ForceEarlyDepthStencil requests the early depth/stencil variant of a
	// pixel shader. Ignored for vertex shaders and for pixel shaders that
	// write depth or discard.
	ForceEarlyDepthStencil bool
}

// DefaultOptions returns sensible default options.
func DefaultOptions() TranslateOptions {
	return TranslateOptions{
		SwitchFlowControl: true,
	}
}

// Translate translates a decoded guest shader to a DXBC container blob using
// default options.
//
// This is the simplest way to translate a shader. For more control, or for
// the binding tables and statistics of the translation, use
// TranslateWithOptions; for caching and deduplication across draws, use the
// pipeline package.
func Translate(program *ucode.Program) ([]byte, error) {
	tr, err := TranslateWithOptions(program, DefaultOptions())
	if err != nil {
		return nil, err
	}
	return tr.Binary, nil
}

// TranslateWithOptions translates a decoded guest shader with custom options.
//
// The translation pipeline is:
//  1. Analyze the program (outputs written, fetches, memexports)
//  2. Lower control flow, ALU and fetch instructions to shader model 5.1
//  3. Assemble the DXBC container around the emitted bytecode
//
// The returned Translation carries the container blob along with the
// deduplicated texture and sampler binding tables and emission statistics.
func TranslateWithOptions(program *ucode.Program, opts TranslateOptions) (*translate.Translation, error) {
	var mod translate.Modification
	if opts.ForceEarlyDepthStencil && program.Type == ucode.ShaderTypePixel {
		mod = translate.ModForceEarlyDepthStencil
	}
	translator := translate.NewTranslator(translate.Options{
		VendorID:          opts.VendorID,
		SwitchFlowControl: opts.SwitchFlowControl,
		Logger:            Logger(),
	})
	shader := translate.NewShader(program)
	tr, err := translator.Translate(shader, mod)
	if err != nil {
		return nil, fmt.Errorf("translate %s shader %016x: %w",
			program.Type, shader.Hash(), err)
	}
	return tr, nil
}

// Hash returns the content hash of raw guest microcode. It is the identity
// used by the pipeline cache's shader dictionary and the on-disk shader log.
func Hash(microcode []uint32) uint64 {
	return translate.HashMicrocode(microcode)
}

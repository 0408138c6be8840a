package translate

import (
	"sync"
	"sync/atomic"

	"github.com/bytedance/gopkg/util/xxhash3"

	"github.com/gogpu/xgpu/dxbc"
	"github.com/gogpu/xgpu/ucode"
)

// MaxMemExports bounds how many memory export allocs one shader may declare.
// Allocs beyond this, and eA/eM writes addressed to them, are silently
// dropped.
const MaxMemExports = 16

// Modification selects a translation variant of the same guest microcode.
// Different modifications have different content identity and are cached
// separately.
type Modification uint32

const (
	// ModForceEarlyDepthStencil requests the forced early depth/stencil
	// global flag in the emitted program. Only meaningful for pixel shaders
	// that do not write depth or kill pixels.
	ModForceEarlyDepthStencil Modification = 1 << 0
)

// TextureBinding is one deduplicated texture SRV the translated program
// samples. Identity is the fetch constant plus the shape it is accessed as.
type TextureBinding struct {
	FetchConstant uint32
	Dimension     ucode.TextureDimension

	// SRVIndex is the t# register; shared memory occupies t0, textures
	// follow.
	SRVIndex uint32
	Name     string
}

// SamplerBinding is one deduplicated sampler. Identity is the fetch constant
// plus the per-instruction filtering overrides.
type SamplerBinding struct {
	FetchConstant uint32
	MagFilter     ucode.TextureFilter
	MinFilter     ucode.TextureFilter
	MipFilter     ucode.TextureFilter
	AnisoValid    bool

	SamplerIndex uint32
	Name         string
}

// Analysis is what a pre-translation walk of the decoded program learns. It
// decides which system temps and outputs the translation allocates.
type Analysis struct {
	WritesColor      [4]bool
	WritesDepth      bool
	KillsPixels      bool
	UsesVertexFetch  bool
	UsesTextureFetch bool

	// MemExportCount is the number of memory export allocs, capped at
	// MaxMemExports.
	MemExportCount uint32
	// MemExportDataWritten holds, per alloc, the mask of eM0-eM4 registers
	// the program writes.
	MemExportDataWritten [MaxMemExports]uint8
}

// Translation is one finished variant: the container blob plus everything the
// pipeline layer needs to bind it.
type Translation struct {
	Modification Modification
	Binary       []byte
	Statistics   dxbc.Statistics

	TextureBindings []TextureBinding
	SamplerBindings []SamplerBinding
}

// Shader owns one guest program: the microcode copy, its content hash, the
// analysis, and the translations produced from it. Bindings are committed
// exactly once, by whichever translation finishes first; all variants of the
// same microcode produce identical binding lists.
type Shader struct {
	shaderType ucode.ShaderType
	microcode  []uint32
	hash       uint64
	program    *ucode.Program
	analysis   Analysis

	mu           sync.Mutex
	translations map[Modification]*Translation

	bindingsCommitted atomic.Bool
	textureBindings   []TextureBinding
	samplerBindings   []SamplerBinding
}

// NewShader copies the program's microcode, hashes it and runs the analysis
// pass. The program must be fully decoded and is not modified.
func NewShader(program *ucode.Program) *Shader {
	mc := make([]uint32, len(program.Microcode))
	copy(mc, program.Microcode)
	return &Shader{
		shaderType:   program.Type,
		microcode:    mc,
		hash:         HashMicrocode(mc),
		program:      program,
		analysis:     analyzeProgram(program),
		translations: make(map[Modification]*Translation),
	}
}

// HashMicrocode returns the content hash used as the shader's identity in the
// dedup dictionary and the persisted shader log.
func HashMicrocode(microcode []uint32) uint64 {
	buf := make([]byte, 0, len(microcode)*4)
	for _, dw := range microcode {
		buf = append(buf, byte(dw), byte(dw>>8), byte(dw>>16), byte(dw>>24))
	}
	return xxhash3.Hash(buf)
}

func (s *Shader) Type() ucode.ShaderType { return s.shaderType }
func (s *Shader) Hash() uint64           { return s.hash }
func (s *Shader) Microcode() []uint32    { return s.microcode }
func (s *Shader) Analysis() Analysis     { return s.analysis }

// Translation returns the cached variant for mod, if one exists.
func (s *Shader) Translation(mod Modification) (*Translation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.translations[mod]
	return tr, ok
}

// EnsureTranslation returns the cached variant for mod, translating it with t
// on first request. Concurrent callers for the same modification serialize on
// the shader; the first successful translation wins.
func (s *Shader) EnsureTranslation(t *Translator, mod Modification) (*Translation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tr, ok := s.translations[mod]; ok {
		return tr, nil
	}
	tr, err := t.Translate(s, mod)
	if err != nil {
		return nil, err
	}
	s.translations[mod] = tr
	return tr, nil
}

// commitBindings publishes the binding lists of the first finished
// translation. Later translations of the same microcode regenerate identical
// lists, so only the first commit is kept.
func (s *Shader) commitBindings(textures []TextureBinding, samplers []SamplerBinding) {
	if !s.bindingsCommitted.CompareAndSwap(false, true) {
		return
	}
	s.textureBindings = textures
	s.samplerBindings = samplers
}

// TextureBindings returns the committed texture binding list, nil before the
// first translation finishes.
func (s *Shader) TextureBindings() []TextureBinding {
	if !s.bindingsCommitted.Load() {
		return nil
	}
	return s.textureBindings
}

// SamplerBindings returns the committed sampler binding list.
func (s *Shader) SamplerBindings() []SamplerBinding {
	if !s.bindingsCommitted.Load() {
		return nil
	}
	return s.samplerBindings
}

// analyzeProgram walks the decoded control flow once, collecting everything
// the translation prologue needs to know up front.
func analyzeProgram(p *ucode.Program) Analysis {
	var an Analysis
	memexportAlloc := -1
	noteResult := func(r *ucode.Result) {
		if r.UsedWriteMask() == 0 {
			return
		}
		switch r.Storage {
		case ucode.TargetColor:
			if r.Index < 4 {
				an.WritesColor[r.Index] = true
			}
		case ucode.TargetDepth:
			an.WritesDepth = true
		case ucode.TargetExportData:
			if memexportAlloc >= 0 && memexportAlloc < MaxMemExports && r.Index < 5 {
				an.MemExportDataWritten[memexportAlloc] |= 1 << r.Index
			}
		}
	}
	for i := range p.Blocks {
		for _, rec := range p.Blocks[i].Records {
			switch rec := rec.(type) {
			case *ucode.AllocRecord:
				if rec.Type == ucode.AllocMemExport {
					memexportAlloc++
					if uint32(memexportAlloc+1) > an.MemExportCount &&
						memexportAlloc < MaxMemExports {
						an.MemExportCount = uint32(memexportAlloc + 1)
					}
				}
			case *ucode.ExecRecord:
				for _, inst := range rec.Instructions {
					switch inst := inst.(type) {
					case *ucode.AluInstruction:
						if inst.VectorOpcode.IsKill() || inst.ScalarOpcode.IsKill() {
							an.KillsPixels = true
						}
						noteResult(&inst.VectorResult)
						noteResult(&inst.ScalarResult)
					case *ucode.VertexFetchInstruction:
						an.UsesVertexFetch = true
						noteResult(&inst.Result)
					case *ucode.TextureFetchInstruction:
						an.UsesTextureFetch = true
						noteResult(&inst.Result)
					}
				}
			}
		}
	}
	return an
}

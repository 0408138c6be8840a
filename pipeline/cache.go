package pipeline

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"

	"github.com/bytedance/gopkg/util/xxhash3"

	"github.com/gogpu/xgpu/translate"
	"github.com/gogpu/xgpu/ucode"
)

// ErrNoDevice is returned by NewCache when no device sink is configured.
var ErrNoDevice = errors.New("pipeline: device is nil")

// DecodeFunc turns raw guest microcode back into a decoded program during
// storage replay. The decoder is an upstream collaborator; the cache only
// needs it when reading the shader log.
type DecodeFunc func(shaderType ucode.ShaderType, microcode []uint32) (*ucode.Program, error)

// Options configures a Cache.
type Options struct {
	// Device compiles pipelines. Required.
	Device Device
	// CreationThreads is the worker pool size. Zero compiles every pipeline
	// inline on the requesting goroutine.
	CreationThreads int
	// Translator configures the shader translator the cache drives.
	Translator translate.Options
	// DecodeProgram is required only when InitializeStorage is used.
	DecodeProgram DecodeFunc
	Logger        *slog.Logger
}

// Pipeline is one cached (shader pair, fixed-function state) combination. It
// is inserted into the cache before its compiled object exists, so identical
// concurrent requests find the in-flight entry instead of compiling twice.
type Pipeline struct {
	Description  Description
	VertexShader *translate.Shader
	PixelShader  *translate.Shader

	encoded []byte

	mu      sync.Mutex
	created bool
	handle  Handle
}

// Handle returns the compiled pipeline object. The second result is false
// while the pipeline is still queued or being compiled; after creation it is
// true even if creation failed (then the handle is nil, permanently).
func (p *Pipeline) Handle() (Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle, p.created
}

func (p *Pipeline) setHandle(h Handle) {
	p.mu.Lock()
	p.handle = h
	p.created = true
	p.mu.Unlock()
}

type layoutSpan struct {
	uid    uint32
	offset int
	length int
}

// LayoutUIDEmpty is the binding layout UID of a shader with no bindings.
const LayoutUIDEmpty uint32 = 0

// Cache deduplicates shaders by microcode hash and pipelines by description
// content, compiling novel pipelines on a worker pool and persisting both to
// the shader/pipeline logs when storage is attached.
type Cache struct {
	opts   Options
	log    *slog.Logger
	device Device

	// The translator keeps per-translation state, so calls serialize on
	// translateMu. Replay workers construct their own translators instead.
	translateMu sync.Mutex
	translator  *translate.Translator

	mu        sync.Mutex
	shaders   map[uint64]*translate.Shader
	pipelines map[uint64][]*Pipeline
	current   *Pipeline

	creationMu       sync.Mutex
	creationCond     *sync.Cond
	creationQueue    []*Pipeline
	creationBusy     int
	creationShutdown bool
	workers          sync.WaitGroup

	// Binding layout dedup tables, under their own lock: translation commits
	// layouts, the command submission side only compares UIDs.
	layoutsMu          sync.Mutex
	textureLayouts     []translate.TextureBinding
	textureLayoutMap   map[uint64][]layoutSpan
	textureLayoutCount uint32
	samplerLayouts     []translate.SamplerBinding
	samplerLayoutMap   map[uint64][]layoutSpan
	samplerLayoutCount uint32
	shaderLayoutUIDs   map[uint64][2]uint32

	storage *storage
}

// NewCache creates the cache and starts its creation workers.
func NewCache(opts Options) (*Cache, error) {
	if opts.Device == nil {
		return nil, ErrNoDevice
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if opts.Translator.Logger == nil {
		opts.Translator.Logger = log
	}
	c := &Cache{
		opts:             opts,
		log:              log,
		device:           opts.Device,
		translator:       translate.NewTranslator(opts.Translator),
		shaders:          make(map[uint64]*translate.Shader),
		pipelines:        make(map[uint64][]*Pipeline),
		textureLayoutMap: make(map[uint64][]layoutSpan),
		samplerLayoutMap: make(map[uint64][]layoutSpan),
		shaderLayoutUIDs: make(map[uint64][2]uint32),
	}
	c.creationCond = sync.NewCond(&c.creationMu)
	for i := 0; i < opts.CreationThreads; i++ {
		c.workers.Add(1)
		go c.creationWorker()
	}
	return c, nil
}

// Shutdown clears the cache, stops the workers and closes storage.
func (c *Cache) Shutdown() {
	c.ClearCache()
	c.creationMu.Lock()
	c.creationShutdown = true
	c.creationMu.Unlock()
	c.creationCond.Broadcast()
	c.workers.Wait()
	if c.storage != nil {
		c.storage.close()
		c.storage = nil
	}
}

// LoadShader returns the shader object for the program's microcode, creating
// it on first sight. The shader is tracked even if its translation later
// fails, so a failing shader is never retried.
func (c *Cache) LoadShader(program *ucode.Program) *translate.Shader {
	hash := translate.HashMicrocode(program.Microcode)
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.shaders[hash]; ok {
		return s
	}
	s := translate.NewShader(program)
	c.shaders[hash] = s
	return s
}

// Shader returns the tracked shader with the given microcode hash.
func (c *Cache) Shader(hash uint64) (*translate.Shader, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.shaders[hash]
	return s, ok
}

// pixelShaderModification picks the translation variant the description
// needs. Forcing early depth/stencil is only valid when the shader itself
// does not write depth or discard.
func pixelShaderModification(d *Description, ps *translate.Shader) translate.Modification {
	if ps == nil || d.ForceEarlyZ == 0 {
		return 0
	}
	an := ps.Analysis()
	if an.WritesDepth || an.KillsPixels {
		return 0
	}
	return translate.ModForceEarlyDepthStencil
}

func (c *Cache) ensureShaderTranslated(s *translate.Shader,
	mod translate.Modification, sqProgramCntl uint32) error {
	if _, ok := s.Translation(mod); ok {
		return nil
	}
	c.translateMu.Lock()
	_, err := s.EnsureTranslation(c.translator, mod)
	c.translateMu.Unlock()
	if err != nil {
		return err
	}
	c.registerBindingLayouts(s)
	if c.storage != nil {
		c.storage.writeShader(s, sqProgramCntl)
	}
	return nil
}

// ConfigurePipeline resolves the pipeline for the current draw state,
// translating the shaders and compiling the pipeline if it has not been seen
// before. The returned pipeline may still be compiling on a worker; callers
// that need the handle wait via WaitForPipelineCreation or EndSubmission.
func (c *Cache) ConfigurePipeline(vertexShader, pixelShader *translate.Shader,
	draw *DrawState) (*Pipeline, error) {
	desc, err := NewDescription(vertexShader, pixelShader, draw)
	if err != nil {
		return nil, err
	}
	encoded := desc.Encode()

	c.mu.Lock()
	if c.current != nil && bytes.Equal(c.current.encoded, encoded) {
		p := c.current
		c.mu.Unlock()
		return p, nil
	}
	hash := xxhash3.Hash(encoded)
	for _, p := range c.pipelines[hash] {
		if bytes.Equal(p.encoded, encoded) {
			c.current = p
			c.mu.Unlock()
			return p, nil
		}
	}
	c.mu.Unlock()

	// Novel state: translate outside the lock, then re-scan, since another
	// goroutine may have inserted the same description meanwhile.
	if err := c.ensureShaderTranslated(vertexShader, 0, draw.SQProgramCntl); err != nil {
		return nil, err
	}
	if pixelShader != nil {
		mod := pixelShaderModification(&desc, pixelShader)
		if err := c.ensureShaderTranslated(pixelShader, mod, draw.SQProgramCntl); err != nil {
			return nil, err
		}
	}

	p := &Pipeline{
		Description:  desc,
		VertexShader: vertexShader,
		PixelShader:  pixelShader,
		encoded:      encoded,
	}
	c.mu.Lock()
	for _, existing := range c.pipelines[hash] {
		if bytes.Equal(existing.encoded, encoded) {
			c.current = existing
			c.mu.Unlock()
			return existing, nil
		}
	}
	c.pipelines[hash] = append(c.pipelines[hash], p)
	c.current = p
	c.mu.Unlock()

	c.submitPipeline(p)
	if c.storage != nil {
		c.storage.writePipeline(hash, encoded)
	}
	return p, nil
}

// submitPipeline queues the pipeline for a worker, or compiles it inline
// when the pool is empty.
func (c *Cache) submitPipeline(p *Pipeline) {
	if c.opts.CreationThreads > 0 {
		c.creationMu.Lock()
		c.creationQueue = append(c.creationQueue, p)
		c.creationMu.Unlock()
		c.creationCond.Signal()
		return
	}
	c.createPipeline(p)
}

// depthOnlyPixelShader is bound whenever a pipeline has no guest pixel
// shader. The blob is deterministic, so one copy serves the process.
var depthOnlyPixelShader = sync.OnceValue(translate.DepthOnlyPixelShader)

// createPipeline compiles one pipeline through the device. Failure is cached
// as a nil handle and logged once; the entry stays so the same state does not
// recompile every frame.
func (c *Cache) createPipeline(p *Pipeline) {
	var vsBinary, psBinary []byte
	if tr, ok := p.VertexShader.Translation(0); ok {
		vsBinary = tr.Binary
	}
	if p.PixelShader != nil {
		mod := pixelShaderModification(&p.Description, p.PixelShader)
		if tr, ok := p.PixelShader.Translation(mod); ok {
			psBinary = tr.Binary
		}
	} else {
		psBinary = depthOnlyPixelShader()
	}
	handle, err := c.device.CreateGraphicsPipeline(p.Description.Native(vsBinary, psBinary))
	if err != nil {
		c.log.Warn("pipeline creation failed",
			"vertexShader", p.VertexShader.Hash(),
			"pixelShader", p.Description.PixelShaderHash,
			"err", err)
		handle = nil
	}
	p.setHandle(handle)
}

func (c *Cache) creationWorker() {
	defer c.workers.Done()
	c.creationMu.Lock()
	for {
		for len(c.creationQueue) == 0 && !c.creationShutdown {
			c.creationCond.Wait()
		}
		if len(c.creationQueue) == 0 {
			break
		}
		p := c.creationQueue[0]
		c.creationQueue = c.creationQueue[1:]
		c.creationBusy++
		c.creationMu.Unlock()

		c.createPipeline(p)

		c.creationMu.Lock()
		c.creationBusy--
		if c.creationBusy == 0 && len(c.creationQueue) == 0 {
			c.creationCond.Broadcast()
		}
	}
	c.creationMu.Unlock()
}

// drainCreationQueue compiles queued pipelines on the calling goroutine until
// the queue is empty. The submitting thread helps out so a zero-size or busy
// pool never starves a waiter.
func (c *Cache) drainCreationQueue() {
	for {
		c.creationMu.Lock()
		if len(c.creationQueue) == 0 {
			c.creationMu.Unlock()
			return
		}
		p := c.creationQueue[0]
		c.creationQueue = c.creationQueue[1:]
		c.creationBusy++
		c.creationMu.Unlock()

		c.createPipeline(p)

		c.creationMu.Lock()
		c.creationBusy--
		if c.creationBusy == 0 && len(c.creationQueue) == 0 {
			c.creationCond.Broadcast()
		}
		c.creationMu.Unlock()
	}
}

// WaitForPipelineCreation blocks until every queued and in-flight pipeline
// has a creation result.
func (c *Cache) WaitForPipelineCreation() {
	c.drainCreationQueue()
	c.creationMu.Lock()
	for c.creationBusy != 0 || len(c.creationQueue) != 0 {
		c.creationCond.Wait()
	}
	c.creationMu.Unlock()
}

// EndSubmission flushes pending storage writes and waits for all queued
// pipeline creations, the barrier between guest frames.
func (c *Cache) EndSubmission() {
	if c.storage != nil {
		c.storage.requestFlush()
	}
	c.WaitForPipelineCreation()
}

// ClearCache drops every pipeline and shader. In-flight compiles are drained
// first so no worker is left holding a pipeline the cache no longer owns.
func (c *Cache) ClearCache() {
	c.creationMu.Lock()
	c.creationQueue = nil
	c.creationMu.Unlock()
	c.WaitForPipelineCreation()

	c.mu.Lock()
	c.current = nil
	c.pipelines = make(map[uint64][]*Pipeline)
	c.shaders = make(map[uint64]*translate.Shader)
	c.mu.Unlock()

	c.layoutsMu.Lock()
	c.textureLayouts = nil
	c.textureLayoutMap = make(map[uint64][]layoutSpan)
	c.textureLayoutCount = 0
	c.samplerLayouts = nil
	c.samplerLayoutMap = make(map[uint64][]layoutSpan)
	c.samplerLayoutCount = 0
	c.shaderLayoutUIDs = make(map[uint64][2]uint32)
	c.layoutsMu.Unlock()
}

// PipelineCount returns the number of distinct cached pipelines.
func (c *Cache) PipelineCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, bucket := range c.pipelines {
		n += len(bucket)
	}
	return n
}

// registerBindingLayouts assigns the shader its texture and sampler binding
// layout UIDs, deduplicating identical layouts across shaders. Shaders with
// equal UIDs can share descriptor layouts on the submission side.
func (c *Cache) registerBindingLayouts(s *translate.Shader) {
	textures := s.TextureBindings()
	samplers := s.SamplerBindings()

	c.layoutsMu.Lock()
	defer c.layoutsMu.Unlock()
	if _, ok := c.shaderLayoutUIDs[s.Hash()]; ok {
		return
	}
	textureUID := LayoutUIDEmpty
	if len(textures) != 0 {
		textureUID = c.textureLayoutUID(textures)
	}
	samplerUID := LayoutUIDEmpty
	if len(samplers) != 0 {
		samplerUID = c.samplerLayoutUID(samplers)
	}
	c.shaderLayoutUIDs[s.Hash()] = [2]uint32{textureUID, samplerUID}
}

// BindingLayoutUIDs returns the texture and sampler layout UIDs committed for
// the shader, LayoutUIDEmpty for absent layouts.
func (c *Cache) BindingLayoutUIDs(s *translate.Shader) (texture, sampler uint32) {
	c.layoutsMu.Lock()
	defer c.layoutsMu.Unlock()
	uids := c.shaderLayoutUIDs[s.Hash()]
	return uids[0], uids[1]
}

func hashTextureLayout(bindings []translate.TextureBinding) uint64 {
	buf := make([]byte, 0, len(bindings)*12)
	for i := range bindings {
		b := &bindings[i]
		buf = binary.LittleEndian.AppendUint32(buf, b.FetchConstant)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(b.Dimension))
		buf = binary.LittleEndian.AppendUint32(buf, b.SRVIndex)
	}
	return xxhash3.Hash(buf)
}

func hashSamplerLayout(bindings []translate.SamplerBinding) uint64 {
	buf := make([]byte, 0, len(bindings)*20)
	for i := range bindings {
		b := &bindings[i]
		buf = binary.LittleEndian.AppendUint32(buf, b.FetchConstant)
		buf = binary.LittleEndian.AppendUint32(buf,
			uint32(b.MagFilter)|uint32(b.MinFilter)<<8|uint32(b.MipFilter)<<16)
		var aniso uint32
		if b.AnisoValid {
			aniso = 1
		}
		buf = binary.LittleEndian.AppendUint32(buf, aniso)
		buf = binary.LittleEndian.AppendUint32(buf, b.SamplerIndex)
	}
	return xxhash3.Hash(buf)
}

func textureLayoutsEqual(a, b []translate.TextureBinding) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func samplerLayoutsEqual(a, b []translate.SamplerBinding) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// textureLayoutUID returns the UID of the layout, adding it to the span
// store on first sight. UID 0 is reserved for the empty layout, so the first
// real layout gets 1. Callers hold layoutsMu.
func (c *Cache) textureLayoutUID(bindings []translate.TextureBinding) uint32 {
	hash := hashTextureLayout(bindings)
	for _, span := range c.textureLayoutMap[hash] {
		if span.length == len(bindings) &&
			textureLayoutsEqual(c.textureLayouts[span.offset:span.offset+span.length], bindings) {
			return span.uid
		}
	}
	c.textureLayoutCount++
	span := layoutSpan{
		uid:    c.textureLayoutCount,
		offset: len(c.textureLayouts),
		length: len(bindings),
	}
	c.textureLayouts = append(c.textureLayouts, bindings...)
	c.textureLayoutMap[hash] = append(c.textureLayoutMap[hash], span)
	return span.uid
}

func (c *Cache) samplerLayoutUID(bindings []translate.SamplerBinding) uint32 {
	hash := hashSamplerLayout(bindings)
	for _, span := range c.samplerLayoutMap[hash] {
		if span.length == len(bindings) &&
			samplerLayoutsEqual(c.samplerLayouts[span.offset:span.offset+span.length], bindings) {
			return span.uid
		}
	}
	c.samplerLayoutCount++
	span := layoutSpan{
		uid:    c.samplerLayoutCount,
		offset: len(c.samplerLayouts),
		length: len(bindings),
	}
	c.samplerLayouts = append(c.samplerLayouts, bindings...)
	c.samplerLayoutMap[hash] = append(c.samplerLayoutMap[hash], span)
	return span.uid
}

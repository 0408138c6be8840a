package pipeline

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/bytedance/gopkg/util/xxhash3"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/xgpu/translate"
	"github.com/gogpu/xgpu/ucode"
)

// ErrNoDecoder is returned by InitializeStorage when no microcode decoder was
// configured.
var ErrNoDecoder = errors.New("pipeline: DecodeProgram is nil")

// The logs are append-only binary files. Each starts with a 12-byte header
// {magic, API magic, version}; a header mismatch resets the file. Records
// carry their own content hash, so a torn tail write is detected on replay
// and truncated away rather than poisoning the whole file.
const (
	shaderLogMagic   uint32 = 0x48534558 // 'XESH'
	pipelineLogMagic uint32 = 0x53504558 // 'XEPS'
	logMagicAPI      uint32 = 0x42584458 // 'XDXB'
	logVersion       uint32 = 1

	logHeaderSize = 12

	// shaderRecordHeaderSize is the fixed prefix of a shader record:
	// microcode hash, dword count, shader type, host vertex shader type and
	// the raw shader control register.
	shaderRecordHeaderSize = 24

	pipelineRecordSize = 8 + DescriptionSize

	// maxShaderDwords bounds a shader record's microcode length; anything
	// larger is treated as corruption.
	maxShaderDwords = 128 * 1024
)

type shaderRecord struct {
	hash          uint64
	shaderType    ucode.ShaderType
	sqProgramCntl uint32
	microcode     []uint32
}

type pipelineRecord struct {
	hash        uint64
	description []byte
}

// storage persists shaders and pipelines from a single writer goroutine, so
// draw-time callers only pay for a queue append.
type storage struct {
	shaderFile   *os.File
	pipelineFile *os.File

	mu             sync.Mutex
	cond           *sync.Cond
	shaderQueue    []shaderRecord
	pipelineQueue  []pipelineRecord
	flushShaders   bool
	flushPipelines bool
	shutdown       bool
	writtenShaders map[uint64]struct{}

	done chan struct{}
}

// newStorage builds the storage without starting the writer: replay reads
// the files first, and the writer must only run once both are positioned at
// their (possibly truncated) ends.
func newStorage(shaderFile, pipelineFile *os.File) *storage {
	st := &storage{
		shaderFile:     shaderFile,
		pipelineFile:   pipelineFile,
		writtenShaders: make(map[uint64]struct{}),
		done:           make(chan struct{}),
	}
	st.cond = sync.NewCond(&st.mu)
	return st
}

func (st *storage) start() {
	go st.writeLoop()
}

// writeShader queues the shader for persistence. Each shader is written at
// most once per log, keyed by its microcode hash.
func (st *storage) writeShader(s *translate.Shader, sqProgramCntl uint32) {
	st.mu.Lock()
	if _, ok := st.writtenShaders[s.Hash()]; ok {
		st.mu.Unlock()
		return
	}
	st.writtenShaders[s.Hash()] = struct{}{}
	st.shaderQueue = append(st.shaderQueue, shaderRecord{
		hash:          s.Hash(),
		shaderType:    s.Type(),
		sqProgramCntl: sqProgramCntl,
		microcode:     s.Microcode(),
	})
	st.mu.Unlock()
	st.cond.Signal()
}

func (st *storage) writePipeline(hash uint64, encoded []byte) {
	st.mu.Lock()
	st.pipelineQueue = append(st.pipelineQueue, pipelineRecord{
		hash:        hash,
		description: encoded,
	})
	st.mu.Unlock()
	st.cond.Signal()
}

// markWritten records shaders recovered from the log so they are not appended
// a second time in this session.
func (st *storage) markWritten(hash uint64) {
	st.mu.Lock()
	st.writtenShaders[hash] = struct{}{}
	st.mu.Unlock()
}

func (st *storage) unmarkWritten(hash uint64) {
	st.mu.Lock()
	delete(st.writtenShaders, hash)
	st.mu.Unlock()
}

// requestFlush asks the writer to sync both files once the queues drain.
func (st *storage) requestFlush() {
	st.mu.Lock()
	st.flushShaders = true
	st.flushPipelines = true
	st.mu.Unlock()
	st.cond.Signal()
}

// close stops the writer after it has drained both queues, then closes the
// files.
func (st *storage) close() {
	st.mu.Lock()
	st.shutdown = true
	st.mu.Unlock()
	st.cond.Signal()
	<-st.done
	st.shaderFile.Close()
	st.pipelineFile.Close()
}

func encodeShaderRecord(rec *shaderRecord) []byte {
	buf := make([]byte, 0, shaderRecordHeaderSize+len(rec.microcode)*4)
	buf = binary.LittleEndian.AppendUint64(buf, rec.hash)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(rec.microcode)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(rec.shaderType))
	// Host vertex shader type; only the plain vertex path exists.
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	buf = binary.LittleEndian.AppendUint32(buf, rec.sqProgramCntl)
	for _, dword := range rec.microcode {
		buf = binary.LittleEndian.AppendUint32(buf, dword)
	}
	return buf
}

func encodePipelineRecord(rec *pipelineRecord) []byte {
	buf := make([]byte, 0, pipelineRecordSize)
	buf = binary.LittleEndian.AppendUint64(buf, rec.hash)
	return append(buf, rec.description...)
}

// writeLoop writes at most one shader and one pipeline record per iteration,
// so neither log starves the other, and sleeps on the condition variable when
// both queues are empty.
func (st *storage) writeLoop() {
	defer close(st.done)
	st.mu.Lock()
	for {
		flushShaders := st.flushShaders
		flushPipelines := st.flushPipelines
		st.flushShaders = false
		st.flushPipelines = false

		var shader *shaderRecord
		if len(st.shaderQueue) != 0 {
			rec := st.shaderQueue[0]
			st.shaderQueue = st.shaderQueue[1:]
			shader = &rec
		}
		var pipeline *pipelineRecord
		if len(st.pipelineQueue) != 0 {
			rec := st.pipelineQueue[0]
			st.pipelineQueue = st.pipelineQueue[1:]
			pipeline = &rec
		}
		shutdown := st.shutdown
		st.mu.Unlock()

		if flushShaders {
			st.shaderFile.Sync()
		}
		if flushPipelines {
			st.pipelineFile.Sync()
		}
		if shader != nil {
			st.shaderFile.Write(encodeShaderRecord(shader))
		}
		if pipeline != nil {
			st.pipelineFile.Write(encodePipelineRecord(pipeline))
		}

		st.mu.Lock()
		if shader == nil && pipeline == nil && !flushShaders && !flushPipelines {
			if shutdown {
				break
			}
			if !st.shutdown && !st.flushShaders && !st.flushPipelines &&
				len(st.shaderQueue) == 0 && len(st.pipelineQueue) == 0 {
				st.cond.Wait()
			}
		}
	}
	st.mu.Unlock()
	st.shaderFile.Sync()
	st.pipelineFile.Sync()
}

func encodeLogHeader(magic uint32) []byte {
	buf := make([]byte, 0, logHeaderSize)
	buf = binary.LittleEndian.AppendUint32(buf, magic)
	buf = binary.LittleEndian.AppendUint32(buf, logMagicAPI)
	return binary.LittleEndian.AppendUint32(buf, logVersion)
}

// openLog opens (or creates) a log and validates its header. On any mismatch
// the file is reset to a fresh header: the log is a cache, so losing it only
// costs warm-up time.
func openLog(path string, magic uint32) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	var header [logHeaderSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil ||
		binary.LittleEndian.Uint32(header[0:]) != magic ||
		binary.LittleEndian.Uint32(header[4:]) != logMagicAPI ||
		binary.LittleEndian.Uint32(header[8:]) != logVersion {
		if err := f.Truncate(0); err != nil {
			f.Close()
			return nil, err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
		if _, err := f.Write(encodeLogHeader(magic)); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// InitializeStorage attaches persistent shader and pipeline logs for the
// given title, replaying their contents before new writes begin. Replay
// retranslates every stored shader on a worker pool, then recreates every
// stored pipeline whose shaders survived. Records after the first corrupt one
// are dropped and the file is truncated to the last valid record.
func (c *Cache) InitializeStorage(dir string, titleID uint32) error {
	if c.storage != nil {
		return errors.New("pipeline: storage already initialized")
	}
	if c.opts.DecodeProgram == nil {
		return ErrNoDecoder
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	shaderFile, err := openLog(
		filepath.Join(dir, fmt.Sprintf("%08x.shaders.bin", titleID)), shaderLogMagic)
	if err != nil {
		return err
	}
	pipelineFile, err := openLog(
		filepath.Join(dir, fmt.Sprintf("%08x.pipelines.bin", titleID)), pipelineLogMagic)
	if err != nil {
		shaderFile.Close()
		return err
	}

	st := newStorage(shaderFile, pipelineFile)
	c.storage = st
	c.replayShaders(shaderFile, st)
	c.replayPipelines(pipelineFile)
	c.WaitForPipelineCreation()
	shaderFile.Seek(0, io.SeekEnd)
	pipelineFile.Seek(0, io.SeekEnd)
	st.start()
	return nil
}

// replayShaders reads the shader log, reinserting every intact shader and
// retranslating them in parallel. A record whose hash does not match its
// microcode marks the corruption point: the file is truncated there.
func (c *Cache) replayShaders(f *os.File, st *storage) {
	if _, err := f.Seek(logHeaderSize, io.SeekStart); err != nil {
		return
	}
	r := bufio.NewReader(f)
	validBytes := int64(logHeaderSize)

	// One reader plus as many translators as leaves a processor for the
	// reader itself.
	workers := runtime.GOMAXPROCS(0) - 1
	if workers < 1 {
		workers = 1
	}
	pending := make(chan *translate.Shader, workers)
	var failedMu sync.Mutex
	failed := make(map[uint64]struct{})

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			tr := translate.NewTranslator(c.opts.Translator)
			for s := range pending {
				if _, err := s.EnsureTranslation(tr, 0); err != nil {
					c.log.Warn("stored shader failed to retranslate",
						"shader", s.Hash(), "err", err)
					failedMu.Lock()
					failed[s.Hash()] = struct{}{}
					failedMu.Unlock()
					continue
				}
				c.registerBindingLayouts(s)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(pending)
		var header [shaderRecordHeaderSize]byte
		for {
			if _, err := io.ReadFull(r, header[:]); err != nil {
				return nil
			}
			hash := binary.LittleEndian.Uint64(header[0:])
			dwordCount := binary.LittleEndian.Uint32(header[8:])
			shaderType := binary.LittleEndian.Uint32(header[12:])
			hostVertexShaderType := binary.LittleEndian.Uint32(header[16:])
			if dwordCount == 0 || dwordCount > maxShaderDwords || shaderType > 1 {
				return nil
			}
			raw := make([]byte, dwordCount*4)
			if _, err := io.ReadFull(r, raw); err != nil {
				return nil
			}
			microcode := make([]uint32, dwordCount)
			for i := range microcode {
				microcode[i] = binary.LittleEndian.Uint32(raw[i*4:])
			}
			if translate.HashMicrocode(microcode) != hash {
				return nil
			}
			validBytes += shaderRecordHeaderSize + int64(dwordCount)*4
			if hostVertexShaderType != 0 {
				// Valid record, but an unsupported host shader kind; keep the
				// bytes, skip the shader.
				continue
			}
			c.mu.Lock()
			_, known := c.shaders[hash]
			c.mu.Unlock()
			if known {
				st.markWritten(hash)
				continue
			}
			program, err := c.opts.DecodeProgram(ucode.ShaderType(shaderType), microcode)
			if err != nil {
				c.log.Warn("stored shader failed to decode", "shader", hash, "err", err)
				continue
			}
			s := translate.NewShader(program)
			c.mu.Lock()
			c.shaders[hash] = s
			c.mu.Unlock()
			st.markWritten(hash)
			pending <- s
		}
	})
	g.Wait()

	// Shaders that no longer translate must not linger: a pipeline replay or
	// a live lookup would treat them as usable.
	for hash := range failed {
		c.mu.Lock()
		delete(c.shaders, hash)
		c.mu.Unlock()
		st.unmarkWritten(hash)
	}

	f.Truncate(validBytes)
}

// replayPipelines reads the pipeline log and recreates every description
// whose shaders were recovered, queuing them on the creation workers.
// Corruption truncates the file like the shader log.
func (c *Cache) replayPipelines(f *os.File) {
	if _, err := f.Seek(logHeaderSize, io.SeekStart); err != nil {
		return
	}
	r := bufio.NewReader(f)
	validBytes := int64(logHeaderSize)
	record := make([]byte, pipelineRecordSize)

	for {
		if _, err := io.ReadFull(r, record); err != nil {
			break
		}
		hash := binary.LittleEndian.Uint64(record)
		encoded := record[8:]
		if xxhash3.Hash(encoded) != hash {
			break
		}
		validBytes += pipelineRecordSize
		desc, err := DecodeDescription(encoded)
		if err != nil {
			continue
		}

		c.mu.Lock()
		known := false
		for _, existing := range c.pipelines[hash] {
			if bytes.Equal(existing.encoded, encoded) {
				known = true
				break
			}
		}
		vs := c.shaders[desc.VertexShaderHash]
		var ps *translate.Shader
		if desc.PixelShaderHash != 0 {
			ps = c.shaders[desc.PixelShaderHash]
		}
		c.mu.Unlock()
		if known {
			continue
		}
		// Orphan records reference shaders lost to corruption or translation
		// failure; skip them, they regenerate on the next live draw.
		if vs == nil || desc.PixelShaderHash != 0 && ps == nil {
			continue
		}
		if _, ok := vs.Translation(0); !ok {
			continue
		}
		if ps != nil {
			mod := pixelShaderModification(&desc, ps)
			if _, ok := ps.Translation(mod); !ok {
				c.translateMu.Lock()
				_, err := ps.EnsureTranslation(c.translator, mod)
				c.translateMu.Unlock()
				if err != nil {
					continue
				}
			}
		}

		p := &Pipeline{
			Description:  desc,
			VertexShader: vs,
			PixelShader:  ps,
			encoded:      append([]byte(nil), encoded...),
		}
		c.mu.Lock()
		c.pipelines[hash] = append(c.pipelines[hash], p)
		c.mu.Unlock()
		c.submitPipeline(p)
	}

	f.Truncate(validBytes)
}

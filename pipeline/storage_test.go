package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/gogpu/xgpu/translate"
	"github.com/gogpu/xgpu/ucode"
)

const testTitleID uint32 = 0x415607e6

func shaderLogPath(dir string) string {
	return filepath.Join(dir, fmt.Sprintf("%08x.shaders.bin", testTitleID))
}

func pipelineLogPath(dir string) string {
	return filepath.Join(dir, fmt.Sprintf("%08x.pipelines.bin", testTitleID))
}

// testDecoder replays from a fixed set of known programs, keyed by microcode
// hash the way a real decoder would re-decode the stored dwords.
func testDecoder(programs ...*ucode.Program) DecodeFunc {
	byHash := make(map[uint64]*ucode.Program)
	for _, p := range programs {
		byHash[translate.HashMicrocode(p.Microcode)] = p
	}
	return func(shaderType ucode.ShaderType, microcode []uint32) (*ucode.Program, error) {
		p, ok := byHash[translate.HashMicrocode(microcode)]
		if !ok || p.Type != shaderType {
			return nil, fmt.Errorf("unknown microcode")
		}
		return p, nil
	}
}

func newStorageCache(t *testing.T, device Device, decode DecodeFunc) *Cache {
	t.Helper()
	c, err := NewCache(Options{
		Device:          device,
		CreationThreads: 0,
		DecodeProgram:   decode,
	})
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	return c
}

// populateStorage runs one session against dir: one pipeline with a vertex
// and a pixel shader, flushed and shut down cleanly.
func populateStorage(t *testing.T, dir string, decode DecodeFunc) {
	t.Helper()
	device := &fakeDevice{}
	c := newStorageCache(t, device, decode)
	if err := c.InitializeStorage(dir, testTitleID); err != nil {
		t.Fatalf("InitializeStorage: %v", err)
	}
	vs := c.LoadShader(vertexProgram(1))
	ps := c.LoadShader(pixelProgram(1))
	draw := baseDrawState()
	if _, err := c.ConfigurePipeline(vs, ps, &draw); err != nil {
		t.Fatalf("ConfigurePipeline: %v", err)
	}
	c.EndSubmission()
	c.Shutdown()
}

func TestInitializeStorageRequiresDecoder(t *testing.T) {
	c := newTestCache(t, &fakeDevice{}, 0)
	if err := c.InitializeStorage(t.TempDir(), testTitleID); err != ErrNoDecoder {
		t.Fatalf("err = %v, want ErrNoDecoder", err)
	}
}

func TestStorageReplay(t *testing.T) {
	dir := t.TempDir()
	decode := testDecoder(vertexProgram(1), pixelProgram(1))
	populateStorage(t, dir, decode)

	device := &fakeDevice{}
	c := newStorageCache(t, device, decode)
	defer c.Shutdown()
	if err := c.InitializeStorage(dir, testTitleID); err != nil {
		t.Fatalf("InitializeStorage: %v", err)
	}
	if c.PipelineCount() != 1 {
		t.Fatalf("replayed %d pipelines, want 1", c.PipelineCount())
	}
	if device.callCount() != 1 {
		t.Errorf("device called %d times during replay, want 1", device.callCount())
	}

	// The warm cache must serve the same draw without another creation.
	vs := c.LoadShader(vertexProgram(1))
	ps := c.LoadShader(pixelProgram(1))
	draw := baseDrawState()
	if _, err := c.ConfigurePipeline(vs, ps, &draw); err != nil {
		t.Fatalf("ConfigurePipeline: %v", err)
	}
	if device.callCount() != 1 {
		t.Errorf("warm draw recompiled: %d device calls", device.callCount())
	}
	if c.PipelineCount() != 1 {
		t.Errorf("warm draw duplicated the pipeline: %d", c.PipelineCount())
	}
}

func TestStorageReplayDedupesLogs(t *testing.T) {
	dir := t.TempDir()
	decode := testDecoder(vertexProgram(1), pixelProgram(1))
	populateStorage(t, dir, decode)

	shaderSize := fileSize(t, shaderLogPath(dir))
	pipelineSize := fileSize(t, pipelineLogPath(dir))

	// A second session drawing the identical state must not grow the logs.
	populateStorage(t, dir, decode)
	if got := fileSize(t, shaderLogPath(dir)); got != shaderSize {
		t.Errorf("shader log grew from %d to %d on a warm session", shaderSize, got)
	}
	if got := fileSize(t, pipelineLogPath(dir)); got != pipelineSize {
		t.Errorf("pipeline log grew from %d to %d on a warm session", pipelineSize, got)
	}
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat(%s): %v", path, err)
	}
	return info.Size()
}

func appendGarbage(t *testing.T, path string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.Write([]byte{0xBA, 0xAD, 0xF0, 0x0D, 0xBA, 0xAD}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestStorageTruncatesCorruptTail(t *testing.T) {
	dir := t.TempDir()
	decode := testDecoder(vertexProgram(1), pixelProgram(1))
	populateStorage(t, dir, decode)

	shaderSize := fileSize(t, shaderLogPath(dir))
	pipelineSize := fileSize(t, pipelineLogPath(dir))
	appendGarbage(t, shaderLogPath(dir))
	appendGarbage(t, pipelineLogPath(dir))

	device := &fakeDevice{}
	c := newStorageCache(t, device, decode)
	if err := c.InitializeStorage(dir, testTitleID); err != nil {
		t.Fatalf("InitializeStorage: %v", err)
	}
	if c.PipelineCount() != 1 {
		t.Errorf("replayed %d pipelines from a torn log, want 1", c.PipelineCount())
	}
	c.Shutdown()

	if got := fileSize(t, shaderLogPath(dir)); got != shaderSize {
		t.Errorf("shader log size %d after recovery, want %d", got, shaderSize)
	}
	if got := fileSize(t, pipelineLogPath(dir)); got != pipelineSize {
		t.Errorf("pipeline log size %d after recovery, want %d", got, pipelineSize)
	}
}

func TestStorageResetsWrongHeader(t *testing.T) {
	dir := t.TempDir()
	decode := testDecoder(vertexProgram(1), pixelProgram(1))
	populateStorage(t, dir, decode)

	// Stamp a wrong version over the shader log header.
	f, err := os.OpenFile(shaderLogPath(dir), os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteAt([]byte{0xFF, 0xFF, 0xFF, 0xFF}, 8); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	f.Close()

	device := &fakeDevice{}
	c := newStorageCache(t, device, decode)
	defer c.Shutdown()
	if err := c.InitializeStorage(dir, testTitleID); err != nil {
		t.Fatalf("InitializeStorage: %v", err)
	}
	// Shaders are gone, so the stored pipelines are orphans.
	if c.PipelineCount() != 0 {
		t.Errorf("replayed %d pipelines without their shaders", c.PipelineCount())
	}
	if device.callCount() != 0 {
		t.Errorf("device called %d times for orphan pipelines", device.callCount())
	}
	if got := fileSize(t, shaderLogPath(dir)); got != logHeaderSize {
		t.Errorf("reset shader log is %d bytes, want bare header %d", got, logHeaderSize)
	}
}

func TestStorageReplaySkipsMissingShaders(t *testing.T) {
	dir := t.TempDir()
	decode := testDecoder(vertexProgram(1), pixelProgram(1))
	populateStorage(t, dir, decode)

	// A decoder that has forgotten the pixel shader: the vertex shader still
	// replays, the pipeline referencing both is skipped.
	partial := testDecoder(vertexProgram(1))
	device := &fakeDevice{}
	c := newStorageCache(t, device, partial)
	defer c.Shutdown()
	if err := c.InitializeStorage(dir, testTitleID); err != nil {
		t.Fatalf("InitializeStorage: %v", err)
	}
	vsHash := translate.HashMicrocode(vertexProgram(1).Microcode)
	if _, ok := c.Shader(vsHash); !ok {
		t.Errorf("vertex shader did not survive partial replay")
	}
	if c.PipelineCount() != 0 {
		t.Errorf("replayed %d pipelines with a missing pixel shader", c.PipelineCount())
	}
	if device.callCount() != 0 {
		t.Errorf("device called %d times, want 0", device.callCount())
	}
}

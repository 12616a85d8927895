package soft

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
)

func mustBuffer(t *testing.T, d *Device, size uint64, usage driver.BufferUsage, typeIndex uint32) (driver.Buffer, driver.Memory) {
	t.Helper()
	b, err := d.CreateBuffer(size, usage)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	req := d.BufferMemoryRequirements(b)
	m, err := d.AllocateMemory(req.Size, typeIndex, usage&driver.BufferUsageShaderDeviceAddress != 0)
	if err != nil {
		t.Fatalf("AllocateMemory: %v", err)
	}
	if err := d.BindBufferMemory(b, m, 0); err != nil {
		t.Fatalf("BindBufferMemory: %v", err)
	}
	return b, m
}

func TestCopyRunsWhenFenceIsWaited(t *testing.T) {
	d := New(nil)
	src, srcMem := mustBuffer(t, d, 16, driver.BufferUsageTransferSrc, MemoryTypeHostVisible)
	dst, dstMem := mustBuffer(t, d, 16, driver.BufferUsageTransferDst, MemoryTypeHostVisible)

	data, err := d.MapMemory(srcMem, 0, 16)
	if err != nil {
		t.Fatal(err)
	}
	copy(data, []byte("0123456789abcdef"))
	d.UnmapMemory(srcMem)

	cb, _ := d.AllocateCommandBuffer()
	if err := d.BeginCommandBuffer(cb, true); err != nil {
		t.Fatal(err)
	}
	d.CmdCopyBuffer(cb, src, dst, []driver.BufferCopy{{SrcOffset: 4, DstOffset: 0, Size: 8}})
	if err := d.EndCommandBuffer(cb); err != nil {
		t.Fatal(err)
	}
	f, _ := d.CreateFence(false)
	if err := d.QueueSubmit([]driver.SubmitInfo{{CommandBuffers: []driver.CommandBuffer{cb}}}, f); err != nil {
		t.Fatal(err)
	}
	if d.Pending() != 1 || d.FenceSignaled(f) {
		t.Fatalf("submission should be pending, pending=%d signaled=%v", d.Pending(), d.FenceSignaled(f))
	}
	if err := d.ResetCommandBuffer(cb); err == nil {
		t.Fatal("resetting a pending command buffer must fail")
	}
	if err := d.WaitForFence(f, driver.WaitForever); err != nil {
		t.Fatal(err)
	}
	if !d.FenceSignaled(f) || d.Pending() != 0 {
		t.Fatal("fence wait should retire the submission")
	}

	out, err := d.MapMemory(dstMem, 0, 8)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "456789ab" {
		t.Errorf("copied %q, want %q", out, "456789ab")
	}
	d.UnmapMemory(dstMem)
	if got := d.Stats().FenceWaits[f]; got != 1 {
		t.Errorf("fence waits = %d, want 1", got)
	}
}

func TestCopyValidatesUsageAndBounds(t *testing.T) {
	d := New(nil)
	src, _ := mustBuffer(t, d, 16, driver.BufferUsageVertex, MemoryTypeHostVisible)
	dst, _ := mustBuffer(t, d, 16, driver.BufferUsageTransferDst, MemoryTypeDeviceLocal)
	cb, _ := d.AllocateCommandBuffer()

	_ = d.BeginCommandBuffer(cb, true)
	d.CmdCopyBuffer(cb, src, dst, []driver.BufferCopy{{Size: 4}})
	if err := d.EndCommandBuffer(cb); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("missing transfer-src usage: got %v", err)
	}

	src2, _ := mustBuffer(t, d, 16, driver.BufferUsageTransferSrc, MemoryTypeHostVisible)
	_ = d.BeginCommandBuffer(cb, true)
	d.CmdCopyBuffer(cb, src2, dst, []driver.BufferCopy{{SrcOffset: 8, Size: 16}})
	if err := d.EndCommandBuffer(cb); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("out of bounds region: got %v", err)
	}
}

func TestDeviceLocalMemoryIsNotMappable(t *testing.T) {
	d := New(nil)
	_, m := mustBuffer(t, d, 64, driver.BufferUsageStorage, MemoryTypeDeviceLocal)
	if _, err := d.MapMemory(m, 0, 64); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("MapMemory on device-local memory: got %v", err)
	}
}

func TestBufferDeviceAddress(t *testing.T) {
	d := New(nil)
	a, _ := mustBuffer(t, d, 100, driver.BufferUsageShaderDeviceAddress, MemoryTypeDeviceLocal)
	b, _ := mustBuffer(t, d, 100, driver.BufferUsageShaderDeviceAddress, MemoryTypeDeviceLocal)
	plain, _ := mustBuffer(t, d, 100, driver.BufferUsageStorage, MemoryTypeDeviceLocal)

	addrA, addrB := d.BufferDeviceAddress(a), d.BufferDeviceAddress(b)
	if addrA == 0 || addrB == 0 || addrA == addrB {
		t.Errorf("addresses must be distinct and non-zero: %#x %#x", addrA, addrB)
	}
	if d.BufferDeviceAddress(plain) != 0 {
		t.Error("buffer without device-address usage must not have an address")
	}
}

func TestFailAllocations(t *testing.T) {
	d := New(nil)
	d.FailAllocations(1)
	if _, err := d.AllocateMemory(256, MemoryTypeDeviceLocal, false); !errors.Is(err, core.ErrOutOfMemory) {
		t.Fatalf("got %v, want out of memory", err)
	}
	if _, err := d.AllocateMemory(256, MemoryTypeDeviceLocal, false); err != nil {
		t.Fatalf("second allocation: %v", err)
	}
	if got := d.Stats().AllocateMemoryCalls; got != 2 {
		t.Errorf("AllocateMemoryCalls = %d, want 2", got)
	}
}

func TestFenceRules(t *testing.T) {
	d := New(nil)
	f, _ := d.CreateFence(true)
	if err := d.WaitForFence(f, driver.WaitForever); err != nil {
		t.Fatalf("signaled fence: %v", err)
	}
	cb, _ := d.AllocateCommandBuffer()
	_ = d.BeginCommandBuffer(cb, false)
	_ = d.EndCommandBuffer(cb)
	if err := d.QueueSubmit([]driver.SubmitInfo{{CommandBuffers: []driver.CommandBuffer{cb}}}, f); err == nil {
		t.Fatal("submitting with a signaled fence must fail")
	}
	_ = d.ResetFence(f)
	if err := d.WaitForFence(f, 1000); err == nil {
		t.Fatal("waiting on a fence nothing will signal must time out")
	}
	if err := d.QueueSubmit([]driver.SubmitInfo{{CommandBuffers: []driver.CommandBuffer{cb}}}, f); err != nil {
		t.Fatal(err)
	}
	if err := d.ResetFence(f); err == nil {
		t.Fatal("resetting a fence in use must fail")
	}
	_ = d.QueueWaitIdle()
	if !d.FenceSignaled(f) {
		t.Fatal("queue idle should signal the fence")
	}
}

func TestSwapchainAcquirePresent(t *testing.T) {
	surface := NewSurface(800, 600)
	d := New(surface)
	sc, images, err := d.CreateSwapchain(driver.SwapchainCreateInfo{Extent: surface.Extent()})
	if err != nil {
		t.Fatal(err)
	}
	if len(images.Images) != imageCount || images.Extent != surface.Extent() {
		t.Fatalf("unexpected swapchain images %+v", images)
	}
	acquire, _ := d.CreateSemaphore()
	render, _ := d.CreateSemaphore()

	idx, status, err := d.AcquireNextImage(sc, driver.WaitForever, acquire)
	if err != nil || status != driver.PresentOK {
		t.Fatalf("acquire: %v %v", status, err)
	}
	if _, err := d.QueuePresent(sc, idx, render); err == nil {
		t.Fatal("present must wait on a signaled semaphore")
	}

	cb, _ := d.AllocateCommandBuffer()
	_ = d.BeginCommandBuffer(cb, false)
	d.CmdClearColorImage(cb, images.Images[idx], [4]float32{1, 0, 0, 1})
	_ = d.EndCommandBuffer(cb)
	err = d.QueueSubmit([]driver.SubmitInfo{{
		CommandBuffers:   []driver.CommandBuffer{cb},
		WaitSemaphores:   []driver.Semaphore{acquire},
		WaitStages:       []driver.PipelineStage{driver.PipelineStageColorAttachmentOutput},
		SignalSemaphores: []driver.Semaphore{render},
	}}, driver.NullHandle)
	if err != nil {
		t.Fatal(err)
	}
	if status, err := d.QueuePresent(sc, idx, render); err != nil || status != driver.PresentOK {
		t.Fatalf("present: %v %v", status, err)
	}
	_ = d.DeviceWaitIdle()
	if c, ok := d.ImageClearColor(images.Images[idx]); !ok || c[0] != 1 {
		t.Errorf("image clear color = %v %v", c, ok)
	}

	surface.Resize(1024, 768)
	if _, status, _ := d.AcquireNextImage(sc, driver.WaitForever, acquire); status != driver.PresentOutOfDate {
		t.Fatalf("acquire after resize = %v, want out of date", status)
	}
	sc2, images2, err := d.CreateSwapchain(driver.SwapchainCreateInfo{Extent: surface.Extent(), OldSwapchain: sc})
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range images.Images {
		for _, b := range images2.Images {
			if a == b {
				t.Fatalf("recreated swapchain reused image handle %d", a)
			}
		}
	}
	if images2.Extent.Width != 1024 {
		t.Errorf("new extent = %+v", images2.Extent)
	}
	d.DestroySwapchain(sc)
	d.DestroySwapchain(sc2)
	if d.Live().Images != 0 {
		t.Errorf("swapchain images leaked: %d", d.Live().Images)
	}
}

func TestSwapchainZeroSurface(t *testing.T) {
	surface := NewSurface(0, 0)
	d := New(surface)
	if _, _, err := d.CreateSwapchain(driver.SwapchainCreateInfo{}); !errors.Is(err, core.ErrStale) {
		t.Fatalf("got %v, want stale", err)
	}
}

package allocator

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
	"github.com/spaghettifunk/lumen/engine/renderer/soft"
)

func expectInvariant(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("%s: expected invariant violation", name)
		}
		if _, ok := r.(*core.InvariantViolation); !ok {
			t.Fatalf("%s: unexpected panic %v", name, r)
		}
	}()
	fn()
}

func newAllocator() (*Allocator, *soft.Device) {
	dev := soft.New(nil)
	return New(dev), dev
}

func TestBufferRoundTrip(t *testing.T) {
	a, dev := newAllocator()
	tests := []struct {
		name        string
		usage       driver.BufferUsage
		hostVisible bool
		data        []byte
	}{
		{"host visible", driver.BufferUsageUniform, true, []byte{1, 2, 3}},
		{"device local", driver.BufferUsageVertex, false, nil},
		{"device local staged", driver.BufferUsageIndex, false, []byte{9, 8, 7, 6}},
		{"addressable", driver.BufferUsageStorage | driver.BufferUsageShaderDeviceAddress, false, []byte{5}},
	}
	var handles []Handle
	for _, tt := range tests {
		h, err := a.CreateBuffer(64, tt.usage, tt.hostVisible, tt.data)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		handles = append(handles, h)
	}
	s := a.Stats()
	if s.Buffers != len(tests) || s.Allocations != len(tests) || s.Addresses != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
	for _, h := range handles {
		a.Free(h)
	}
	s = a.Stats()
	if s.Buffers != 0 || s.Allocations != 0 || s.Addresses != 0 || s.TotalBytes != 0 {
		t.Errorf("allocator not empty after free: %+v", s)
	}
	if live := dev.Live(); live.Buffers != 0 || live.Memories != 0 || live.CommandBuffers != 0 {
		t.Errorf("device objects leaked: %+v", live)
	}
}

func TestStagingReadback(t *testing.T) {
	a, dev := newAllocator()
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i * 7)
	}
	h, err := a.CreateBuffer(uint64(len(data)), driver.BufferUsageVertex, false, data)
	if err != nil {
		t.Fatal(err)
	}
	if got := a.Memory(h).MemoryTypeIndex; got != soft.MemoryTypeDeviceLocal {
		t.Errorf("memory type = %d, want device local", got)
	}
	// One allocation for the buffer and one for the released staging buffer.
	if got := a.Stats().AllocationCalls; got != 2 {
		t.Errorf("allocation calls = %d, want 2", got)
	}
	if got := a.Stats().Allocations; got != 1 {
		t.Errorf("live allocations = %d, want 1", got)
	}
	out, err := a.ReadBuffer(h, 0, uint64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, data) {
		t.Error("readback differs from uploaded data")
	}
	part, err := a.ReadBuffer(h, 10, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(part, data[10:15]) {
		t.Errorf("partial readback = %v, want %v", part, data[10:15])
	}
	if dev.Live().Buffers != 1 {
		t.Errorf("staging buffers leaked: %+v", dev.Live())
	}
}

func TestUpdateVisibleBuffer(t *testing.T) {
	a, _ := newAllocator()
	h, err := a.CreateBuffer(8, driver.BufferUsageUniform, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.UpdateVisibleBuffer(h, 4, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	out, _ := a.ReadBuffer(h, 0, 8)
	if !bytes.Equal(out, []byte{0, 0, 0, 0, 1, 2, 3, 4}) {
		t.Errorf("buffer = %v", out)
	}
	if err := a.UpdateVisibleBuffer(h, 6, []byte{1, 2, 3}); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("out of bounds write: got %v", err)
	}

	local, _ := a.CreateBuffer(8, driver.BufferUsageVertex, false, nil)
	expectInvariant(t, "device local update", func() {
		_ = a.UpdateVisibleBuffer(local, 0, []byte{1})
	})
}

func TestInvalidArguments(t *testing.T) {
	a, _ := newAllocator()
	if _, err := a.CreateBuffer(0, driver.BufferUsageVertex, true, nil); core.ResultKind(err) != core.KindInvalidArgument {
		t.Errorf("zero size: got %v", err)
	}
	if _, err := a.CreateBuffer(2, driver.BufferUsageVertex, true, []byte{1, 2, 3}); core.ResultKind(err) != core.KindInvalidArgument {
		t.Errorf("oversized data: got %v", err)
	}
	if _, err := a.CreateImage(0, 10, driver.FormatR8G8B8A8Unorm, driver.ImageUsageStorage); core.ResultKind(err) != core.KindInvalidArgument {
		t.Errorf("zero image: got %v", err)
	}

	h, err := a.CreateBuffer(16, driver.BufferUsageStorage, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	huge := ^uint64(0) - 3
	if err := a.UpdateVisibleBuffer(h, huge, make([]byte, 8)); core.ResultKind(err) != core.KindInvalidArgument {
		t.Errorf("write at wrapping offset: got %v", err)
	}
	if _, err := a.ReadBuffer(h, huge, 8); core.ResultKind(err) != core.KindInvalidArgument {
		t.Errorf("read at wrapping offset: got %v", err)
	}
	if _, err := a.ReadBuffer(h, 8, 9); core.ResultKind(err) != core.KindInvalidArgument {
		t.Errorf("read past the end: got %v", err)
	}
	if _, err := a.ReadBuffer(h, 16, 0); err != nil {
		t.Errorf("empty read at the end: %v", err)
	}
}

func TestOutOfMemoryReleasesPartialState(t *testing.T) {
	a, dev := newAllocator()
	dev.FailAllocations(1)
	_, err := a.CreateBuffer(64, driver.BufferUsageVertex, true, nil)
	if core.ResultKind(err) != core.KindOutOfMemory {
		t.Fatalf("got %v, want out of memory", err)
	}
	if dev.Live().Buffers != 0 {
		t.Error("buffer left behind after failed allocation")
	}
}

func TestDeviceAddressEligibility(t *testing.T) {
	a, _ := newAllocator()
	addressable, _ := a.CreateBuffer(32, driver.BufferUsageShaderDeviceAddress, false, nil)
	plain, _ := a.CreateBuffer(32, driver.BufferUsageStorage, false, nil)

	if a.DeviceAddress(addressable) == 0 {
		t.Error("device address must be non-zero")
	}
	expectInvariant(t, "plain buffer", func() { a.DeviceAddress(plain) })

	a.Free(addressable)
	expectInvariant(t, "freed buffer", func() { a.DeviceAddress(addressable) })
}

func TestStaleHandles(t *testing.T) {
	a, _ := newAllocator()
	h, _ := a.CreateBuffer(16, driver.BufferUsageUniform, true, nil)
	a.Free(h)
	reused, _ := a.CreateBuffer(16, driver.BufferUsageUniform, true, nil)
	if reused.Index != h.Index || reused.Generation == h.Generation {
		t.Fatalf("expected slot reuse with a new generation: %s then %s", h, reused)
	}
	expectInvariant(t, "double free", func() { a.Free(h) })
	expectInvariant(t, "stale update", func() { _ = a.UpdateVisibleBuffer(h, 0, []byte{1}) })
	expectInvariant(t, "null handle", func() { a.Free(Handle{}) })
	expectInvariant(t, "kind mismatch", func() { a.Views(reused) })
}

func TestImageViewsReleasedWithImage(t *testing.T) {
	a, dev := newAllocator()
	img, err := a.CreateImage(64, 32, driver.FormatR8G8B8A8Unorm, driver.ImageUsageStorage)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := a.CreateImageView(img); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(a.Views(img)); got != 3 {
		t.Fatalf("views = %d, want 3", got)
	}
	if got := a.Stats().Views; got != 3 {
		t.Errorf("stats views = %d, want 3", got)
	}
	a.Free(img)
	if live := dev.Live(); live.ImageViews != 0 || live.Images != 0 || live.Memories != 0 {
		t.Errorf("image resources leaked: %+v", live)
	}
}

func TestDestroyFreesLeaks(t *testing.T) {
	a, dev := newAllocator()
	_, _ = a.CreateBuffer(16, driver.BufferUsageUniform, true, nil)
	_, _ = a.CreateImage(4, 4, driver.FormatR8G8B8A8Unorm, driver.ImageUsageSampled)
	a.Destroy()
	if live := dev.Live(); live.Buffers != 0 || live.Images != 0 || live.Memories != 0 {
		t.Errorf("destroy left device objects: %+v", live)
	}
}

func TestFindMemoryIndex(t *testing.T) {
	a, _ := newAllocator()
	tests := []struct {
		filter uint32
		props  driver.MemoryProperty
		want   int32
	}{
		{0b111, driver.MemoryPropertyDeviceLocal, 0},
		{0b111, driver.MemoryPropertyHostVisible | driver.MemoryPropertyHostCoherent, 1},
		{0b101, driver.MemoryPropertyHostVisible, 2},
		{0b001, driver.MemoryPropertyHostVisible, -1},
		{0b111, driver.MemoryPropertyHostCached, -1},
	}
	for _, tt := range tests {
		if got := a.FindMemoryIndex(tt.filter, tt.props); got != tt.want {
			t.Errorf("FindMemoryIndex(%#b, %#b) = %d, want %d", tt.filter, tt.props, got, tt.want)
		}
	}
}

package device

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/achilleasa/rtframe/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	ctx := NewContext(Options{Name: "test", Workers: 2})
	t.Cleanup(ctx.Close)
	return ctx
}

func uploadBytes(t *testing.T, ctx *Context, name string, data []byte) *Buffer {
	t.Helper()
	buf, err := ctx.CreateBuffer(name, uint64(len(data)), Upload, AccessNone, GenericRead)
	require.NoError(t, err)
	mapped, err := buf.Map()
	require.NoError(t, err)
	copy(mapped, data)
	buf.Unmap()
	return buf
}

func submitAndWait(t *testing.T, ctx *Context, fence *Fence, cl *CommandList) error {
	t.Helper()
	require.NoError(t, cl.Close())
	if err := ctx.Queue().Submit(cl); err != nil {
		return err
	}
	if _, err := fence.SignalAndWait(ctx.Queue()); err != nil {
		return err
	}
	return cl.Reset()
}

func float32Bytes(values ...float32) []byte {
	out := make([]byte, 4*len(values))
	for idx, v := range values {
		binary.LittleEndian.PutUint32(out[idx*4:], math.Float32bits(v))
	}
	return out
}

func uint32Bytes(values ...uint32) []byte {
	out := make([]byte, 4*len(values))
	for idx, v := range values {
		binary.LittleEndian.PutUint32(out[idx*4:], v)
	}
	return out
}

func TestCreateBufferValidation(t *testing.T) {
	ctx := newTestContext(t)

	_, err := ctx.CreateBuffer("empty", 0, DeviceLocal, AccessNone, Common)
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = ctx.CreateBuffer("upload", 16, Upload, AccessNone, CopyDest)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = ctx.CreateBuffer("readback", 16, Readback, AccessNone, GenericRead)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = ctx.CreateBuffer("uav", 16, DeviceLocal, AccessNone, UnorderedAccess)
	assert.ErrorIs(t, err, ErrInvalidAccess)

	buf, err := ctx.CreateBuffer("local", 16, DeviceLocal, AllowUnorderedAccess, UnorderedAccess)
	require.NoError(t, err)
	_, err = buf.Map()
	assert.ErrorIs(t, err, ErrNotMappable)
	assert.Equal(t, 1, ctx.Stats().LiveBuffers)

	buf.Release()
	buf.Release()
	assert.Equal(t, 0, ctx.Stats().LiveBuffers)
	_, err = buf.AddressAt(0)
	assert.ErrorIs(t, err, ErrReleased)
}

func TestAddressResolution(t *testing.T) {
	ctx := newTestContext(t)

	a, err := ctx.CreateBuffer("a", 100, DeviceLocal, AccessNone, Common)
	require.NoError(t, err)
	b, err := ctx.CreateBuffer("b", 100, DeviceLocal, AccessNone, Common)
	require.NoError(t, err)

	addr, err := b.AddressAt(40)
	require.NoError(t, err)
	buf, offset, err := ctx.resolve(addr, 60)
	require.NoError(t, err)
	assert.Equal(t, b, buf)
	assert.Equal(t, uint64(40), offset)

	_, _, err = ctx.resolve(addr, 61)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	_, err = a.AddressAt(100)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	// Records carry addresses unchanged.
	rec := make([]byte, SizeofAddress)
	PutAddress(rec, addr)
	assert.Equal(t, addr, ReadAddress(rec))

	a.Release()
	_, _, err = ctx.resolve(a.Address(), 1)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestPlacedBuffers(t *testing.T) {
	ctx := newTestContext(t)

	heap, err := ctx.CreateHeap("tables", 4*PlacementAlignment, Upload)
	require.NoError(t, err)

	_, err = ctx.CreatePlacedBuffer("misaligned", heap, 128, 64, GenericRead)
	assert.ErrorIs(t, err, ErrMisaligned)

	_, err = ctx.CreatePlacedBuffer("overflow", heap, 3*PlacementAlignment, PlacementAlignment+1, GenericRead)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	first, err := ctx.CreatePlacedBuffer("first", heap, 0, 64, GenericRead)
	require.NoError(t, err)
	second, err := ctx.CreatePlacedBuffer("second", heap, PlacementAlignment, 64, GenericRead)
	require.NoError(t, err)
	assert.Equal(t, 2, heap.PlacedBuffers())

	data, err := second.Map()
	require.NoError(t, err)
	data[0] = 0xAB
	assert.Equal(t, byte(0xAB), heap.data[PlacementAlignment])

	first.Release()
	second.Release()
	assert.Equal(t, 0, heap.PlacedBuffers())
	heap.Release()
	assert.Equal(t, 0, ctx.Stats().LiveHeaps)
}

func TestCopyRoundTrip(t *testing.T) {
	ctx := newTestContext(t)
	fence := ctx.CreateFence("fence")
	cl := ctx.CreateCommandList("copy")

	src := uploadBytes(t, ctx, "src", []byte{1, 2, 3, 4, 5, 6, 7, 8})
	local, err := ctx.CreateBuffer("local", 8, DeviceLocal, AccessNone, CopyDest)
	require.NoError(t, err)
	readback, err := ctx.CreateBuffer("readback", 8, Readback, AccessNone, CopyDest)
	require.NoError(t, err)

	require.NoError(t, cl.CopyBufferRegion(local, 0, src, 0, 8))

	// The source of the next copy must be transitioned first.
	assert.ErrorIs(t, cl.CopyBufferRegion(readback, 0, local, 0, 8), ErrInvalidState)
	assert.ErrorIs(t, cl.ResourceBarrier(Transition(local, GenericRead, CopySource)), ErrInvalidState)

	require.NoError(t, cl.ResourceBarrier(Transition(local, CopyDest, CopySource)))
	require.NoError(t, cl.CopyBufferRegion(readback, 2, local, 4, 4))
	assert.ErrorIs(t, cl.CopyBufferRegion(readback, 6, local, 0, 4), ErrOutOfBounds)
	require.NoError(t, submitAndWait(t, ctx, fence, cl))

	data, err := readback.Map()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 5, 6, 7, 8, 0, 0}, data)
	assert.Equal(t, uint64(1), fence.Completed())
}

func TestFenceValuesIncrease(t *testing.T) {
	ctx := newTestContext(t)
	fence := ctx.CreateFence("fence")

	for exp := uint64(1); exp <= 3; exp++ {
		value, err := fence.SignalAndWait(ctx.Queue())
		require.NoError(t, err)
		assert.Equal(t, exp, value)
		assert.Equal(t, exp, fence.Completed())
	}
}

func TestCommandListLifecycle(t *testing.T) {
	ctx := newTestContext(t)
	cl := ctx.CreateCommandList("list")

	assert.ErrorIs(t, ctx.Queue().Submit(cl), ErrListNotClosed)
	require.NoError(t, cl.Close())
	assert.ErrorIs(t, cl.Close(), ErrListClosed)

	buf, err := ctx.CreateBuffer("buf", 4, DeviceLocal, AccessNone, Common)
	require.NoError(t, err)
	assert.ErrorIs(t, cl.ResourceBarrier(Transition(buf, Common, CopyDest)), ErrListClosed)

	require.NoError(t, cl.Reset())
	require.NoError(t, cl.ResourceBarrier(Transition(buf, Common, CopyDest)))
	assert.Equal(t, []CommandKind{CmdTransitionBarrier}, cl.Recorded())
}

func TestInstanceDescEncoding(t *testing.T) {
	blas, err := newTestContext(t).CreateBuffer("blas", 256, DeviceLocal, AllowUnorderedAccess|AccelerationStructureStorage, AccelerationStructure)
	require.NoError(t, err)

	desc := InstanceDesc{
		Transform:                           types.Translate3D(types.XYZ(1, 2, 3)).Mat3x4(),
		InstanceID:                          7,
		InstanceMask:                        InstanceMaskAll,
		InstanceContributionToHitGroupIndex: 42,
		Flags:                               InstanceTriangleCullDisable,
		AccelerationStructure:               blas.Address(),
	}

	rec := make([]byte, SizeofInstanceDesc)
	require.NoError(t, desc.Encode(rec))
	assert.Equal(t, uint32(7)|0xFF<<24, binary.LittleEndian.Uint32(rec[48:]))
	assert.Equal(t, uint32(42)|uint32(InstanceTriangleCullDisable)<<24, binary.LittleEndian.Uint32(rec[52:]))
	assert.Equal(t, desc, DecodeInstanceDesc(rec))

	desc.InstanceContributionToHitGroupIndex = MaxInstanceContribution + 1
	assert.Error(t, desc.Encode(rec))
}

func TestPrebuildInfo(t *testing.T) {
	ctx := newTestContext(t)

	empty := ctx.AccelerationStructurePrebuildInfo(&BuildInputs{Type: BottomLevel, Geometries: []GeometryDesc{{}}})
	assert.Equal(t, PrebuildInfo{}, empty)

	info := ctx.AccelerationStructurePrebuildInfo(&BuildInputs{
		Type:       BottomLevel,
		Geometries: []GeometryDesc{{Triangles: TrianglesDesc{VertexCount: 3, VertexStride: 12, IndexCount: 6}}},
	})
	assert.NotZero(t, info.ResultDataMaxSize)
	assert.NotZero(t, info.ScratchDataSize)
	assert.Zero(t, info.ResultDataMaxSize%AccelerationStructureAlignment)

	assert.Equal(t, PrebuildInfo{}, ctx.AccelerationStructurePrebuildInfo(&BuildInputs{Type: TopLevel}))
}

func TestSchedulerEvenSplitThenFeedback(t *testing.T) {
	sch := NewPerfectScheduler()

	blocks := sch.Schedule(nil, 2, 10)
	assert.Equal(t, []uint32{5, 5}, blocks)

	// Worker 0 finished its block 4 times faster.
	blocks = sch.Schedule([]BlockStats{{5, 1}, {5, 4}}, 2, 10)
	assert.Equal(t, []uint32{8, 2}, blocks)

	// Dispatch size change resets assignments.
	blocks = sch.Schedule([]BlockStats{{8, 1}, {2, 1}}, 2, 3)
	assert.Equal(t, []uint32{2, 1}, blocks)

	blocks = sch.Schedule(nil, 4, 2)
	var total uint32
	for _, h := range blocks {
		total += h
	}
	assert.Equal(t, uint32(2), total)
}

func TestErrorsWrapDeviceLost(t *testing.T) {
	err := errors.New("boom")
	ctx := newTestContext(t)
	ctx.Queue().setLost(err)
	assert.ErrorIs(t, ctx.Queue().Err(), ErrDeviceLost)

	_, waitErr := ctx.CreateFence("f").SignalAndWait(ctx.Queue())
	assert.ErrorIs(t, waitErr, ErrDeviceLost)
}

package device

import (
	"fmt"
)

// View types.
type ViewType uint8

const (
	ShaderResourceView ViewType = iota
	UnorderedAccessView
)

// A structured buffer view.
type BufferView struct {
	Type   ViewType
	Buffer *Buffer

	FirstElement        uint64
	NumElements         uint32
	StructureByteStride uint32
}

// A heap of buffer views addressed by descriptor tables.
type DescriptorHeap struct {
	name  string
	views []BufferView
}

// A reference to a descriptor inside a heap.
type DescriptorHandle struct {
	heap  *DescriptorHeap
	index uint32
}

// Create a shader visible descriptor heap.
func (c *Context) CreateDescriptorHeap(name string, numDescriptors uint32) (*DescriptorHeap, error) {
	if numDescriptors == 0 {
		return nil, fmt.Errorf("device (%s): descriptor heap %s: %w", c.name, name, ErrInvalidSize)
	}
	return &DescriptorHeap{name: name, views: make([]BufferView, numDescriptors)}, nil
}

// Get the number of descriptors in the heap.
func (h *DescriptorHeap) Len() uint32 {
	return uint32(len(h.views))
}

// Get a handle to the descriptor at index.
func (h *DescriptorHeap) Handle(index uint32) DescriptorHandle {
	return DescriptorHandle{heap: h, index: index}
}

// Write a view into the descriptor at index. Unordered access views need a
// buffer that allows unordered access.
func (h *DescriptorHeap) CreateView(index uint32, view BufferView) error {
	if index >= uint32(len(h.views)) {
		return fmt.Errorf("device: descriptor heap %s: index %d: %w", h.name, index, ErrOutOfBounds)
	}
	if view.Buffer == nil || view.Buffer.Released() {
		return fmt.Errorf("device: descriptor heap %s: index %d: %w", h.name, index, ErrInvalidDescriptor)
	}
	if view.StructureByteStride == 0 || view.NumElements == 0 {
		return fmt.Errorf("device: descriptor heap %s: index %d: %w", h.name, index, ErrInvalidSize)
	}
	end := (view.FirstElement + uint64(view.NumElements)) * uint64(view.StructureByteStride)
	if end > view.Buffer.size {
		return fmt.Errorf("device: descriptor heap %s: index %d: view of %d bytes exceeds %s: %w", h.name, index, end, view.Buffer.name, ErrOutOfBounds)
	}
	if view.Type == UnorderedAccessView && view.Buffer.access&AllowUnorderedAccess == 0 {
		return fmt.Errorf("device: descriptor heap %s: index %d: %w", h.name, index, ErrInvalidAccess)
	}

	h.views[index] = view
	return nil
}

// Clear the descriptor at index.
func (h *DescriptorHeap) ClearView(index uint32) {
	if index < uint32(len(h.views)) {
		h.views[index] = BufferView{}
	}
}

// A resolved view handed to shaders.
type ResourceView struct {
	view BufferView
	data []byte
}

// Get the number of elements in the view.
func (v ResourceView) Len() uint32 {
	return v.view.NumElements
}

// Get the bytes of element i. Writes through unordered access views are
// visible to the host after the dispatch completes.
func (v ResourceView) Element(i uint32) ([]byte, error) {
	if i >= v.view.NumElements {
		return nil, fmt.Errorf("device: element %d of %d: %w", i, v.view.NumElements, ErrOutOfBounds)
	}
	stride := uint64(v.view.StructureByteStride)
	offset := uint64(i) * stride
	return v.data[offset : offset+stride : offset+stride], nil
}

// Check whether the view allows writes.
func (v ResourceView) Writable() bool {
	return v.view.Type == UnorderedAccessView
}

func (v BufferView) resolve() (ResourceView, error) {
	if v.Buffer == nil {
		return ResourceView{}, ErrInvalidDescriptor
	}
	if v.Buffer.Released() {
		return ResourceView{}, fmt.Errorf("view of %s: %w", v.Buffer.name, ErrReleased)
	}
	start := v.FirstElement * uint64(v.StructureByteStride)
	end := start + uint64(v.NumElements)*uint64(v.StructureByteStride)
	return ResourceView{view: v, data: v.Buffer.data[start:end]}, nil
}

type rootArgument struct {
	set   bool
	addr  Address
	table DescriptorHandle
}

// Bind the descriptor heap used by descriptor tables.
func (cl *CommandList) SetDescriptorHeap(h *DescriptorHeap) error {
	if err := cl.checkRecording(); err != nil {
		return err
	}
	cl.descriptorHeap = h
	return nil
}

// Bind the global root signature. Previously set root arguments are
// discarded.
func (cl *CommandList) SetComputeRootSignature(rs *RootSignature) error {
	if err := cl.checkRecording(); err != nil {
		return err
	}
	cl.rootSignature = rs
	cl.rootArgs = make([]rootArgument, len(rs.params))
	return nil
}

func (cl *CommandList) rootSlot(slot int, want RootParameterType) error {
	if err := cl.checkRecording(); err != nil {
		return err
	}
	if cl.rootSignature == nil {
		return fmt.Errorf("device: %s: no root signature bound: %w", cl.name, ErrInvalidRootArgument)
	}
	if slot < 0 || slot >= len(cl.rootSignature.params) || cl.rootSignature.params[slot].Type != want {
		return fmt.Errorf("device: %s: root slot %d: %w", cl.name, slot, ErrInvalidRootArgument)
	}
	return nil
}

// Bind a constant buffer address to a root slot.
func (cl *CommandList) SetComputeRootConstantBufferView(slot int, addr Address) error {
	if err := cl.rootSlot(slot, RootConstantBufferView); err != nil {
		return err
	}
	cl.rootArgs[slot] = rootArgument{set: true, addr: addr}
	return nil
}

// Bind a shader resource address (such as a top-level acceleration
// structure) to a root slot.
func (cl *CommandList) SetComputeRootShaderResourceView(slot int, addr Address) error {
	if err := cl.rootSlot(slot, RootShaderResourceView); err != nil {
		return err
	}
	cl.rootArgs[slot] = rootArgument{set: true, addr: addr}
	return nil
}

// Bind a descriptor table starting at handle to a root slot.
func (cl *CommandList) SetComputeRootDescriptorTable(slot int, handle DescriptorHandle) error {
	if err := cl.rootSlot(slot, RootDescriptorTable); err != nil {
		return err
	}
	if handle.heap == nil || handle.heap != cl.descriptorHeap {
		return fmt.Errorf("device: %s: root slot %d: table outside the bound descriptor heap: %w", cl.name, slot, ErrInvalidRootArgument)
	}
	if handle.index+cl.rootSignature.params[slot].NumDescriptors > handle.heap.Len() {
		return fmt.Errorf("device: %s: root slot %d: %w", cl.name, slot, ErrOutOfBounds)
	}
	cl.rootArgs[slot] = rootArgument{set: true, table: handle}
	return nil
}

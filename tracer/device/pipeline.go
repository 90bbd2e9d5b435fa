package device

import (
	"crypto/sha256"
	"fmt"
	"sort"
)

const (
	// Width of a shader identifier.
	ShaderIdentifierSize = 32

	// Shader record strides must be a multiple of this value.
	ShaderRecordAlignment = 32

	// Shader tables must start at a multiple of this value.
	ShaderTableAlignment = 64

	// Upper bound for the pipeline's maximum trace recursion depth.
	MaxTraceRecursionDepth = 31
)

// An opaque shader identifier as written into shader records.
type ShaderIdentifier [ShaderIdentifierSize]byte

// Ray generation entry point. Called once per launch index.
type RayGenerationFunc func(inv *Invocation) error

// Miss entry point. Called when a traced ray hits nothing.
type MissFunc func(inv *Invocation, payload any) error

// Closest hit entry point. Called for the closest intersection of a
// traced ray.
type ClosestHitFunc func(inv *Invocation, payload any) error

// Shader stage of a library export.
type ShaderStage uint8

const (
	RayGenerationStage ShaderStage = iota
	MissStage
	ClosestHitStage
)

var stageNames = []string{"raygeneration", "miss", "closesthit"}

// Implements Stringer.
func (s ShaderStage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("ShaderStage(%d)", uint8(s))
}

type export struct {
	name  string
	stage ShaderStage

	raygen     RayGenerationFunc
	miss       MissFunc
	closestHit ClosestHitFunc
}

// A library of compiled ray tracing entry points.
type Library struct {
	name    string
	exports map[string]*export
}

// Create an empty library.
func NewLibrary(name string) *Library {
	return &Library{name: name, exports: make(map[string]*export)}
}

// Get library name.
func (l *Library) Name() string {
	return l.name
}

// Add a ray generation export.
func (l *Library) AddRayGeneration(name string, fn RayGenerationFunc) *Library {
	l.exports[name] = &export{name: name, stage: RayGenerationStage, raygen: fn}
	return l
}

// Add a miss export.
func (l *Library) AddMiss(name string, fn MissFunc) *Library {
	l.exports[name] = &export{name: name, stage: MissStage, miss: fn}
	return l
}

// Add a closest hit export.
func (l *Library) AddClosestHit(name string, fn ClosestHitFunc) *Library {
	l.exports[name] = &export{name: name, stage: ClosestHitStage, closestHit: fn}
	return l
}

// Get the sorted list of export names.
func (l *Library) Exports() []string {
	names := make([]string, 0, len(l.exports))
	for name := range l.exports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// A hit group names the programs invoked on intersection.
type HitGroup struct {
	Name       string
	ClosestHit string
}

// Root parameter kinds.
type RootParameterType uint8

const (
	// A constant buffer bound by address.
	RootConstantBufferView RootParameterType = iota

	// A raw shader resource bound by address (e.g. a top-level
	// acceleration structure).
	RootShaderResourceView

	// A range of descriptors in the bound descriptor heap.
	RootDescriptorTable
)

// A root parameter.
type RootParameter struct {
	Type RootParameterType

	// Number of descriptors for descriptor tables.
	NumDescriptors uint32
}

// A root signature describes the arguments bound with the SetRoot* calls.
type RootSignature struct {
	name   string
	params []RootParameter
}

// Create a root signature.
func (c *Context) CreateRootSignature(name string, params ...RootParameter) (*RootSignature, error) {
	for idx, param := range params {
		if param.Type == RootDescriptorTable && param.NumDescriptors == 0 {
			return nil, fmt.Errorf("device (%s): root signature %s: parameter %d: empty descriptor table: %w", c.name, name, idx, ErrInvalidRootArgument)
		}
	}
	return &RootSignature{name: name, params: append([]RootParameter(nil), params...)}, nil
}

// Get the number of parameters.
func (rs *RootSignature) NumParameters() int {
	return len(rs.params)
}

// Pipeline creation description.
type PipelineDesc struct {
	Name      string
	Library   *Library
	HitGroups []HitGroup

	GlobalRootSignature *RootSignature

	// Size in bytes of the local arguments following the identifier of
	// records that reference each hit group.
	HitGroupLocalArgsSize map[string]uint32

	MaxTraceRecursionDepth uint32
}

// A ray tracing pipeline.
type PipelineState struct {
	name string

	rootSignature  *RootSignature
	maxRecursion   uint32
	identifiers    map[string]ShaderIdentifier
	byIdentifier   map[ShaderIdentifier]*shaderEntry
	localArgsSizes map[string]uint32
}

type shaderEntry struct {
	name   string
	stage  ShaderStage
	export *export

	localArgsSize uint32
}

// Create a ray tracing pipeline. Every export of the library that is not
// referenced by a hit group becomes directly addressable by its name.
func (c *Context) CreatePipelineState(desc PipelineDesc) (*PipelineState, error) {
	if desc.Library == nil {
		return nil, fmt.Errorf("device (%s): pipeline %s: no library: %w", c.name, desc.Name, ErrUnknownExport)
	}
	if desc.MaxTraceRecursionDepth == 0 || desc.MaxTraceRecursionDepth > MaxTraceRecursionDepth {
		return nil, fmt.Errorf("device (%s): pipeline %s: max recursion depth must be in [1, %d]; got %d", c.name, desc.Name, MaxTraceRecursionDepth, desc.MaxTraceRecursionDepth)
	}

	ps := &PipelineState{
		name:           desc.Name,
		rootSignature:  desc.GlobalRootSignature,
		maxRecursion:   desc.MaxTraceRecursionDepth,
		identifiers:    make(map[string]ShaderIdentifier),
		byIdentifier:   make(map[ShaderIdentifier]*shaderEntry),
		localArgsSizes: make(map[string]uint32),
	}

	hitGroupMembers := make(map[string]bool)
	for _, hg := range desc.HitGroups {
		exp, ok := desc.Library.exports[hg.ClosestHit]
		if !ok || exp.stage != ClosestHitStage {
			return nil, fmt.Errorf("device (%s): pipeline %s: hit group %s: closest hit %q: %w", c.name, desc.Name, hg.Name, hg.ClosestHit, ErrUnknownExport)
		}
		hitGroupMembers[hg.ClosestHit] = true
		ps.add(desc.Library, hg.Name, ClosestHitStage, exp, desc.HitGroupLocalArgsSize[hg.Name])
	}

	for _, name := range desc.Library.Exports() {
		exp := desc.Library.exports[name]
		if exp.stage == ClosestHitStage {
			if !hitGroupMembers[name] {
				c.logger.Warningf("pipeline %s: closest hit export %s is not part of any hit group", desc.Name, name)
			}
			continue
		}
		ps.add(desc.Library, name, exp.stage, exp, 0)
	}

	c.logger.Debugf("created pipeline %s with %d shader identifiers", desc.Name, len(ps.identifiers))
	return ps, nil
}

func (ps *PipelineState) add(lib *Library, name string, stage ShaderStage, exp *export, localArgs uint32) {
	id := ShaderIdentifier(sha256.Sum256([]byte(lib.name + "/" + name)))
	ps.identifiers[name] = id
	ps.byIdentifier[id] = &shaderEntry{name: name, stage: stage, export: exp, localArgsSize: localArgs}
	ps.localArgsSizes[name] = localArgs
}

// Get the identifier of a ray generation or miss export or a hit group.
func (ps *PipelineState) ShaderIdentifier(name string) (ShaderIdentifier, error) {
	id, ok := ps.identifiers[name]
	if !ok {
		return ShaderIdentifier{}, fmt.Errorf("device: pipeline %s: %q: %w", ps.name, name, ErrUnknownExport)
	}
	return id, nil
}

// Get the size of the local arguments declared for a hit group.
func (ps *PipelineState) LocalArgsSize(name string) uint32 {
	return ps.localArgsSizes[name]
}

// Get the pipeline's global root signature.
func (ps *PipelineState) RootSignature() *RootSignature {
	return ps.rootSignature
}

func (ps *PipelineState) lookup(id ShaderIdentifier, stage ShaderStage) (*shaderEntry, error) {
	entry, ok := ps.byIdentifier[id]
	if !ok || entry.stage != stage {
		return nil, fmt.Errorf("%s record: %w", stage, ErrUnknownIdentifier)
	}
	return entry, nil
}

// Bind a pipeline for subsequent dispatches.
func (cl *CommandList) SetPipelineState(ps *PipelineState) error {
	if err := cl.checkRecording(); err != nil {
		return err
	}
	cl.pipeline = ps
	return nil
}

package xdp

import (
	"fmt"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/btf"
)

// Program is a handle to one component program in a chain: its load
// state, identity, run-config metadata, and the kernel descriptors it
// owns. It corresponds one-to-one with the original's struct
// xdp_program.
//
// Exactly one of the underlying collection spec or a loaded program fd
// is meaningful for a usable handle; both may be populated after Load.
type Program struct {
	name string

	collSpec     *ebpf.CollectionSpec // set when built from an unloaded object
	collOpts     *ebpf.CollectionOptions
	spec         *ebpf.ProgramSpec
	ownsObject   bool // true unless the caller supplied the collection spec
	externalColl bool // true when collSpec was handed in by the caller

	btfSpec *btf.Spec // borrowed from collSpec.Types, or a kernel spec for FromLoadedID

	prog     *ebpf.Program // set once loaded
	progID   uint32
	tag      string
	loadedAt time.Time

	attachLink interface{ Close() error } // set once composed into a dispatcher slot
	pinPath    string

	runPriority   uint32
	chainCallMask ChainCallMask
}

// New allocates a Program handle with sentinel descriptors and default
// priority/mask. Most callers use FromObject/FromFile/FromLoadedID
// instead; New is exposed for callers assembling a handle around a
// program they will attach manually.
func New() *Program {
	return &Program{
		runPriority:   DefaultPriority,
		chainCallMask: DefaultChainMask,
	}
}

// FromObject binds a handle to a program inside an already-open
// collection spec. If progName is empty, one program of the spec is
// used; spec.Programs is a map, so when the spec holds more than one
// program which of them is picked is not defined (declaration order is
// not consulted). If external is true, the caller retains ownership of
// spec.
//
// The program's BTF-encoded run config is parsed and applied; a missing
// ".xdp_run_config" section (KindNotFound) is tolerated and leaves the
// handle at its default priority/mask, matching the original's treatment
// of -ENOENT from xdp_parse_run_config as non-fatal.
func FromObject(spec *ebpf.CollectionSpec, progName string, external bool) (*Program, error) {
	const op = "xdp.FromObject"

	var progSpec *ebpf.ProgramSpec
	if progName != "" {
		ps, ok := spec.Programs[progName]
		if !ok {
			return nil, newErr(op, KindNotFound, fmt.Errorf("program %q not found in object", progName))
		}
		progSpec = ps
	} else {
		for _, ps := range spec.Programs {
			progSpec = ps
			break
		}
		if progSpec == nil {
			return nil, newErr(op, KindNotFound, fmt.Errorf("object contains no programs"))
		}
	}

	p := New()
	p.name = progSpec.Name
	p.collSpec = spec
	p.spec = progSpec
	p.ownsObject = !external
	p.externalColl = external
	p.btfSpec = spec.Types

	if err := p.parseRunConfig(); err != nil && !Is(err, KindNotFound) {
		return nil, err
	}

	return p, nil
}

// FromFile opens an object file via cilium/ebpf and delegates to
// FromObject with external=false: the returned handle owns the
// underlying collection spec.
func FromFile(path, progName string, opts *ebpf.CollectionOptions) (*Program, error) {
	const op = "xdp.FromFile"

	spec, err := ebpf.LoadCollectionSpec(path)
	if err != nil {
		return nil, newErr(op, KindIOError, fmt.Errorf("load collection spec from %s: %w", path, err))
	}

	p, err := FromObject(spec, progName, false)
	if err != nil {
		return nil, err
	}
	p.collOpts = opts
	return p, nil
}

// FromLoadedID resolves a kernel program id to a handle: it queries the
// kernel for name, tag, load time, and BTF id, fetches BTF by id when
// available, then parses the run config exactly as FromObject does. Any
// failure other than a missing run-config section propagates.
func FromLoadedID(id uint32) (*Program, error) {
	const op = "xdp.FromLoadedID"

	prog, err := ebpf.NewProgramFromID(ebpf.ProgramID(id))
	if err != nil {
		return nil, newErr(op, KindNotFound, fmt.Errorf("program id %d: %w", id, err))
	}

	info, err := prog.Info()
	if err != nil {
		prog.Close()
		return nil, newErr(op, KindIOError, fmt.Errorf("get info for program %d: %w", id, err))
	}

	p := New()
	p.name = info.Name
	p.prog = prog
	p.progID = id
	p.tag = info.Tag
	if lt, ok := info.LoadTime(); ok {
		p.loadedAt = bootTime().Add(lt)
	}

	if btfID, ok := info.BTFID(); ok && btfID != 0 {
		// Best effort: BTF that cannot be fetched leaves btfSpec
		// unset, which parseRunConfig reports as KindNotFound.
		if h, err := btf.NewHandleFromID(btfID); err == nil {
			spec, err := h.Spec(nil)
			h.Close()
			if err == nil {
				p.btfSpec = spec
			}
		}
	}

	if err := p.parseRunConfig(); err != nil && !Is(err, KindNotFound) {
		prog.Close()
		return nil, err
	}

	return p, nil
}

// Name returns the program's symbol name.
func (p *Program) Name() string { return p.name }

// RunPriority returns the handle's run priority.
func (p *Program) RunPriority() uint32 { return p.runPriority }

// SetRunPriority overrides the run priority, independent of what (if
// anything) the BTF run config declared. Grounded on the original's
// xdp_program__set_run_prio.
func (p *Program) SetRunPriority(prio uint32) { p.runPriority = prio }

// ChainCallMask returns the handle's chain-call mask.
func (p *Program) ChainCallMask() ChainCallMask { return p.chainCallMask }

// ChainCallEnabled reports whether the chain continues past this program
// on the given action.
func (p *Program) ChainCallEnabled(a Action) bool { return p.chainCallMask.Enabled(a) }

// SetChainCallEnabled overrides a single action's continuation bit.
// Grounded on the original's xdp_program__set_chain_call_enabled.
func (p *Program) SetChainCallEnabled(a Action, enabled bool) {
	p.chainCallMask = p.chainCallMask.WithAction(a, enabled)
}

// ChainCallActionNames renders the enabled actions as their textual
// names, grounded on the original's xdp_program__print_chain_call_actions.
func (p *Program) ChainCallActionNames() []string { return p.chainCallMask.Names() }

// Loaded reports whether the handle has a kernel program fd.
func (p *Program) Loaded() bool { return p.prog != nil }

// Tag returns the 8-byte content digest the kernel reported for a
// loaded program, hex-encoded. Empty if not yet loaded.
func (p *Program) Tag() string { return p.tag }

// LoadedAt returns the load time the kernel reported, converted from
// time-since-boot to wall-clock time using the system boot time. Zero if
// not yet loaded.
func (p *Program) LoadedAt() time.Time { return p.loadedAt }

// KernelID returns the kernel program id. Zero if not yet loaded.
func (p *Program) KernelID() uint32 { return p.progID }

// PinPath returns the path attach_fd is pinned at, or "" if unpinned.
func (p *Program) PinPath() string { return p.pinPath }

// Size returns the number of instructions in the unloaded program, used
// by the canonical comparator's tie-break on program size. Returns 0 for
// a handle with no unloaded object bound (e.g. one built via
// FromLoadedID).
func (p *Program) Size() int {
	if p.spec == nil {
		return 0
	}
	return len(p.spec.Instructions)
}

// KernelProgram returns the underlying cilium/ebpf program once loaded,
// or nil. Used by the Chain Composer to set attach targets and by the
// Installer to attach to an interface.
func (p *Program) KernelProgram() *ebpf.Program { return p.prog }

// Load loads the handle's bound object into the kernel as a standalone
// program (i.e. not yet composed as an extension). Preconditions: the
// handle has an unloaded spec and is not already loaded.
func (p *Program) Load() error {
	const op = "xdp.Program.Load"

	if p.prog != nil {
		return newErr(op, KindInvalidState, fmt.Errorf("program %q already loaded", p.name))
	}
	if p.spec == nil {
		return newErr(op, KindInvalidState, fmt.Errorf("program %q has no object to load", p.name))
	}

	prog, err := ebpf.NewProgram(p.spec)
	if err != nil {
		return newErr(op, KindIOError, fmt.Errorf("load program %q: %w", p.name, err))
	}
	p.prog = prog

	return p.refreshFromKernel()
}

// loadAsExtension loads the handle's bound spec as a BPF_PROG_TYPE_EXT
// program attached to the given dispatcher slot. Used exclusively by the
// Chain Composer (compose step 5); ordinary callers use Load.
func (p *Program) loadAsExtension(target *ebpf.Program, slot string) error {
	const op = "xdp.Program.loadAsExtension"

	if p.prog != nil {
		return newErr(op, KindInvalidState, fmt.Errorf("program %q already loaded", p.name))
	}
	if p.spec == nil {
		return newErr(op, KindInvalidState, fmt.Errorf("program %q has no object to load", p.name))
	}

	extSpec := p.spec.Copy()
	extSpec.Type = ebpf.Extension
	extSpec.AttachTarget = target
	extSpec.AttachTo = slot

	prog, err := ebpf.NewProgram(extSpec)
	if err != nil {
		return newErr(op, KindIOError, fmt.Errorf("load extension %q at %s: %w", p.name, slot, err))
	}
	p.prog = prog

	return p.refreshFromKernel()
}

func (p *Program) refreshFromKernel() error {
	const op = "xdp.Program.refreshFromKernel"

	info, err := p.prog.Info()
	if err != nil {
		return newErr(op, KindIOError, fmt.Errorf("get program info: %w", err))
	}
	id, ok := info.ID()
	if !ok {
		return newErr(op, KindIOError, fmt.Errorf("program id unavailable from kernel"))
	}
	p.progID = uint32(id)
	p.tag = info.Tag
	if lt, ok := info.LoadTime(); ok {
		p.loadedAt = bootTime().Add(lt)
	}
	if p.name == "" {
		p.name = info.Name
	}
	return nil
}

// Close releases attach_fd then program_fd (ignoring close errors, as
// the spec directs). The bound collection spec and BTF hold no kernel
// descriptors, so nothing further is released for them, whether or not
// the handle owns its object. Safe to call multiple times and on a
// zero-value-adjacent handle; every descriptor tolerates the unset/nil
// sentinel.
func (p *Program) Close() error {
	if p.attachLink != nil {
		_ = p.attachLink.Close()
		p.attachLink = nil
	}
	if p.prog != nil {
		_ = p.prog.Close()
		p.prog = nil
	}
	return nil
}

package xdp

import (
	"bytes"
	_ "embed"
	"encoding/binary"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
)

// MaxChain is the number of placeholder slots the dispatcher template
// declares (prog0..prog{MaxChain-1}).
const MaxChain = 10

// dispatcherObjectName is the template artifact discoverable by the
// external find_bpf_file helper, per spec.md §6.
const dispatcherObjectName = "xdp-dispatcher.o"

// dispatcherProgramName is the entry symbol in the template.
const dispatcherProgramName = "xdp_dispatcher"

//go:embed xdp-dispatcher.o
var dispatcherTemplate []byte

// dispatcherConfig is the writable data-section schema declared by the
// template, spec.md §3: {num_progs_enabled, chain_call_actions[MaxChain]}.
type dispatcherConfig struct {
	NumProgsEnabled  uint32
	ChainCallActions [MaxChain]uint32
}

// Dispatcher is the result of Compose: the loaded dispatcher program plus
// the extension links grafting each component into its slot. Closing it
// closes the dispatcher program and every extension link; pinning (done
// by the Installer) keeps the bindings alive past that.
type Dispatcher struct {
	Program *ebpf.Program
	coll    *ebpf.Collection
	Links   []interface{ Close() error } // index-aligned with the sorted chain
}

// Close releases the dispatcher's extension links, then the dispatcher
// program and its collection. Component program handles are the
// caller's and are not touched.
func (d *Dispatcher) Close() error {
	for i := len(d.Links) - 1; i >= 0; i-- {
		if d.Links[i] != nil {
			_ = d.Links[i].Close()
		}
	}
	if d.coll != nil {
		d.coll.Close()
	}
	return nil
}

// Compose sorts progs by the canonical comparator, synthesizes a
// dispatcher embedding their chain-call policy, and grafts each sorted
// program into its slot as a function-replacement extension. It
// implements spec.md §4.4 compose(handles[0..n]).
//
// Preconditions: 1 <= len(progs) <= MaxChain. Failure leaves already-
// loaded components as-is; the caller is responsible for destroying
// handles on error, matching the composer's no-rollback contract.
func Compose(progs []*Program) (*Dispatcher, error) {
	const op = "xdp.Compose"

	n := len(progs)
	if n < 1 || n > MaxChain {
		return nil, newErr(op, KindInvalidArg, fmt.Errorf("chain length %d out of range [1, %d]", n, MaxChain))
	}

	sorted := make([]*Program, n)
	copy(sorted, progs)
	Sort(sorted)

	spec, err := ebpf.LoadCollectionSpecFromReader(bytes.NewReader(dispatcherTemplate))
	if err != nil {
		return nil, newErr(op, KindIOError, fmt.Errorf("load dispatcher template: %w", err))
	}

	rodata, ok := spec.Maps[".rodata"]
	if !ok {
		return nil, newErr(op, KindMalformed, fmt.Errorf("dispatcher template missing .rodata map"))
	}

	cfg := dispatcherConfig{NumProgsEnabled: uint32(n)}
	for i, p := range sorted {
		cfg.ChainCallActions[i] = uint32(p.chainCallMask)
	}

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, cfg); err != nil {
		return nil, newErr(op, KindMalformed, fmt.Errorf("serialize dispatcher config: %w", err))
	}
	if uint32(buf.Len()) > rodata.ValueSize {
		return nil, newErr(op, KindMalformed, fmt.Errorf("dispatcher config size %d exceeds rodata capacity", buf.Len()))
	}
	rodata.Contents = []ebpf.MapKV{{Key: uint32(0), Value: buf.Bytes()}}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, newErr(op, KindIOError, fmt.Errorf("load dispatcher collection: %w", err))
	}

	dispProg := coll.Programs[dispatcherProgramName]
	if dispProg == nil {
		coll.Close()
		return nil, newErr(op, KindMalformed, fmt.Errorf("dispatcher template missing program %q", dispatcherProgramName))
	}

	d := &Dispatcher{Program: dispProg, coll: coll, Links: make([]interface{ Close() error }, n)}

	for i, p := range sorted {
		slot := SlotName(i)
		if err := p.loadAsExtension(dispProg, slot); err != nil {
			d.Close()
			return nil, err
		}

		lnk, err := attachExtension(dispProg, i, p.prog)
		if err != nil {
			d.Close()
			return nil, err
		}
		p.attachLink = lnk
		d.Links[i] = lnk
	}

	return d, nil
}

// SlotName returns the placeholder function name for a dispatcher slot,
// the freplace target symbol inside the dispatcher template.
func SlotName(position int) string {
	return fmt.Sprintf("prog%d", position)
}

// linkPinName returns the bpffs filename a slot's attach link is pinned
// under, per spec.md §6's "link-prog<i>" layout and the original's
// "%s/link-prog%d" (libxdp.c). Distinct from SlotName: that names the
// freplace target symbol, this names the pin file.
func linkPinName(position int) string {
	return "link-" + SlotName(position)
}

// attachExtension materializes the function-replacement binding between
// a loaded extension program and its dispatcher slot. The returned link
// holds the binding open; closing it detaches the extension.
func attachExtension(dispatcher *ebpf.Program, position int, extension *ebpf.Program) (link.Link, error) {
	const op = "xdp.attachExtension"

	if position < 0 || position >= MaxChain {
		return nil, newErr(op, KindInvalidArg, fmt.Errorf("position %d out of range [0, %d)", position, MaxChain))
	}

	slot := SlotName(position)
	lnk, err := link.AttachFreplace(dispatcher, slot, extension)
	if err != nil {
		return nil, newErr(op, KindIOError, fmt.Errorf("attach extension to %s: %w", slot, err))
	}
	return lnk, nil
}

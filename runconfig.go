package xdp

import (
	"fmt"

	"github.com/cilium/ebpf/btf"
)

// runConfigSection is the BTF datasec name the reader scans for, matching
// the original's XDP_RUN_CONFIG_SEC.
const runConfigSection = ".xdp_run_config"

// parseRunConfig extracts the run config for p from its bound BTF, if
// any, and applies it to p.runPriority/p.chainCallMask. A program with no
// BTF, or BTF lacking a ".xdp_run_config" datasec, or lacking a variable
// named "_<name>", returns a KindNotFound error that callers are expected
// to tolerate (FromObject and FromLoadedID both do). Any other shape
// violation returns KindMalformed or KindNotSupported.
//
// This mirrors xdp_parse_run_config member-for-member: a struct named
// "_<progname>" inside the ".xdp_run_config" datasec, whose members are
// either "priority" or an action name, each encoded as a pointer to an
// array whose element count carries the value.
func (p *Program) parseRunConfig() error {
	const op = "xdp.parseRunConfig"

	if p.btfSpec == nil {
		return newErr(op, KindNotFound, fmt.Errorf("no BTF bound to program %q", p.name))
	}
	if p.name == "" {
		return newErr(op, KindNotFound, fmt.Errorf("program has no name to key run config on"))
	}

	structName := "_" + p.name

	var sec *btf.Datasec
	iter := p.btfSpec.Iterate()
	for iter.Next() {
		ds, ok := iter.Type.(*btf.Datasec)
		if !ok || ds.Name != runConfigSection {
			continue
		}
		sec = ds
		break
	}
	if sec == nil {
		return newErr(op, KindNotFound, fmt.Errorf("datasec %q not found", runConfigSection))
	}

	for _, vsi := range sec.Vars {
		v, ok := vsi.Type.(*btf.Var)
		if !ok || v.Name != structName {
			continue
		}

		if v.Linkage != btf.GlobalVar && v.Linkage != btf.StaticVar {
			return newErr(op, KindNotSupported, fmt.Errorf("struct %q: unsupported var linkage %v", structName, v.Linkage))
		}

		def, ok := skipModsAndTypedefs(v.Type).(*btf.Struct)
		if !ok {
			return newErr(op, KindMalformed, fmt.Errorf("struct %q: expected struct definition", structName))
		}
		if def.Size > uint32(vsi.Size) {
			return newErr(op, KindMalformed, fmt.Errorf("struct %q: definition size %d exceeds section size %d", structName, def.Size, vsi.Size))
		}

		for _, m := range def.Members {
			switch {
			case m.Name == "priority":
				val, err := arrayElemCount(m.Type)
				if err != nil {
					return newErr(op, KindMalformed, fmt.Errorf("struct %q: field %q: %w", structName, m.Name, err))
				}
				p.runPriority = val
			default:
				act, ok := ParseAction(actionMemberName(m.Name))
				if !ok {
					return newErr(op, KindNotSupported, fmt.Errorf("struct %q: unrecognized member %q", structName, m.Name))
				}
				val, err := arrayElemCount(m.Type)
				if err != nil {
					return newErr(op, KindMalformed, fmt.Errorf("struct %q: field %q: %w", structName, m.Name, err))
				}
				p.chainCallMask = p.chainCallMask.WithAction(act, val != 0)
			}
		}
		return nil
	}

	return newErr(op, KindNotFound, fmt.Errorf("run config struct %q not found in %s", structName, runConfigSection))
}

// actionMemberName maps a BTF member name to the textual action name it
// encodes. Run-config structs declare members using the bare action name
// (e.g. "XDP_PASS"), which is already the form ParseAction expects; this
// indirection exists so a future encoding variant has one place to adapt.
func actionMemberName(mname string) string { return mname }

// arrayElemCount resolves a "pointer to array" member type to the
// array's element count, matching get_field_int: the member's declared
// type must be a pointer to an array, and the array's element count
// carries the encoded value.
func arrayElemCount(t btf.Type) (uint32, error) {
	ptr, ok := skipModsAndTypedefs(t).(*btf.Pointer)
	if !ok {
		return 0, fmt.Errorf("expected pointer, got %T", t)
	}
	arr, ok := skipModsAndTypedefs(ptr.Target).(*btf.Array)
	if !ok {
		return 0, fmt.Errorf("expected array, got %T", ptr.Target)
	}
	return arr.Nelems, nil
}

// skipModsAndTypedefs strips cv-qualifiers and typedef aliases, mirroring
// the original's skip_mods_and_typedefs.
func skipModsAndTypedefs(t btf.Type) btf.Type {
	for {
		switch v := t.(type) {
		case *btf.Const:
			t = v.Type
		case *btf.Volatile:
			t = v.Type
		case *btf.Restrict:
			t = v.Type
		case *btf.Typedef:
			t = v.Type
		default:
			return t
		}
	}
}

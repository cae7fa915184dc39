package xdp

import (
	"testing"

	"github.com/cilium/ebpf/btf"
)

func TestSkipModsAndTypedefs(t *testing.T) {
	inner := &btf.Int{Name: "unsigned int", Size: 4}
	wrapped := &btf.Typedef{Name: "myint", Type: &btf.Volatile{Type: &btf.Const{Type: inner}}}

	got := skipModsAndTypedefs(wrapped)
	if got != btf.Type(inner) {
		t.Fatalf("skipModsAndTypedefs did not unwrap to the base type: got %#v", got)
	}
}

func TestArrayElemCount(t *testing.T) {
	elem := &btf.Int{Name: "unsigned int", Size: 4}
	arr := &btf.Array{Type: elem, Nelems: 7}
	ptr := &btf.Pointer{Target: arr}

	n, err := arrayElemCount(ptr)
	if err != nil {
		t.Fatalf("arrayElemCount: %v", err)
	}
	if n != 7 {
		t.Fatalf("arrayElemCount = %d, want 7", n)
	}
}

func TestArrayElemCountRejectsNonPointer(t *testing.T) {
	if _, err := arrayElemCount(&btf.Int{Name: "x", Size: 4}); err == nil {
		t.Fatalf("expected error for non-pointer member type")
	}
}

func TestArrayElemCountRejectsNonArrayTarget(t *testing.T) {
	ptr := &btf.Pointer{Target: &btf.Int{Name: "x", Size: 4}}
	if _, err := arrayElemCount(ptr); err == nil {
		t.Fatalf("expected error for pointer-to-non-array member type")
	}
}

func TestParseRunConfigNoBTFIsNotFound(t *testing.T) {
	p := New()
	p.name = "myprog"

	err := p.parseRunConfig()
	if !Is(err, KindNotFound) {
		t.Fatalf("parseRunConfig with no BTF: got %v, want KindNotFound", err)
	}
}

func TestActionMemberNameMapsToActions(t *testing.T) {
	// Exercises the member-name-to-action mapping and malformed-member
	// detection without needing a full *btf.Spec (construction of which
	// requires a compiled BPF object; see dispatcher_test.go for the
	// root-gated end-to-end path). These two helpers are where the
	// member-shape decoding actually happens.
	if _, ok := ParseAction(actionMemberName("XDP_PASS")); !ok {
		t.Fatalf("actionMemberName(XDP_PASS) should map to a recognized action")
	}
	if _, ok := ParseAction(actionMemberName("bogus")); ok {
		t.Fatalf("actionMemberName(bogus) should not map to a recognized action")
	}
}

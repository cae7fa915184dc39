package mount

import "testing"

func TestIsValidMountpointRejectsNonBPFFS(t *testing.T) {
	// A regular tmp directory is never bpffs-backed.
	if isValidMountpoint(t.TempDir()) {
		t.Fatalf("tmp dir should not validate as a bpf filesystem mount")
	}
}

func TestIsValidMountpointRejectsMissingPath(t *testing.T) {
	if isValidMountpoint("/does/not/exist/at/all") {
		t.Fatalf("missing path should not validate")
	}
}

func TestFindRootFailsWithoutABPFMount(t *testing.T) {
	resetForTest()
	t.Setenv(EnvVar, t.TempDir())

	if _, err := FindRoot(); err == nil {
		t.Fatalf("FindRoot should fail when XDP_BPFFS points at a non-bpf directory")
	}
	resetForTest()
}

func TestFindRootIsMemoized(t *testing.T) {
	resetForTest()
	t.Setenv(EnvVar, t.TempDir())

	_, err1 := FindRoot()
	_, err2 := FindRoot()
	if err1 == nil || err2 == nil {
		t.Fatalf("expected both calls to fail consistently against a non-bpf directory")
	}
	if err1.Error() != err2.Error() {
		t.Fatalf("memoized FindRoot should return the same error both times: %v != %v", err1, err2)
	}
	resetForTest()
}

func TestManagedDirPropagatesFindRootFailure(t *testing.T) {
	resetForTest()
	t.Setenv(EnvVar, t.TempDir())

	if _, err := ManagedDir(); err == nil {
		t.Fatalf("ManagedDir should fail when FindRoot fails")
	}
	resetForTest()
}

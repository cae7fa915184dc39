package xdp

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"golang.org/x/sys/unix"

	"github.com/frobware/go-xdp/lock"
	"github.com/frobware/go-xdp/logging"
	"github.com/frobware/go-xdp/mount"
)

// logger is the component logger for the installer, configurable via the
// XDP_LOG environment variable (logging.EnvVar). Falls back to
// slog.Default() if the spec fails to parse, matching the teacher's own
// kernelAdapter default.
var logger = func() *slog.Logger {
	l, err := logging.FromEnv()
	if err != nil {
		l = slog.Default()
	}
	return l.With("component", "install")
}()

// AttachMode selects the kernel attach mode for an interface, spec.md
// §4.5. UNSPEC sends no mode flag, matching the original's XDP_MODE_UNSPEC.
type AttachMode int

const (
	ModeUnspec AttachMode = iota
	ModeSKB
	ModeNative
	ModeHW
)

func (m AttachMode) flags() link.XDPAttachFlags {
	switch m {
	case ModeSKB:
		return link.XDPGenericMode
	case ModeNative:
		return link.XDPDriverMode
	case ModeHW:
		return link.XDPOffloadMode
	default:
		return 0
	}
}

// installed tracks the link this process holds per interface, so a
// force-replace can detach it before retrying. cilium/ebpf's bpf_link
// based XDP attach has no raw "set fd -1" equivalent to the original's
// netlink-based bpf_set_link_xdp_fd; a link can only be torn down by
// closing the Link value that created it, so replacement across modes
// is only possible for attachments this process itself made.
var installed = struct {
	mu sync.Mutex
	m  map[int]link.Link
}{m: map[int]link.Link{}}

// Attach composes (if n>1) or loads (if n==1) the given programs and
// installs the result on ifindex, implementing spec.md §4.5 attach.
// Programs must be released by the caller via Close once no longer
// needed; Attach does not take ownership of them.
func Attach(progs []*Program, ifindex int, force bool, mode AttachMode) (*ebpf.Program, error) {
	const op = "xdp.Attach"

	n := len(progs)
	if n < 1 {
		return nil, newErr(op, KindInvalidArg, fmt.Errorf("attach requires at least one program"))
	}

	var target *ebpf.Program

	if n > 1 {
		d, err := Compose(progs)
		if err != nil {
			return nil, err
		}
		target = d.Program

		if err := pinDispatcher(d.Program, progs); err != nil {
			return nil, err
		}
	} else {
		p := progs[0]
		if !p.Loaded() {
			if err := p.Load(); err != nil {
				return nil, err
			}
		}
		target = p.prog
	}

	logger.Debug("attaching program", "ifindex", ifindex, "force", force, "mode", mode)

	lnk, err := link.AttachXDP(link.XDPOptions{
		Program:   target,
		Interface: ifindex,
		Flags:     mode.flags(),
	})
	if err != nil {
		// Only an occupied-slot failure is recoverable by detaching
		// and retrying; anything else (e.g. EOPNOTSUPP for a mode the
		// driver doesn't support) will fail identically on retry, per
		// the original's own guard (libxdp.c: only -EEXIST retries).
		if !force || !(errors.Is(err, unix.EBUSY) || errors.Is(err, unix.EEXIST)) {
			return nil, attachDiagnostic(op, err)
		}
		// The existing attachment (ours from an earlier Attach call,
		// or another process's) occupies an incompatible slot.
		// Replay the original's recovery: drop whatever this
		// process holds for the interface and retry once, matching
		// §4.5 step 6's intent even though the underlying mechanism
		// differs from the netlink flag-flip the original uses.
		logger.Debug("attach occupied, detaching owned link and retrying", "ifindex", ifindex, "error", err)
		detachOwned(ifindex)
		lnk, err = link.AttachXDP(link.XDPOptions{
			Program:   target,
			Interface: ifindex,
			Flags:     mode.flags(),
		})
		if err != nil {
			return nil, attachDiagnostic(op, err)
		}
	}

	installed.mu.Lock()
	installed.m[ifindex] = lnk
	installed.mu.Unlock()

	logger.Debug("attach complete", "ifindex", ifindex)

	return target, nil
}

// detachOwned closes and forgets the link this process holds for
// ifindex, if any.
func detachOwned(ifindex int) {
	installed.mu.Lock()
	lnk := installed.m[ifindex]
	delete(installed.m, ifindex)
	installed.mu.Unlock()
	if lnk != nil {
		_ = lnk.Close()
	}
}

// attachDiagnostic matches spec.md §7's well-known single-line
// diagnostics for common kernel failures, without discarding the
// underlying error.
func attachDiagnostic(op string, err error) error {
	switch {
	case errors.Is(err, unix.EBUSY), errors.Is(err, unix.EEXIST):
		return newErr(op, KindAlreadyExists, fmt.Errorf("program already loaded; use force: %w", err))
	case errors.Is(err, unix.EOPNOTSUPP):
		return newErr(op, KindNotSupported, fmt.Errorf("native unsupported; try SKB: %w", err))
	default:
		return newErr(op, KindIOError, fmt.Errorf("error attaching XDP program: %w", err))
	}
}

// pinDispatcher implements spec.md §4.5 pin(disp_fd, progs): resolve the
// managed directory, acquire the lock, create <managed>/dispatch-<id>,
// and pin each component's attach link under it. Any per-component
// failure unwinds the pins created so far before releasing the lock.
func pinDispatcher(dispatcher *ebpf.Program, progs []*Program) error {
	const op = "xdp.pin"

	managed, err := mount.ManagedDir()
	if err != nil {
		return newErr(op, KindNotFound, err)
	}

	info, err := dispatcher.Info()
	if err != nil {
		return newErr(op, KindIOError, fmt.Errorf("get dispatcher info: %w", err))
	}
	id, ok := info.ID()
	if !ok {
		return newErr(op, KindIOError, fmt.Errorf("dispatcher id unavailable"))
	}

	guard, err := lock.Acquire(managed)
	if err != nil {
		return newErr(op, KindIOError, err)
	}
	defer guard.Release()

	pinPath := filepath.Join(managed, fmt.Sprintf("dispatch-%d", id))
	if err := os.Mkdir(pinPath, 0700); err != nil && !os.IsExist(err) {
		return newErr(op, KindIOError, fmt.Errorf("create pin dir %s: %w", pinPath, err))
	}

	sorted := make([]*Program, len(progs))
	copy(sorted, progs)
	Sort(sorted)

	logger.Debug("pinning dispatcher", "id", id, "path", pinPath, "programs", len(sorted))

	for i, p := range sorted {
		if p.attachLink == nil {
			unpinPartial(sorted, i)
			return newErr(op, KindInvalidState, fmt.Errorf("program %q has no attach link", p.name))
		}
		linkPath := filepath.Join(pinPath, linkPinName(i))
		pinner, ok := p.attachLink.(interface{ Pin(string) error })
		if !ok {
			unpinPartial(sorted, i)
			return newErr(op, KindNotSupported, fmt.Errorf("program %q attach link does not support pinning", p.name))
		}
		if err := pinner.Pin(linkPath); err != nil {
			unpinPartial(sorted, i)
			return newErr(op, KindIOError, fmt.Errorf("pin %s: %w", linkPath, err))
		}
		p.pinPath = linkPath
		logger.Debug("pinned program link", "name", p.name, "path", linkPath)
	}

	return nil
}

// unpinPartial unlinks the pins produced for sorted[0:upto], clearing
// pin_path on each, mirroring pin_multiprog's err_unpin rollback. A
// failed unlink is a recoverable cleanup failure, not a fatal one: it's
// logged and the rollback continues, matching the teacher's "failed to
// remove ... during cleanup" convention.
func unpinPartial(sorted []*Program, upto int) {
	for i := upto - 1; i >= 0; i-- {
		p := sorted[i]
		if p.pinPath == "" {
			continue
		}
		if err := os.Remove(p.pinPath); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove program pin during cleanup", "path", p.pinPath, "error", err)
		}
		p.pinPath = ""
	}
}

// Detach implements spec.md §4.5 detach(disp_fd): acquire the lock,
// compute pin_path from the dispatcher id, unlink every entry, then
// rmdir. A missing directory is treated as KindNotFound, the reference
// behavior spec.md §9 calls out explicitly.
func Detach(dispatcher *ebpf.Program) error {
	const op = "xdp.Detach"

	managed, err := mount.ManagedDir()
	if err != nil {
		return newErr(op, KindNotFound, err)
	}

	info, err := dispatcher.Info()
	if err != nil {
		return newErr(op, KindIOError, fmt.Errorf("get dispatcher info: %w", err))
	}
	id, ok := info.ID()
	if !ok {
		return newErr(op, KindIOError, fmt.Errorf("dispatcher id unavailable"))
	}

	guard, err := lock.Acquire(managed)
	if err != nil {
		return newErr(op, KindIOError, err)
	}
	defer guard.Release()

	pinPath := filepath.Join(managed, fmt.Sprintf("dispatch-%d", id))

	logger.Debug("detaching dispatcher", "id", id, "path", pinPath)

	entries, err := os.ReadDir(pinPath)
	if err != nil {
		if os.IsNotExist(err) {
			return newErr(op, KindNotFound, err)
		}
		return newErr(op, KindIOError, fmt.Errorf("read %s: %w", pinPath, err))
	}

	for _, e := range entries {
		p := filepath.Join(pinPath, e.Name())
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return newErr(op, KindIOError, fmt.Errorf("unlink %s: %w", p, err))
		}
	}
	if err := os.Remove(pinPath); err != nil && !os.IsNotExist(err) {
		return newErr(op, KindIOError, fmt.Errorf("rmdir %s: %w", pinPath, err))
	}

	return nil
}

// Query returns the component handle(s) currently installed on ifindex,
// implementing spec.md §4.5's enumerate-from-interface. Dispatcher-
// decomposition (recovering a full chain from a pinned dispatcher) is
// unimplemented per spec.md §9 open questions; when the attached
// program is a dispatcher, Query returns the single handle for the
// dispatcher program itself rather than its component chain. Only
// attachments made by Attach in this process are found; the kernel is
// not queried, and any other ifindex yields KindNotFound.
func Query(ifindex int) ([]*Program, error) {
	const op = "xdp.Query"

	installed.mu.Lock()
	lnk := installed.m[ifindex]
	installed.mu.Unlock()
	if lnk == nil {
		return nil, newErr(op, KindNotFound, fmt.Errorf("no program attached to ifindex %d by this process", ifindex))
	}

	info, err := lnk.Info()
	if err != nil {
		return nil, newErr(op, KindIOError, fmt.Errorf("get link info: %w", err))
	}

	p, err := FromLoadedID(uint32(info.Program))
	if err != nil {
		return nil, err
	}
	return []*Program{p}, nil
}

// AttachProgram is the single-program convenience insert described in
// spec.md §9: "doesn't really work" pending kernel support for
// re-attaching an already-loaded freplace program into a fresh
// dispatcher. It is exposed for API completeness and always returns
// KindNotSupported.
func AttachProgram(prog *Program, ifindex int, replace bool, mode AttachMode) error {
	const op = "xdp.AttachProgram"
	return newErr(op, KindNotSupported, fmt.Errorf("attaching a single program into an existing chain requires kernel support this library does not have"))
}

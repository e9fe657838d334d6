// Package orchestrator implements the Session (C6): detect, read-to-buffer,
// program-from-buffer, verify, blank-check, with progress and cancellation,
// sequencing the protocol engines (C2/C3/C4) against an open adapter.Adapter
// and a chipdb.Database.
package orchestrator

import (
	"context"
	"sync"

	"github.com/flashprog/flashprog/adapter"
	"github.com/flashprog/flashprog/chipdb"
	"github.com/flashprog/flashprog/i2cengine"
	"github.com/flashprog/flashprog/mwengine"
	"github.com/flashprog/flashprog/progctl"
	"github.com/flashprog/flashprog/spiengine"
)

// EraseKind selects the granularity of an Erase call.
type EraseKind int

const (
	EraseChip EraseKind = iota
	EraseBlock
	EraseSector
	EraseRange
)

// Session owns at most one open adapter and at most one active protocol
// engine bound to it, per distilled spec §3. Operations are strictly
// serialized: issuing a second op while one is Running fails with Busy.
type Session struct {
	mu sync.Mutex

	a      adapter.Adapter
	db     *chipdb.Database
	engine protocolEngine
	desc   chipdb.Descriptor

	running bool
	cancel  context.CancelFunc

	Status progctl.Sink
}

// NewSession returns a Session backed by db for chip lookup. db may be
// shared across sessions; it is read-mostly per distilled spec §5.
func NewSession(db *chipdb.Database) *Session {
	return &Session{db: db}
}

// Connect opens a on the device at path (or index 0 if empty) and binds
// this Session to it.
func (s *Session) Connect(ctx context.Context, a adapter.Adapter, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.a != nil && s.a.IsConnected() {
		return progctl.New(progctl.KindBusy, "orchestrator: session already connected")
	}
	if err := a.Open(ctx, path); err != nil {
		return progctl.Wrap(progctl.KindIO, "orchestrator: adapter open failed", err)
	}
	s.a = a
	s.engine = nil
	return nil
}

// Disconnect tears down the active protocol engine, clears the chip
// selection, and closes the adapter. Idempotent.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = nil
	if s.a == nil {
		return nil
	}
	err := s.a.Close()
	s.a = nil
	if err != nil {
		return progctl.Wrap(progctl.KindIO, "orchestrator: adapter close failed", err)
	}
	return nil
}

// beginOp enforces single-flight serialization and returns a context
// carrying this operation's cancellation token plus a finish func that must
// be deferred to release the Running lock and emit the terminal status.
func (s *Session) beginOp(ctx context.Context) (context.Context, func(*error), error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, nil, progctl.New(progctl.KindBusy, "orchestrator: operation already running")
	}
	if s.a == nil || !s.a.IsConnected() {
		s.mu.Unlock()
		return nil, nil, progctl.New(progctl.KindNotConnected, "orchestrator: no adapter connected")
	}
	s.running = true
	opCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.Status.EmitStatus(progctl.StatusRunning)
	finish := func(errp *error) {
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
		switch {
		case errp == nil || *errp == nil:
			s.Status.EmitStatus(progctl.StatusCompleted)
		case progctl.KindOf(*errp) == progctl.KindCancelled:
			s.Status.EmitStatus(progctl.StatusCancelled)
		default:
			s.Status.EmitStatus(progctl.StatusFailed)
		}
	}
	return opCtx, finish, nil
}

// CancelOperation trips the current operation's cancellation token; the
// next suspension point in the active engine observes it.
func (s *Session) CancelOperation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Detect picks the engine for protocol, issues its detect primitive, and
// looks up the resulting MemoryId in the chip database. An unrecognized id
// is still returned to the caller alongside the UnknownChip error for UI
// display, per distilled spec §4.6.
func (s *Session) Detect(ctx context.Context, protocol chipdb.Protocol, hint chipdb.Descriptor) (chipdb.Descriptor, error) {
	opCtx, finish, err := s.beginOp(ctx)
	if err != nil {
		return chipdb.Descriptor{}, err
	}
	var retErr error
	defer finish(&retErr)

	var id chipdb.MemoryId
	switch protocol {
	case chipdb.ProtocolSPI:
		eng := spiengine.New(s.a, hint)
		id, retErr = eng.Detect(opCtx)
	case chipdb.ProtocolI2C:
		retErr = progctl.New(progctl.KindUnsupportedOperation, "orchestrator: I2C EEPROM has no generic detect primitive")
		return chipdb.Descriptor{}, retErr
	case chipdb.ProtocolMicroWire:
		retErr = progctl.New(progctl.KindUnsupportedOperation, "orchestrator: MicroWire EEPROM has no generic detect primitive")
		return chipdb.Descriptor{}, retErr
	default:
		retErr = progctl.New(progctl.KindInvalidArgument, "orchestrator: unknown protocol")
		return chipdb.Descriptor{}, retErr
	}
	if retErr != nil {
		return chipdb.Descriptor{}, retErr
	}
	desc, ok := s.db.FindByMemoryID(id)
	if !ok {
		retErr = progctl.WrapUnknownChip(id)
		return chipdb.Descriptor{ID: "", MemoryID: id}, retErr
	}
	s.mu.Lock()
	s.desc = desc
	s.engine = spiShim{spiengine.New(s.a, desc)}
	s.mu.Unlock()
	return desc, nil
}

// BindChip skips detection and binds the Session directly to desc, the way
// a UI that already knows the chip (from a prior scan, or user selection)
// would. The matching engine is selected from desc.Protocol.
func (s *Session) BindChip(ctx context.Context, desc chipdb.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.a == nil || !s.a.IsConnected() {
		return progctl.New(progctl.KindNotConnected, "orchestrator: no adapter connected")
	}
	switch desc.Protocol {
	case chipdb.ProtocolSPI:
		s.engine = spiShim{spiengine.New(s.a, desc)}
	case chipdb.ProtocolI2C:
		addr := desc.I2CAddress
		if addr == 0 {
			addr = 0x50
		}
		s.engine = i2cShim{i2cengine.New(s.a, desc, addr)}
	case chipdb.ProtocolMicroWire:
		eng, err := mwengine.New(ctx, s.a, desc)
		if err != nil {
			return err
		}
		s.engine = mwShim{eng}
	default:
		return progctl.New(progctl.KindInvalidArgument, "orchestrator: unknown protocol")
	}
	s.desc = desc
	return nil
}

func (s *Session) boundEngine() (protocolEngine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return nil, progctl.New(progctl.KindNotConnected, "orchestrator: no chip bound; call Detect or BindChip first")
	}
	return s.engine, nil
}

// Capabilities reports the hardware capabilities of the connected adapter.
func (s *Session) Capabilities() (adapter.Capabilities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.a == nil {
		return adapter.Capabilities{}, progctl.New(progctl.KindNotConnected, "orchestrator: no adapter connected")
	}
	return s.a.Capabilities(), nil
}

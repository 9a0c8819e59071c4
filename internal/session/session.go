// Package session implements Session & VFO State (C7): a thread-safe
// in-memory model of attached sessions and their VFOs, whose mutations
// emit diff events consumed by the lifecycle manager (C8).
//
// Map-based registries guarded by a single mutex, uuid.New() session
// identity, read-mostly access pattern (observers consult state every
// block).
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mode is a demodulator mode, or "none" for an inactive VFO.
type Mode string

const ModeNone Mode = "none"

// Decoder names a decoder family, or "" for none attached.
type Decoder string

// VFO is one tunable channel within a session.
type VFO struct {
	Number       int
	Active       bool
	Selected     bool // at most one VFO per session may be selected; independent of Active
	CenterHz     int64
	BandwidthHz  float64
	Mode         Mode
	Decoder      Decoder
	VolumeUnits  int
	SquelchDB    float64
	Transcribe   bool
	TranscribeTo string // BCP-47 target language, empty = no translation
}

// VFOPatch is a partial update to a VFO; nil/zero-value fields are
// left unchanged except where a pointer makes "explicitly set to
// zero" distinguishable from "unset."
type VFOPatch struct {
	Active       *bool
	Selected     *bool
	CenterHz     *int64
	BandwidthHz  *float64
	Mode         *Mode
	Decoder      *Decoder
	VolumeUnits  *int
	SquelchDB    *float64
	Transcribe   *bool
	TranscribeTo *string
}

// Session is one attached client's (or internal observation's) state:
// which source it's attached to, and its VFOs.
type Session struct {
	ID         string
	SourceID   string
	CreatedAt  time.Time
	Internal   bool // internal/automated sessions never receive UI events
	ObservationID string

	vfos map[int]*VFO
}

// DiffKind tags what changed in an emitted diff event.
type DiffKind string

const (
	DiffSessionAttached DiffKind = "session_attached"
	DiffSessionDetached DiffKind = "session_detached"
	DiffVFOChanged      DiffKind = "vfo_changed"
)

// Diff is emitted on every mutation; C8 consumes these to reconcile
// worker lifecycles against desired state.
type Diff struct {
	Kind      DiffKind
	SessionID string
	VFO       *VFO // nil for session-level diffs
}

// Manager is the thread-safe session/VFO registry.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	diffCh chan Diff
}

// NewManager builds an empty registry. diffBuffer sizes the diff
// channel; callers must drain it promptly since mutations will block
// once full (diffs are never dropped — C8's reconciliation depends on
// seeing every one).
func NewManager(diffBuffer int) *Manager {
	if diffBuffer < 1 {
		diffBuffer = 64
	}
	return &Manager{
		sessions: make(map[string]*Session),
		diffCh:   make(chan Diff, diffBuffer),
	}
}

// Diffs returns the channel of mutation events.
func (m *Manager) Diffs() <-chan Diff { return m.diffCh }

// AttachSessionToSource creates a new session bound to a source,
// returning its ID.
func (m *Manager) AttachSessionToSource(sourceID string) string {
	id := uuid.NewString()
	m.mu.Lock()
	m.sessions[id] = &Session{ID: id, SourceID: sourceID, CreatedAt: time.Now(), vfos: make(map[int]*VFO)}
	m.mu.Unlock()
	m.diffCh <- Diff{Kind: DiffSessionAttached, SessionID: id}
	return id
}

// Detach removes a session and all its VFOs.
func (m *Manager) Detach(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	m.diffCh <- Diff{Kind: DiffSessionDetached, SessionID: sessionID}
}

// RegisterInternalSession creates a tagged internal session for an
// automated observation (e.g. a scheduled satellite pass), which
// surfaces alongside user sessions in the registry but is excluded
// from UI event fan-out.
func (m *Manager) RegisterInternalSession(observationID, sourceID string, vfo VFO) string {
	id := uuid.NewString()
	m.mu.Lock()
	s := &Session{ID: id, SourceID: sourceID, CreatedAt: time.Now(), Internal: true, ObservationID: observationID, vfos: make(map[int]*VFO)}
	vcopy := vfo
	s.vfos[vfo.Number] = &vcopy
	m.sessions[id] = s
	m.mu.Unlock()
	m.diffCh <- Diff{Kind: DiffSessionAttached, SessionID: id}
	m.diffCh <- Diff{Kind: DiffVFOChanged, SessionID: id, VFO: &vcopy}
	return id
}

// CleanupInternalSession tears down a session created via
// RegisterInternalSession, matched by its observation ID.
func (m *Manager) CleanupInternalSession(observationID string) {
	m.mu.Lock()
	var target string
	for id, s := range m.sessions {
		if s.Internal && s.ObservationID == observationID {
			target = id
			break
		}
	}
	if target != "" {
		delete(m.sessions, target)
	}
	m.mu.Unlock()
	if target != "" {
		m.diffCh <- Diff{Kind: DiffSessionDetached, SessionID: target}
	}
}

// ConfigureVFO applies a partial update to a session's VFO, enforcing
// single-selected-per-session (selecting one VFO deselects any other
// selected VFO on the same session; Active is left untouched) and basic
// mode/decoder validation.
func (m *Manager) ConfigureVFO(sessionID string, number int, patch VFOPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session: unknown session %s", sessionID)
	}
	v, ok := s.vfos[number]
	if !ok {
		v = &VFO{Number: number, Mode: ModeNone}
		s.vfos[number] = v
	}

	if patch.Decoder != nil && *patch.Decoder != "" && patch.Mode != nil && *patch.Mode == ModeNone {
		return fmt.Errorf("session: vfo %d cannot attach decoder %s with mode none", number, *patch.Decoder)
	}

	applyVFOPatch(v, patch)

	if v.Selected {
		for n, other := range s.vfos {
			if n != number && other.Selected {
				other.Selected = false
			}
		}
	}

	vcopy := *v
	m.diffCh <- Diff{Kind: DiffVFOChanged, SessionID: sessionID, VFO: &vcopy}
	return nil
}

func applyVFOPatch(v *VFO, patch VFOPatch) {
	if patch.Active != nil {
		v.Active = *patch.Active
	}
	if patch.Selected != nil {
		v.Selected = *patch.Selected
	}
	if patch.CenterHz != nil {
		v.CenterHz = *patch.CenterHz
	}
	if patch.BandwidthHz != nil {
		v.BandwidthHz = *patch.BandwidthHz
	}
	if patch.Mode != nil {
		v.Mode = *patch.Mode
	}
	if patch.Decoder != nil {
		v.Decoder = *patch.Decoder
	}
	if patch.VolumeUnits != nil {
		v.VolumeUnits = *patch.VolumeUnits
	}
	if patch.SquelchDB != nil {
		v.SquelchDB = *patch.SquelchDB
	}
	if patch.Transcribe != nil {
		v.Transcribe = *patch.Transcribe
	}
	if patch.TranscribeTo != nil {
		v.TranscribeTo = *patch.TranscribeTo
	}
}

// GetVFO returns a copy of a session's VFO state.
func (m *Manager) GetVFO(sessionID string, number int) (VFO, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return VFO{}, false
	}
	v, ok := s.vfos[number]
	if !ok {
		return VFO{}, false
	}
	return *v, true
}

// ListVFOsForSource returns a snapshot of every (sessionID, VFO) pair
// currently bound to sourceID.
func (m *Manager) ListVFOsForSource(sourceID string) map[string][]VFO {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]VFO)
	for id, s := range m.sessions {
		if s.SourceID != sourceID {
			continue
		}
		var vfos []VFO
		for _, v := range s.vfos {
			vfos = append(vfos, *v)
		}
		out[id] = vfos
	}
	return out
}

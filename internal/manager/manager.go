// Package manager implements the Process/Lifecycle Manager (C8): a
// diff-driven reconciliation loop that keeps a registry of running
// workers in sync with desired session/VFO state, plus graceful
// shutdown and an introspection snapshot for observability.
//
// Lifecycle methods follow a client reference-counting-per-source
// pattern with bounded-wait-then-kill shutdown, plus a spawn/stop-by-key
// pattern generalized from WSJT-X-style decoder bands to (session, vfo)
// demodulator/decoder/transcription workers.
package manager

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/cwsl/groundstation/internal/broadcast"
	"github.com/cwsl/groundstation/internal/decoder"
	"github.com/cwsl/groundstation/internal/demod"
	"github.com/cwsl/groundstation/internal/dsp"
	"github.com/cwsl/groundstation/internal/satellite"
	"github.com/cwsl/groundstation/internal/session"
	"github.com/cwsl/groundstation/internal/source"
	"github.com/cwsl/groundstation/internal/spectrum"
	"github.com/cwsl/groundstation/internal/transcribe"
)

// shutdownGrace bounds the wait for a source worker to stop cleanly
// before the manager force-cancels its context; a further 1s is given
// for the OS to reap the goroutine's resources.
const (
	shutdownGrace    = 5 * time.Second
	shutdownOSSettle = 1 * time.Second
)

type workerKey struct {
	sessionID string
	vfo       int
}

type demodEntry struct {
	worker *demod.Worker
	cancel context.CancelFunc
}

type decoderEntry struct {
	worker *decoder.Worker
	cancel context.CancelFunc
	// audioFed is true for decoder families whose front end runs on
	// demodulated audio (AFSK, Morse) rather than raw IQ; pumpAudio
	// routes demod output to them instead of a fabric IQ attachment.
	audioFed bool
}

type transcribeEntry struct {
	worker *transcribe.Worker
	cancel context.CancelFunc
}

// SourceRuntime owns every worker attached to one source: the C1
// driver worker, its C3 spectrum processor, and the per-(session,vfo)
// demod/decoder/transcription workers reading off its fabric.
type SourceRuntime struct {
	sourceID string
	worker   *source.Worker
	fabric   *broadcast.Fabric
	cancel   context.CancelFunc

	mu sync.RWMutex

	lastCenterHz   int64
	lastSampleRate int64

	demods       map[workerKey]*demodEntry
	decoders     map[workerKey]*decoderEntry
	transcribers map[workerKey]*transcribeEntry

	clients map[string]struct{} // attached session IDs, for refcounting
}

// Snapshot is the read-only introspection view of one source.
type Snapshot struct {
	SourceID     string
	Clients      []string
	Demods       []string // "session/vfo" keys
	Decoders     []string
	Transcribers []string
}

// DecoderSpec describes how to build a decoder worker for a decoder
// name resolved from session.VFO.Decoder.
type DecoderSpec struct {
	Family      decoder.Family
	Framing     decoder.Framing
	Parser      decoder.TelemetryParser
	DeviationHz float64
	BaudRate    float64
	ToneHz      float64
	BandwidthHz float64
}

// Manager reconciles session.Manager diffs against a registry of
// SourceRuntimes.
type Manager struct {
	sessions *session.Manager

	newDriver      func(sourceID string) (source.Driver, source.Config)
	decoderSpec    func(name string) DecoderSpec
	newTranscriber func(targetLang string) *transcribe.Worker
	audioSink      func(sessionID string, vfo int, frame *demod.Frame)
	packetSink     func(decoder.PacketDecodedEvent)
	transcriptSink func(sessionID string, vfo int, ev transcribe.TranscriptEvent)
	satellites     *satellite.Table
	calibrationDB  float64
	outputDir      string

	mu       sync.RWMutex
	runtimes map[string]*SourceRuntime
	// sessionSource records which source a session is bound to, set
	// when the caller attaches a session (session.Manager itself does
	// not expose a session->source accessor beyond VFO lookups).
	sessionSource map[string]string
}

// New builds a manager bound to a session registry. newDriver
// constructs the appropriate source.Driver and its initial Config for
// a given source ID (resolved from configuration by the caller).
func New(sessions *session.Manager, newDriver func(sourceID string) (source.Driver, source.Config), decoderSpec func(name string) DecoderSpec, calibrationDB float64, outputDir string) *Manager {
	return &Manager{
		sessions:      sessions,
		newDriver:     newDriver,
		decoderSpec:   decoderSpec,
		calibrationDB: calibrationDB,
		outputDir:     outputDir,
		runtimes:      make(map[string]*SourceRuntime),
		sessionSource: make(map[string]string),
	}
}

// SetTranscriberFactory wires the C6 provider; transcription stays
// disabled for every VFO until this is called, since building a
// transcribe.Worker requires a concrete Provider implementation chosen
// by the runtime wiring layer.
func (m *Manager) SetTranscriberFactory(f func(targetLang string) *transcribe.Worker) {
	m.newTranscriber = f
}

// SetAudioSink wires the C4 audio egress path (RTP/Opus); every
// demodulated frame is forwarded here as it's produced, in addition to
// any active transcription feed.
func (m *Manager) SetAudioSink(f func(sessionID string, vfo int, frame *demod.Frame)) {
	m.audioSink = f
}

// SetPacketSink wires where decoded-packet events (C5) are delivered;
// without it, decoder workers still persist bin+json to disk but
// nothing is published for downstream consumers.
func (m *Manager) SetPacketSink(f func(decoder.PacketDecodedEvent)) {
	m.packetSink = f
}

// SetTranscriptSink wires where recognized-speech events (C6) are
// delivered, tagged with the (session, vfo) they were produced for.
func (m *Manager) SetTranscriptSink(f func(sessionID string, vfo int, ev transcribe.TranscriptEvent)) {
	m.transcriptSink = f
}

// SetSatelliteTable wires the satellite NORAD-ID lookup consulted by
// decoder pipelines when enriching a packet's sidecar metadata.
func (m *Manager) SetSatelliteTable(t *satellite.Table) {
	m.satellites = t
}

// BindSessionSource records which source a session is attached to;
// callers invoke this alongside session.Manager.AttachSessionToSource.
func (m *Manager) BindSessionSource(sessionID, sourceID string) {
	m.mu.Lock()
	m.sessionSource[sessionID] = sourceID
	m.mu.Unlock()
}

// Run drains the session diff channel and reconciles until ctx is
// canceled, at which point every source runtime is gracefully stopped.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.shutdownAll()
			return
		case diff, ok := <-m.sessions.Diffs():
			if !ok {
				m.shutdownAll()
				return
			}
			m.reconcile(ctx, diff)
		}
	}
}

func (m *Manager) reconcile(ctx context.Context, diff session.Diff) {
	switch diff.Kind {
	case session.DiffSessionAttached:
		// Source is bound via BindSessionSource; nothing to reconcile
		// until a VFO names a mode.
	case session.DiffSessionDetached:
		m.detachSession(diff.SessionID)
	case session.DiffVFOChanged:
		if diff.VFO != nil {
			m.reconcileVFO(ctx, diff.SessionID, *diff.VFO)
		}
	}
}

func (m *Manager) sourceForSession(sessionID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionSource[sessionID]
}

func (m *Manager) ensureSource(ctx context.Context, sourceID string) *SourceRuntime {
	m.mu.Lock()
	rt, ok := m.runtimes[sourceID]
	if ok {
		m.mu.Unlock()
		return rt
	}

	drv, initial := m.newDriver(sourceID)
	fab := broadcast.New(sourceID, nil)
	sctx, cancel := context.WithCancel(ctx)
	w := source.NewWorker(sourceID, drv)

	rt = &SourceRuntime{
		sourceID:     sourceID,
		worker:       w,
		fabric:       fab,
		cancel:       cancel,
		demods:       make(map[workerKey]*demodEntry),
		decoders:     make(map[workerKey]*decoderEntry),
		transcribers: make(map[workerKey]*transcribeEntry),
		clients:      make(map[string]struct{}),
	}
	m.runtimes[sourceID] = rt
	m.mu.Unlock()

	go w.Run(sctx, initial)
	go m.pumpSource(sctx, rt)
	return rt
}

// pumpSource fans every produced block into the fabric and tracks the
// source's last-known center/sample rate for lazily-constructed demod
// workers.
func (m *Manager) pumpSource(ctx context.Context, rt *SourceRuntime) {
	for block := range rt.worker.Blocks() {
		rt.mu.Lock()
		rt.lastCenterHz = block.CenterHz
		rt.lastSampleRate = block.SampleRate
		rt.mu.Unlock()
		rt.fabric.Publish(block)
	}
}

// reconcileVFO spawns or tears down C4/C5/C6 workers for one
// (session, vfo) against its desired state.
func (m *Manager) reconcileVFO(ctx context.Context, sessionID string, vfo session.VFO) {
	vstate, ok := m.sessions.GetVFO(sessionID, vfo.Number)
	if !ok {
		return
	}
	sourceID := m.sourceForSession(sessionID)
	if sourceID == "" {
		return
	}
	rt := m.ensureSource(ctx, sourceID)

	rt.mu.Lock()
	rt.clients[sessionID] = struct{}{}
	rt.mu.Unlock()

	key := workerKey{sessionID: sessionID, vfo: vfo.Number}

	if !vstate.Active || vstate.Mode == session.ModeNone {
		m.stopDemod(rt, key)
		m.stopDecoder(rt, key)
		m.stopTranscriber(rt, key)
		return
	}

	m.ensureDemod(ctx, rt, key, vstate)

	if vstate.Decoder != "" {
		m.ensureDecoder(ctx, rt, key, vstate)
	} else {
		m.stopDecoder(rt, key)
	}

	if vstate.Transcribe {
		m.ensureTranscriber(ctx, rt, key, vstate)
	} else {
		m.stopTranscriber(rt, key)
	}
}

func (m *Manager) ensureDemod(ctx context.Context, rt *SourceRuntime, key workerKey, vstate session.VFO) {
	cfg := demod.Config{
		CenterHz:    vstate.CenterHz,
		BandwidthHz: vstate.BandwidthHz,
		Mode:        demod.Mode(vstate.Mode),
		VolumeUnits: vstate.VolumeUnits,
		SquelchDB:   vstate.SquelchDB,
	}

	rt.mu.Lock()
	entry, exists := rt.demods[key]
	centerHz, sampleRate := rt.lastCenterHz, rt.lastSampleRate
	rt.mu.Unlock()

	if exists {
		entry.worker.Reconfigure(cfg)
		return
	}

	dctx, cancel := context.WithCancel(ctx)
	dw := demod.New(centerHz, sampleRate, m.calibrationDB, cfg)
	consumerID := key.sessionID + "/demod"
	blocks, _ := rt.fabric.Attach(consumerID, broadcast.KindDemodulation, sampleRate)

	go func() {
		for {
			select {
			case <-dctx.Done():
				rt.fabric.Detach(consumerID)
				return
			case block, ok := <-blocks:
				if !ok {
					return
				}
				dw.Process(dctx, block)
			}
		}
	}()
	go m.pumpAudio(dctx, rt, key, dw)

	rt.mu.Lock()
	rt.demods[key] = &demodEntry{worker: dw, cancel: cancel}
	rt.mu.Unlock()
}

// pumpAudio drains a demod worker's output frames to the audio sink
// (C4 egress), to its decoder worker when the attached decoder family
// runs on demodulated audio (AFSK/Morse) rather than raw IQ, and, when
// the VFO has transcription enabled, to its transcription worker.
func (m *Manager) pumpAudio(ctx context.Context, rt *SourceRuntime, key workerKey, dw *demod.Worker) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-dw.Out():
			if !ok {
				return
			}
			if m.audioSink != nil {
				m.audioSink(key.sessionID, key.vfo, frame)
			}
			rt.mu.RLock()
			dec, hasDecoder := rt.decoders[key]
			tw, hasTranscriber := rt.transcribers[key]
			rt.mu.RUnlock()
			if hasDecoder && dec.audioFed {
				if err := dec.worker.ProcessAudio(ctx, frame.PCM, frame.PowerDBFS); err != nil {
					log.Printf("decoder %s/%d: %v", key.sessionID, key.vfo, err)
				}
			}
			if hasTranscriber {
				tw.worker.Feed(transcribe.AudioFrame{
					PCM16:      floatToPCM16(frame.PCM),
					SampleRate: frame.SampleRate,
				})
			}
		}
	}
}

func floatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := s * 32767
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

func (m *Manager) ensureTranscriber(ctx context.Context, rt *SourceRuntime, key workerKey, vstate session.VFO) {
	if m.newTranscriber == nil {
		return
	}
	rt.mu.Lock()
	_, exists := rt.transcribers[key]
	rt.mu.Unlock()
	if exists {
		return
	}

	tw := m.newTranscriber(vstate.TranscribeTo)
	tctx, cancel := context.WithCancel(ctx)
	go tw.Run(tctx)
	go m.pumpTranscript(tctx, tw, key)

	rt.mu.Lock()
	rt.transcribers[key] = &transcribeEntry{worker: tw, cancel: cancel}
	rt.mu.Unlock()
}

func (m *Manager) pumpTranscript(ctx context.Context, tw *transcribe.Worker, key workerKey) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-tw.Out():
			if !ok {
				return
			}
			if m.transcriptSink != nil {
				m.transcriptSink(key.sessionID, key.vfo, ev)
			}
		}
	}
}

func (m *Manager) ensureDecoder(ctx context.Context, rt *SourceRuntime, key workerKey, vstate session.VFO) {
	rt.mu.Lock()
	_, exists := rt.decoders[key]
	centerHz, sampleRate := rt.lastCenterHz, rt.lastSampleRate
	rt.mu.Unlock()
	if exists {
		return
	}

	spec := m.decoderSpec(string(vstate.Decoder))
	pipeline := decoder.NewPipeline(decoder.Config{
		DecoderType: string(vstate.Decoder),
		SessionID:   key.sessionID,
		VFONumber:   key.vfo,
		SourceID:    rt.sourceID,
		BaudRate:    spec.BaudRate,
		Framing:     spec.Framing,
		CenterHz:    vstate.CenterHz,
		BandwidthHz: vstate.BandwidthHz,
		Active:      vstate.Active,
		OutputDir:   m.outputDir,
		SDRCenterHz: centerHz,
		SDRSampleHz: sampleRate,
	}, spec.Parser, m.satellites, m.packetSink)

	decoderHz := float64(sampleRate)
	if spec.Family == decoder.FamilyAFSK || spec.Family == decoder.FamilyMorse {
		decoderHz = 44100 // rate of the demod.Frame audio that pumpAudio feeds them
	}
	dw := decoder.NewWorker(spec.Family, pipeline, spec.DeviationHz, spec.BaudRate, spec.ToneHz, spec.BandwidthHz, decoderHz)
	dctx, cancel := context.WithCancel(ctx)

	// AFSK and Morse front ends run on demodulated audio (SSB/CW tones
	// already mixed down to baseband), not raw IQ: pumpAudio feeds them
	// from the demod worker's output instead of a fabric IQ attachment.
	if spec.Family == decoder.FamilyAFSK || spec.Family == decoder.FamilyMorse {
		rt.mu.Lock()
		rt.decoders[key] = &decoderEntry{worker: dw, cancel: cancel, audioFed: true}
		rt.mu.Unlock()
		return
	}

	consumerID := key.sessionID + "/decoder"
	blocks, _ := rt.fabric.Attach(consumerID, broadcast.KindDecoder, sampleRate)

	go func() {
		for {
			select {
			case <-dctx.Done():
				rt.fabric.Detach(consumerID)
				return
			case block, ok := <-blocks:
				if !ok {
					return
				}
				powerDB := dsp.RFPowerDB(block.Samples, m.calibrationDB)
				if err := dw.ProcessIQ(dctx, block, powerDB); err != nil {
					log.Printf("decoder %s/%d: %v", key.sessionID, key.vfo, err)
				}
			}
		}
	}()

	rt.mu.Lock()
	rt.decoders[key] = &decoderEntry{worker: dw, cancel: cancel}
	rt.mu.Unlock()
}

func (m *Manager) stopDemod(rt *SourceRuntime, key workerKey) {
	rt.mu.Lock()
	entry, ok := rt.demods[key]
	if ok {
		delete(rt.demods, key)
	}
	rt.mu.Unlock()
	if ok {
		entry.cancel()
	}
}

func (m *Manager) stopDecoder(rt *SourceRuntime, key workerKey) {
	rt.mu.Lock()
	entry, ok := rt.decoders[key]
	if ok {
		delete(rt.decoders, key)
	}
	rt.mu.Unlock()
	if ok {
		entry.cancel()
	}
}

func (m *Manager) stopTranscriber(rt *SourceRuntime, key workerKey) {
	rt.mu.Lock()
	entry, ok := rt.transcribers[key]
	if ok {
		delete(rt.transcribers, key)
	}
	rt.mu.Unlock()
	if ok {
		entry.cancel()
	}
}

func (m *Manager) detachSession(sessionID string) {
	sourceID := m.sourceForSession(sessionID)
	m.mu.RLock()
	rt, ok := m.runtimes[sourceID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	rt.mu.Lock()
	delete(rt.clients, sessionID)
	for key, entry := range rt.demods {
		if key.sessionID == sessionID {
			entry.cancel()
			delete(rt.demods, key)
		}
	}
	for key, entry := range rt.decoders {
		if key.sessionID == sessionID {
			entry.cancel()
			delete(rt.decoders, key)
		}
	}
	for key, entry := range rt.transcribers {
		if key.sessionID == sessionID {
			entry.cancel()
			delete(rt.transcribers, key)
		}
	}
	empty := len(rt.clients) == 0
	rt.mu.Unlock()

	if empty {
		m.stopSource(sourceID)
	}
}

func (m *Manager) stopSource(sourceID string) {
	m.mu.Lock()
	rt, ok := m.runtimes[sourceID]
	if ok {
		delete(m.runtimes, sourceID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.gracefulStop(rt)
}

func (m *Manager) shutdownAll() {
	m.mu.Lock()
	runtimes := make([]*SourceRuntime, 0, len(m.runtimes))
	for id, rt := range m.runtimes {
		runtimes = append(runtimes, rt)
		delete(m.runtimes, id)
	}
	m.mu.Unlock()
	for _, rt := range runtimes {
		m.gracefulStop(rt)
	}
}

// gracefulStop signals the source worker to stop, waits up to
// shutdownGrace, then force-cancels its context, then gives the OS a
// further shutdownOSSettle before returning. "terminated" is reached
// regardless of which path this took.
func (m *Manager) gracefulStop(rt *SourceRuntime) {
	done := make(chan struct{})
	go func() {
		rt.worker.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		log.Printf("manager: source %s did not stop within %s, forcing", rt.sourceID, shutdownGrace)
		rt.cancel()
	}
	time.Sleep(shutdownOSSettle)
	log.Printf("manager: source %s terminated", rt.sourceID)
}

// Introspect returns a read-only snapshot of every source's attached
// clients and worker keys, for observability.
func (m *Manager) Introspect() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, len(m.runtimes))
	for id, rt := range m.runtimes {
		rt.mu.RLock()
		snap := Snapshot{SourceID: id}
		for c := range rt.clients {
			snap.Clients = append(snap.Clients, c)
		}
		for k := range rt.demods {
			snap.Demods = append(snap.Demods, k.sessionID+"/"+strconv.Itoa(k.vfo))
		}
		for k := range rt.decoders {
			snap.Decoders = append(snap.Decoders, k.sessionID+"/"+strconv.Itoa(k.vfo))
		}
		for k := range rt.transcribers {
			snap.Transcribers = append(snap.Transcribers, k.sessionID+"/"+strconv.Itoa(k.vfo))
		}
		rt.mu.RUnlock()
		out = append(out, snap)
	}
	return out
}

// SpectrumConsumer lazily attaches a spectrum.Processor to a source's
// fabric; exposed for the runtime wiring layer to pull frames for
// waterfall fan-out without the manager needing to know about C11.
func (m *Manager) SpectrumConsumer(ctx context.Context, sourceID string, fftSize int, window string, averaging int) (<-chan *spectrum.Frame, func()) {
	rt := m.ensureSource(ctx, sourceID)
	proc := spectrum.New(fftSize, window, averaging)

	consumerID := sourceID + "/spectrum"
	blocks, _ := rt.fabric.Attach(consumerID, broadcast.KindSpectrum, rt.lastSampleRate)
	out := make(chan *spectrum.Frame, 4)

	sctx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		for {
			select {
			case <-sctx.Done():
				rt.fabric.Detach(consumerID)
				return
			case block, ok := <-blocks:
				if !ok {
					return
				}
				frame := proc.Process(block)
				select {
				case out <- frame:
				default:
				}
			}
		}
	}()
	return out, cancel
}

package webrtc

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"playlink/internal/core/domain"
	"playlink/internal/core/ports"
	"playlink/pkg/config"
	apperrors "playlink/pkg/errors"
	rlog "playlink/pkg/logger"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Options configures peer sessions.
type Options struct {
	PortRange struct {
		Min uint16
		Max uint16
	}
	InputLabel string
}

// OptionsFromConfig maps the webrtc config section.
func OptionsFromConfig(cfg *config.Config) Options {
	var opts Options
	opts.PortRange.Min = cfg.WebRTC.PortRange.Min
	opts.PortRange.Max = cfg.WebRTC.PortRange.Max
	opts.InputLabel = cfg.WebRTC.InputChannelLabel
	return opts
}

// ICEServersFromConfig converts configured ICE servers to pion's type.
func ICEServersFromConfig(servers []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		server := webrtc.ICEServer{URLs: append([]string(nil), s.URLs...)}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, server)
	}
	return out
}

// PeerManager owns one peer connection at a time, always as the offering
// side: a recvonly video transceiver plus the input data channel.
type PeerManager struct {
	opts    Options
	events  ports.PeerEvents
	metrics ports.SessionMetrics
	logger  *zap.SugaredLogger

	input *InputChannel

	mu        sync.Mutex
	pc        *webrtc.PeerConnection
	pending   []webrtc.ICECandidateInit
	offered   bool
	closed    bool
	lastEpoch uint64

	// epoch identifies the live connection, zero when there is none. pion
	// callbacks carrying another epoch are dropped without locking.
	epoch atomic.Uint64
	tap   atomic.Pointer[MediaTap]
}

func NewPeerManager(opts Options, events ports.PeerEvents, logger *zap.Logger, metrics ports.SessionMetrics) *PeerManager {
	if opts.InputLabel == "" {
		opts.InputLabel = "input"
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	log := rlog.Component(logger, "peer")
	return &PeerManager{
		opts:    opts,
		events:  events,
		metrics: metrics,
		logger:  log,
		input:   newInputChannel(log, metrics),
	}
}

// NewPeerFactory returns a factory producing one manager per generation.
func NewPeerFactory(opts Options, logger *zap.Logger, metrics ports.SessionMetrics) ports.PeerFactory {
	return func(events ports.PeerEvents) ports.PeerSession {
		return NewPeerManager(opts, events, logger, metrics)
	}
}

// Create tears down any existing connection and builds a fresh one.
func (m *PeerManager) Create(iceServers []webrtc.ICEServer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return domain.ErrSessionClosed
	}
	m.releaseLocked()

	pc, err := m.newPeerConnection(iceServers)
	if err != nil {
		return apperrors.NewNegotiationError("create peer connection", err)
	}
	m.lastEpoch++
	epoch := m.lastEpoch
	m.epoch.Store(epoch)

	// data channel first so it is part of the initial offer
	dc, err := pc.CreateDataChannel(m.opts.InputLabel, inputChannelInit())
	if err != nil {
		m.epoch.Store(0)
		pc.Close()
		return apperrors.NewNegotiationError("create input channel", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		m.epoch.Store(0)
		pc.Close()
		return apperrors.NewNegotiationError("add video transceiver", err)
	}

	m.wireInputChannel(dc, epoch)
	pc.OnICECandidate(m.handleLocalCandidate(epoch))
	pc.OnConnectionStateChange(m.handleConnectionState(epoch))
	pc.OnTrack(m.handleTrack(pc, epoch))

	m.pc = pc
	m.input.attach(dc)
	m.logger.Infow("peer session created", "ice_servers", len(iceServers))
	return nil
}

// Offer creates the local offer and sends it. Requires an open signaling
// transport and is allowed once per session.
func (m *PeerManager) Offer(signal ports.SignalSender) error {
	if !signal.IsOpen() {
		return domain.ErrSignalingNotOpen
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pc, err := m.activeLocked()
	if err != nil {
		return err
	}
	if m.offered {
		return domain.ErrAlreadyOffered
	}
	m.offered = true

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return apperrors.NewNegotiationError("create offer", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return apperrors.NewNegotiationError("set local offer", err)
	}
	if !signal.Send(domain.NewOffer(offer.SDP)) {
		return apperrors.NewTransportError("send offer", domain.ErrSignalingNotOpen)
	}

	m.logger.Infow("offer sent")
	return nil
}

// HandleRemoteOffer answers an offer initiated by the remote host. An offer
// that collides with our pending one is rejected as a negotiation error.
func (m *PeerManager) HandleRemoteOffer(sdp string, signal ports.SignalSender) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, err := m.activeLocked()
	if err != nil {
		return err
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return apperrors.NewNegotiationError("set remote offer", err)
	}
	m.flushPendingLocked(pc)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return apperrors.NewNegotiationError("create answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return apperrors.NewNegotiationError("set local answer", err)
	}
	if !signal.Send(domain.NewAnswer(answer.SDP)) {
		return apperrors.NewTransportError("send answer", domain.ErrSignalingNotOpen)
	}

	m.logger.Infow("answered remote offer")
	return nil
}

// HandleRemoteAnswer applies the host's answer to our offer.
func (m *PeerManager) HandleRemoteAnswer(sdp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, err := m.activeLocked()
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return apperrors.NewNegotiationError("set remote answer", err)
	}
	m.flushPendingLocked(pc)

	m.logger.Infow("remote answer applied")
	return nil
}

// HandleRemoteCandidate adds a trickled candidate. Candidates that arrive
// before any remote description are cached and applied once it is set.
func (m *PeerManager) HandleRemoteCandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return apperrors.NewMessageFormatError("decode remote candidate", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pc, err := m.activeLocked()
	if err != nil {
		return err
	}
	if pc.RemoteDescription() == nil {
		m.pending = append(m.pending, init)
		m.logger.Infow("remote candidate arrived before remote description, caching",
			"pending", len(m.pending),
		)
		return nil
	}
	if err := pc.AddICECandidate(init); err != nil {
		return apperrors.NewConnectivityError("add remote candidate", err)
	}
	return nil
}

func (m *PeerManager) Input() ports.InputChannel {
	return m.input
}

// Sample reads the running media counters and the current round trip time of
// the selected candidate pair. Until a keyframe has been seen it re-sends the
// keyframe request.
func (m *PeerManager) Sample() (domain.NetworkSample, error) {
	m.mu.Lock()
	pc, err := m.activeLocked()
	m.mu.Unlock()
	tap := m.tap.Load()
	if err != nil {
		return domain.NetworkSample{}, err
	}

	sample := domain.NetworkSample{
		Timestamp:     time.Now(),
		RoundTripTime: selectedPairRTT(pc.GetStats()),
	}
	if tap != nil {
		frames, bytes, keyframes := tap.Counters()
		sample.FramesTotal = frames
		sample.BytesTotal = bytes
		if keyframes == 0 {
			m.requestKeyframe(pc, tap.ssrc)
		}
	}
	return sample, nil
}

// Close releases the connection. Events stop immediately. Safe to call more
// than once.
func (m *PeerManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.releaseLocked()
}

func (m *PeerManager) releaseLocked() error {
	m.epoch.Store(0)
	m.offered = false
	m.pending = nil
	m.tap.Store(nil)

	if dc := m.input.detach(); dc != nil {
		dc.Close()
	}
	if m.pc == nil {
		return nil
	}
	pc := m.pc
	m.pc = nil
	if err := pc.Close(); err != nil {
		m.logger.Warnw("error closing peer connection", "error", err)
		return err
	}
	m.logger.Infow("peer session released")
	return nil
}

func (m *PeerManager) activeLocked() (*webrtc.PeerConnection, error) {
	if m.closed {
		return nil, domain.ErrSessionClosed
	}
	if m.pc == nil {
		return nil, domain.ErrNoPeerSession
	}
	return m.pc, nil
}

func (m *PeerManager) flushPendingLocked(pc *webrtc.PeerConnection) {
	if len(m.pending) == 0 {
		return
	}
	pending := m.pending
	m.pending = nil
	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			m.logger.Warnw("cached remote candidate rejected", "error", err)
		}
	}
	m.logger.Infow("applied cached remote candidates", "count", len(pending))
}

func (m *PeerManager) current(epoch uint64) bool {
	return m.epoch.Load() == epoch
}

func (m *PeerManager) newPeerConnection(iceServers []webrtc.ICEServer) (*webrtc.PeerConnection, error) {
	settingEngine := webrtc.SettingEngine{}
	if m.opts.PortRange.Min > 0 && m.opts.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(m.opts.PortRange.Min, m.opts.PortRange.Max); err != nil {
			return nil, fmt.Errorf("port range: %w", err)
		}
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
	)
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
}

func (m *PeerManager) wireInputChannel(dc *webrtc.DataChannel, epoch uint64) {
	dc.OnOpen(func() {
		m.logger.Infow("input channel open", "label", dc.Label())
		if m.current(epoch) {
			m.events.OnInputChannel(true)
		}
	})
	dc.OnClose(func() {
		m.logger.Infow("input channel closed", "label", dc.Label())
		if m.current(epoch) {
			m.events.OnInputChannel(false)
		}
	})
	dc.OnError(func(err error) {
		m.logger.Warnw("input channel error", "label", dc.Label(), "error", err)
	})
}

func (m *PeerManager) handleLocalCandidate(epoch uint64) func(*webrtc.ICECandidate) {
	return func(c *webrtc.ICECandidate) {
		if c == nil {
			m.logger.Debugw("local candidate gathering complete")
			return
		}
		if !m.current(epoch) {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			m.logger.Warnw("failed to encode local candidate", "error", err)
			return
		}
		m.events.OnLocalCandidate(data)
	}
}

func (m *PeerManager) handleConnectionState(epoch uint64) func(webrtc.PeerConnectionState) {
	return func(state webrtc.PeerConnectionState) {
		m.logger.Infow("peer connection state changed", "connection_state", state)

		var conn domain.Connectivity
		switch state {
		case webrtc.PeerConnectionStateConnected:
			conn = domain.ConnectivityConnected
		case webrtc.PeerConnectionStateDisconnected:
			conn = domain.ConnectivityDisconnected
		case webrtc.PeerConnectionStateFailed:
			conn = domain.ConnectivityFailed
		default:
			return
		}
		if m.current(epoch) {
			m.events.OnConnectivity(conn)
		}
	}
}

func (m *PeerManager) handleTrack(pc *webrtc.PeerConnection, epoch uint64) func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
	return func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		m.logger.Infow("remote track received",
			"track_id", track.ID(),
			"kind", track.Kind().String(),
			"codec", track.Codec().MimeType,
		)
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}

		if !m.current(epoch) {
			return
		}
		tap := NewMediaTap(track)
		m.tap.Store(tap)

		m.requestKeyframe(pc, tap.ssrc)
		go m.drainRTCP(receiver)
		m.events.OnTrack(tap)
	}
}

func (m *PeerManager) requestKeyframe(pc *webrtc.PeerConnection, ssrc uint32) {
	err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
	if err != nil {
		m.logger.Debugw("keyframe request failed", "ssrc", ssrc, "error", err)
	}
}

// drainRTCP keeps the receiver's interceptors fed until the track ends.
func (m *PeerManager) drainRTCP(receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range packets {
			if sr, ok := p.(*rtcp.SenderReport); ok {
				m.logger.Debugw("received sender report",
					"ssrc", sr.SSRC,
					"packet_count", sr.PacketCount,
					"octet_count", sr.OctetCount,
				)
			}
		}
	}
}

// selectedPairRTT returns the round trip time of the nominated candidate
// pair, or zero when none has been measured yet.
func selectedPairRTT(report webrtc.StatsReport) time.Duration {
	var rtt float64
	for _, s := range report {
		var pair webrtc.ICECandidatePairStats
		switch v := s.(type) {
		case webrtc.ICECandidatePairStats:
			pair = v
		case *webrtc.ICECandidatePairStats:
			pair = *v
		default:
			continue
		}
		if pair.CurrentRoundTripTime <= 0 {
			continue
		}
		if pair.Nominated || pair.State == webrtc.StatsICECandidatePairStateSucceeded {
			rtt = pair.CurrentRoundTripTime
			if pair.Nominated {
				break
			}
		}
	}
	return time.Duration(rtt * float64(time.Second))
}

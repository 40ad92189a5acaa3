package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/cory-johannsen/huddle/internal/gameserver"
)

var (
	// ErrMediaAccessDenied is returned by a Microphone that may not capture audio.
	ErrMediaAccessDenied = errors.New("media access denied")
	// ErrVoiceDisabled is returned once microphone access has been refused for this session.
	ErrVoiceDisabled = errors.New("voice chat disabled")
	// ErrNoPeerConnection is returned for an answer or candidate from a peer with no session.
	ErrNoPeerConnection = errors.New("no peer connection")
)

const (
	noticeTTL     = 5 * time.Second
	signalTimeout = 5 * time.Second
)

// Microphone provides the local audio track.
type Microphone interface {
	Open() (webrtc.TrackLocal, error)
}

// SilentMicrophone yields an Opus track that never carries samples, for
// headless clients that take part in signaling without capturing audio.
type SilentMicrophone struct{}

// Open returns a fresh silent Opus track.
func (SilentMicrophone) Open() (webrtc.TrackLocal, error) {
	return webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "huddle")
}

// Voice owns one WebRTC peer connection per remote member of the current room.
// Signaling cargo travels through the relay as opaque JSON.
type Voice struct {
	sender Sender
	mic    Microphone
	config webrtc.Configuration
	logger *zap.Logger

	mu            sync.Mutex
	roomID        string
	track         webrtc.TrackLocal
	enabled       bool
	disabled      bool
	notice        string
	noticeExpires time.Time
	peers         map[string]*webrtc.PeerConnection
}

// NewVoice creates a Voice using iceServers (STUN/TURN URLs) for connectivity.
//
// Precondition: sender, mic and logger must be non-nil.
func NewVoice(sender Sender, mic Microphone, iceServers []string, logger *zap.Logger) *Voice {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &Voice{
		sender: sender,
		mic:    mic,
		config: cfg,
		logger: logger,
		peers:  make(map[string]*webrtc.PeerConnection),
	}
}

// SetRoom records the room signaling is scoped to.
func (v *Voice) SetRoom(roomID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.roomID = roomID
}

// Enable opens the microphone and announces voice-chat-start. A refused
// microphone disables voice for the rest of the session.
//
// Postcondition: Returns ErrMediaAccessDenied on refusal and ErrVoiceDisabled on every later call.
func (v *Voice) Enable(ctx context.Context, now time.Time) error {
	v.mu.Lock()
	if v.disabled {
		v.mu.Unlock()
		return ErrVoiceDisabled
	}
	if v.track == nil {
		track, err := v.mic.Open()
		if err != nil {
			if errors.Is(err, ErrMediaAccessDenied) {
				v.disabled = true
				v.notice = "Microphone access denied. Voice chat is off."
				v.noticeExpires = now.Add(noticeTTL)
			}
			v.mu.Unlock()
			return fmt.Errorf("opening microphone: %w", err)
		}
		v.track = track
	}
	v.enabled = true
	room := v.roomID
	v.mu.Unlock()

	return v.sender.Send(ctx, gameserver.EventVoiceStart, gameserver.VoicePayload{RoomID: room})
}

// Disable announces voice-chat-end and tears down every peer session.
func (v *Voice) Disable(ctx context.Context) error {
	v.mu.Lock()
	wasEnabled := v.enabled
	v.enabled = false
	room := v.roomID
	v.mu.Unlock()

	v.CloseAll()
	if !wasEnabled {
		return nil
	}
	return v.sender.Send(ctx, gameserver.EventVoiceEnd, gameserver.VoicePayload{RoomID: room})
}

// Enabled reports whether voice is on.
func (v *Voice) Enabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.enabled
}

// Notice returns the transient user-facing notice, or "" once it has expired.
func (v *Voice) Notice(now time.Time) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.notice != "" && !now.Before(v.noticeExpires) {
		v.notice = ""
	}
	return v.notice
}

// Call starts a session with peerID by sending it an offer.
func (v *Voice) Call(ctx context.Context, peerID string) error {
	pc, err := v.newPeer(peerID)
	if err != nil {
		return err
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating offer for %s: %w", peerID, err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local offer for %s: %w", peerID, err)
	}
	return v.signal(ctx, gameserver.EventVoiceOffer, peerID, func(p *gameserver.SignalPayload, raw json.RawMessage) { p.Offer = raw }, offer)
}

// HandleOffer answers an offer from fromID, replacing any existing session with it.
func (v *Voice) HandleOffer(ctx context.Context, fromID string, offer json.RawMessage) error {
	var sdp webrtc.SessionDescription
	if err := json.Unmarshal(offer, &sdp); err != nil {
		return fmt.Errorf("decoding offer from %s: %w", fromID, err)
	}
	pc, err := v.newPeer(fromID)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("applying offer from %s: %w", fromID, err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("creating answer for %s: %w", fromID, err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("setting local answer for %s: %w", fromID, err)
	}
	return v.signal(ctx, gameserver.EventVoiceAnswer, fromID, func(p *gameserver.SignalPayload, raw json.RawMessage) { p.Answer = raw }, answer)
}

// HandleAnswer completes a session this client offered.
func (v *Voice) HandleAnswer(fromID string, answer json.RawMessage) error {
	pc, ok := v.peer(fromID)
	if !ok {
		return fmt.Errorf("answer from %s: %w", fromID, ErrNoPeerConnection)
	}
	var sdp webrtc.SessionDescription
	if err := json.Unmarshal(answer, &sdp); err != nil {
		return fmt.Errorf("decoding answer from %s: %w", fromID, err)
	}
	if err := pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("applying answer from %s: %w", fromID, err)
	}
	return nil
}

// HandleCandidate adds a trickled ICE candidate from fromID.
func (v *Voice) HandleCandidate(fromID string, candidate json.RawMessage) error {
	pc, ok := v.peer(fromID)
	if !ok {
		return fmt.Errorf("candidate from %s: %w", fromID, ErrNoPeerConnection)
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("decoding candidate from %s: %w", fromID, err)
	}
	if err := pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("adding candidate from %s: %w", fromID, err)
	}
	return nil
}

// ClosePeer ends the session with peerID, if any.
func (v *Voice) ClosePeer(peerID string) {
	v.mu.Lock()
	pc, ok := v.peers[peerID]
	delete(v.peers, peerID)
	v.mu.Unlock()
	if ok {
		v.closeConn(peerID, pc)
	}
}

// CloseAll ends every session.
func (v *Voice) CloseAll() {
	v.mu.Lock()
	peers := v.peers
	v.peers = make(map[string]*webrtc.PeerConnection)
	v.mu.Unlock()
	for id, pc := range peers {
		v.closeConn(id, pc)
	}
}

// Peers returns the ids with an open session, sorted.
func (v *Voice) Peers() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := make([]string, 0, len(v.peers))
	for id := range v.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (v *Voice) peer(id string) (*webrtc.PeerConnection, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	pc, ok := v.peers[id]
	return pc, ok
}

// newPeer builds a connection to peerID carrying the local track, or a
// receive-only audio transceiver when the microphone is not open.
func (v *Voice) newPeer(peerID string) (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(v.config)
	if err != nil {
		return nil, fmt.Errorf("creating peer connection for %s: %w", peerID, err)
	}

	v.mu.Lock()
	track := v.track
	v.mu.Unlock()
	if track != nil {
		if _, err := pc.AddTrack(track); err != nil {
			pc.Close()
			return nil, fmt.Errorf("adding track for %s: %w", peerID, err)
		}
	} else if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("adding transceiver for %s: %w", peerID, err)
	}

	log := v.logger.With(zap.String("peer_id", peerID))
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
		defer cancel()
		if err := v.signal(ctx, gameserver.EventVoiceCandidate, peerID, func(p *gameserver.SignalPayload, raw json.RawMessage) { p.Candidate = raw }, c.ToJSON()); err != nil {
			log.Debug("sending candidate", zap.Error(err))
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug("peer connection state", zap.String("state", s.String()))
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info("remote audio", zap.String("codec", remote.Codec().MimeType))
		// Headless: drain packets so the receiver does not stall.
		buf := make([]byte, 1500)
		for {
			if _, _, err := remote.Read(buf); err != nil {
				return
			}
		}
	})

	v.mu.Lock()
	old, replaced := v.peers[peerID]
	v.peers[peerID] = pc
	v.mu.Unlock()
	if replaced {
		v.closeConn(peerID, old)
	}
	return pc, nil
}

func (v *Voice) signal(ctx context.Context, event, targetID string, set func(*gameserver.SignalPayload, json.RawMessage), cargo any) error {
	raw, err := json.Marshal(cargo)
	if err != nil {
		return fmt.Errorf("encoding %s cargo: %w", event, err)
	}
	v.mu.Lock()
	p := gameserver.SignalPayload{RoomID: v.roomID, TargetID: targetID}
	v.mu.Unlock()
	set(&p, raw)
	return v.sender.Send(ctx, event, p)
}

func (v *Voice) closeConn(peerID string, pc *webrtc.PeerConnection) {
	if err := pc.Close(); err != nil {
		v.logger.Debug("closing peer connection", zap.String("peer_id", peerID), zap.Error(err))
	}
}

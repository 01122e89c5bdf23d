package webrtc

import (
	"strings"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

const maxRTPPacketSize = 1500 // MTU

// MediaTap wraps a received video track and counts what the renderer reads:
// complete frames (RTP marker bit), payload bytes and keyframes.
type MediaTap struct {
	id       string
	mimeType string
	ssrc     uint32
	read     func([]byte) (int, error)
	buf      []byte

	frames    atomic.Uint64
	bytes     atomic.Uint64
	keyframes atomic.Uint64
}

func NewMediaTap(track *webrtc.TrackRemote) *MediaTap {
	tap := newMediaTap(track.ID(), track.Codec().MimeType, func(b []byte) (int, error) {
		n, _, err := track.Read(b)
		return n, err
	})
	tap.ssrc = uint32(track.SSRC())
	return tap
}

func newMediaTap(id, mimeType string, read func([]byte) (int, error)) *MediaTap {
	return &MediaTap{
		id:       id,
		mimeType: mimeType,
		read:     read,
		buf:      make([]byte, maxRTPPacketSize),
	}
}

func (t *MediaTap) ID() string       { return t.id }
func (t *MediaTap) MimeType() string { return t.mimeType }

// ReadRTP returns the next well-formed packet. Packets that fail to parse are
// skipped; only read errors from the track are returned.
func (t *MediaTap) ReadRTP() (*rtp.Packet, error) {
	for {
		n, err := t.read(t.buf)
		if err != nil {
			return nil, err
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(append([]byte(nil), t.buf[:n]...)); err != nil {
			continue
		}
		t.observe(pkt, n)
		return pkt, nil
	}
}

func (t *MediaTap) observe(pkt *rtp.Packet, size int) {
	t.bytes.Add(uint64(size))
	if pkt.Marker {
		t.frames.Add(1)
	}
	if isKeyframe(t.mimeType, pkt.Payload) {
		t.keyframes.Add(1)
	}
}

// Counters returns the running totals.
func (t *MediaTap) Counters() (frames, bytes, keyframes uint64) {
	return t.frames.Load(), t.bytes.Load(), t.keyframes.Load()
}

// isKeyframe detects the first packet of a VP8 or H.264 keyframe.
func isKeyframe(mimeType string, payload []byte) bool {
	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypeVP8):
		return vp8Keyframe(payload)
	case strings.EqualFold(mimeType, webrtc.MimeTypeH264):
		return h264Keyframe(payload)
	default:
		return false
	}
}

func vp8Keyframe(p []byte) bool {
	if len(p) == 0 {
		return false
	}
	// start of partition 0 only
	if p[0]&0x10 == 0 || p[0]&0x07 != 0 {
		return false
	}

	i := 1
	if p[0]&0x80 != 0 {
		if len(p) <= i {
			return false
		}
		ext := p[i]
		i++
		if ext&0x80 != 0 { // picture id
			if len(p) <= i {
				return false
			}
			if p[i]&0x80 != 0 {
				i += 2
			} else {
				i++
			}
		}
		if ext&0x40 != 0 { // TL0PICIDX
			i++
		}
		if ext&0x30 != 0 { // TID/KEYIDX
			i++
		}
	}
	if len(p) <= i {
		return false
	}
	// P bit of the VP8 frame header is 0 for keyframes
	return p[i]&0x01 == 0
}

func h264Keyframe(p []byte) bool {
	if len(p) == 0 {
		return false
	}
	switch nal := p[0] & 0x1F; nal {
	case 5, 7:
		return true
	case 24: // STAP-A
		return len(p) > 3 && (p[3]&0x1F == 5 || p[3]&0x1F == 7)
	case 28: // FU-A
		return len(p) > 1 && p[1]&0x80 != 0 && p[1]&0x1F == 5
	default:
		return false
	}
}

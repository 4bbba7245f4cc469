// Package selector implements the per-rectangle encoding choice: given a
// client's advertised encodings, a content hint, the rectangle's size, and
// the connection's network profile, it picks which registered encoder
// should render that rectangle.
package selector

import (
	"github.com/rcarmo/go-vnc-server/internal/config"
	"github.com/rcarmo/go-vnc-server/internal/rfbcodec"
)

// Hint classifies a changed rectangle's likely content, as supplied by the
// caller (the scheduler, from change-detection and a scroll-match probe).
type Hint int

const (
	HintStatic Hint = iota
	HintDynamic
	HintScrolling
	HintSolid
)

// CopyRectMatch reports whether a bounded search found an identical region
// in the previous framebuffer snapshot.
type CopyRectMatch struct {
	SourceX, SourceY int
	Found            bool
}

// Params is everything Select needs to make one rectangle's decision.
type Params struct {
	ClientEncodings []int32 // priority order, as the client listed them in SetEncodings
	Hint            Hint
	Rect            rfbcodec.Rect
	FramebufferArea int
	Profile         config.NetworkProfile
	LAN             config.LANTuningConfig
	CopyRect        CopyRectMatch
	ZlibWarmingUp   bool
}

// Registry holds one Encoder instance per encoding ID this server knows how
// to produce; Tight is only present when its config flag is enabled, so
// it's simply absent from the map rather than gated by a runtime branch at
// every call site. JPEG has no entry of its own: it is an option of the
// Tight encoder (TightEncoder.AllowJPEG).
type Registry struct {
	encoders map[int32]rfbcodec.Encoder
}

// NewRegistry builds the fixed set of encoders a connection can choose
// from, for the given config.
func NewRegistry(cfg config.VNCConfig) *Registry {
	r := &Registry{encoders: map[int32]rfbcodec.Encoder{
		rfbcodec.EncodingRaw:      rfbcodec.RawEncoder{},
		rfbcodec.EncodingCopyRect: rfbcodec.CopyRectEncoder{},
		rfbcodec.EncodingRRE:      rfbcodec.RREEncoder{},
		rfbcodec.EncodingHextile:  rfbcodec.HextileEncoder{},
		rfbcodec.EncodingZRLE:     rfbcodec.ZRLEEncoder{},
		rfbcodec.EncodingZlib:     rfbcodec.ZlibEncoder{},
	}}
	if cfg.EnableTightEncoding {
		// UltraVNC's Tight decoder predates the JPEG subencoding and chokes
		// on it; the RFB wire protocol carries no client-identification
		// signal a server can use to detect UltraVNC specifically, so this
		// is a blanket toggle rather than a per-client check.
		allowJPEG := cfg.EnableJPEGEncoding && !cfg.TightDisableForUltraVNC
		r.encoders[rfbcodec.EncodingTight] = rfbcodec.TightEncoder{AllowJPEG: allowJPEG}
	}
	return r
}

func (r *Registry) get(id int32) (rfbcodec.Encoder, bool) {
	e, ok := r.encoders[id]
	return e, ok
}

func clientSupports(client []int32, id int32) bool {
	for _, c := range client {
		if c == id {
			return true
		}
	}
	return false
}

// Select applies the selection rules in priority order, restricted to
// encodings both registered and advertised by the client, and falls back
// through Hextile -> RRE -> Raw if nothing more specific matches. Raw is
// always assumed registered and supported, since every client must support
// it per RFC 6143.
func Select(r *Registry, p Params) (int32, rfbcodec.Encoder) {
	supported := func(id int32) (rfbcodec.Encoder, bool) {
		if !clientSupports(p.ClientEncodings, id) {
			return nil, false
		}
		return r.get(id)
	}

	if p.Hint == HintScrolling && p.CopyRect.Found {
		if e, ok := supported(rfbcodec.EncodingCopyRect); ok {
			return rfbcodec.EncodingCopyRect, e
		}
	}

	if p.Hint == HintSolid {
		if e, ok := supported(rfbcodec.EncodingRRE); ok {
			return rfbcodec.EncodingRRE, e
		}
	}

	switch p.Profile {
	case config.ProfileWAN:
		if e, ok := supported(rfbcodec.EncodingZRLE); ok {
			return rfbcodec.EncodingZRLE, e
		}
		if e, ok := supported(rfbcodec.EncodingHextile); ok {
			return rfbcodec.EncodingHextile, e
		}

	case config.ProfileLAN:
		if id, e := selectLAN(r, p, supported); e != nil {
			return id, e
		}

	case config.ProfileLocalhost:
		if e, ok := supported(rfbcodec.EncodingRaw); ok {
			return rfbcodec.EncodingRaw, e
		}
	}

	for _, id := range []int32{rfbcodec.EncodingHextile, rfbcodec.EncodingRRE, rfbcodec.EncodingRaw} {
		if e, ok := supported(id); ok {
			return id, e
		}
	}
	return rfbcodec.EncodingRaw, rfbcodec.RawEncoder{}
}

func selectLAN(r *Registry, p Params, supported func(int32) (rfbcodec.Encoder, bool)) (int32, rfbcodec.Encoder) {
	area := 0.0
	if p.FramebufferArea > 0 {
		area = float64(p.Rect.W*p.Rect.H) / float64(p.FramebufferArea)
	}
	pixels := p.Rect.W * p.Rect.H

	if area < p.LAN.RawAreaThreshold && pixels < p.LAN.RawMaxPixels {
		if e, ok := supported(rfbcodec.EncodingRaw); ok {
			return rfbcodec.EncodingRaw, e
		}
	}

	if area >= p.LAN.ZlibAreaThreshold && pixels >= p.LAN.ZlibMinPixels && !p.ZlibWarmingUp {
		if e, ok := supported(rfbcodec.EncodingZlib); ok {
			return rfbcodec.EncodingZlib, e
		}
	}

	if area >= p.LAN.JPEGAreaThreshold && p.Hint == HintDynamic {
		if e, ok := supported(rfbcodec.EncodingTight); ok {
			return rfbcodec.EncodingTight, e
		}
	}

	if e, ok := supported(rfbcodec.EncodingZRLE); ok {
		return rfbcodec.EncodingZRLE, e
	}

	return 0, nil
}

// RawWins reports whether the Raw encoding of the same rectangle would be
// smaller than the candidate's encoded length, given the pixel area and
// bytes-per-pixel the client negotiated. A chosen encoder that loses to
// Raw must fall back to it.
func RawWins(candidateLen, width, height, bytesPerPixel int) bool {
	return candidateLen > width*height*bytesPerPixel
}

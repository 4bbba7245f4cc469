// Package scheduler drives one connection's steady-state update cycle:
// frame pacing against the negotiated network profile, capture-to-diff-to-
// encode-to-send, and the bounded CopyRect source search that feeds the
// encoder selector's scrolling hint.
package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/rcarmo/go-vnc-server/internal/changedetect"
	"github.com/rcarmo/go-vnc-server/internal/config"
	"github.com/rcarmo/go-vnc-server/internal/framebuffer"
	"github.com/rcarmo/go-vnc-server/internal/pixelformat"
	"github.com/rcarmo/go-vnc-server/internal/rfb"
	"github.com/rcarmo/go-vnc-server/internal/rfbcodec"
	"github.com/rcarmo/go-vnc-server/internal/rfbcodec/selector"
	"github.com/rcarmo/go-vnc-server/internal/screen"
)

// copyRectSearchRadius bounds the scrolling-match search to a window
// around the destination rectangle, trading recall for a predictable
// per-rectangle cost.
const copyRectSearchRadius = 32

// continuousUpdatesDeferralCycles is the ContinuousUpdates deferral
// deadline, expressed in scheduler cycles rather than wall-clock duration
// since every cycle already runs once per negotiated frame interval: a
// deadline of "frame interval x 2" is exactly two cycles.
const continuousUpdatesDeferralCycles = 2

// Scheduler owns the send side of one connection: it never reads client
// messages, only the session's accessor methods and the shared
// framebuffer/detector/streams state the session also owns.
type Scheduler struct {
	registry *selector.Registry
	vncCfg   config.VNCConfig
	lanCfg   config.LANTuningConfig
	profile  config.NetworkProfile

	fb        *framebuffer.Snapshot
	screenSrc screen.Source
	session   *rfb.ClientSession
	out       io.Writer

	cyclesRun   int
	totalCycles int

	// deferSinceCycle is nonzero while the scheduler is withholding an
	// empty FramebufferUpdate for a ContinuousUpdates client awaiting the
	// deferral deadline; it holds the totalCycles value deferral began at.
	deferSinceCycle int

	lastCursor     *screen.CursorImage
	haveSentCursor bool
}

// New builds a scheduler for one connection. fb is the connection's
// last-sent snapshot, pre-sized to the initial framebuffer dimensions.
func New(registry *selector.Registry, vncCfg config.VNCConfig, lanCfg config.LANTuningConfig, profile config.NetworkProfile, fb *framebuffer.Snapshot, screenSrc screen.Source, session *rfb.ClientSession, out io.Writer) *Scheduler {
	return &Scheduler{
		registry:  registry,
		vncCfg:    vncCfg,
		lanCfg:    lanCfg,
		profile:   profile,
		fb:        fb,
		screenSrc: screenSrc,
		session:   session,
		out:       out,
	}
}

// DetermineNetworkProfile classifies a connection's remote address, unless
// an explicit override is configured. Loopback addresses become
// "localhost", RFC 1918/ULA private ranges become "lan", and everything
// else is treated as "wan" (the conservative choice: favour compression
// over bandwidth when the peer's locality is unknown).
func DetermineNetworkProfile(addr net.Addr, override config.NetworkProfile) config.NetworkProfile {
	if override != config.ProfileAuto {
		return override
	}
	host := addr.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return config.ProfileWAN
	}
	if ip.IsLoopback() {
		return config.ProfileLocalhost
	}
	if ip.IsPrivate() {
		return config.ProfileLAN
	}
	return config.ProfileWAN
}

// FrameInterval returns the target duration between send cycles for the
// given profile.
func FrameInterval(profile config.NetworkProfile, cfg config.VNCConfig) time.Duration {
	fps := cfg.FrameRate
	if profile == config.ProfileLAN || profile == config.ProfileLocalhost {
		fps = cfg.LANFrameRate
	}
	if fps <= 0 {
		fps = 30
	}
	return time.Second / time.Duration(fps)
}

// Run ticks at the profile's frame interval until ctx is cancelled or a
// cycle returns a non-recoverable error.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := FrameInterval(s.profile, s.vncCfg)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.cycle(); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) cycle() error {
	s.totalCycles++

	pending := s.session.PeekPendingRequest()
	if !pending.Active {
		return nil
	}

	capture, err := s.screenSrc.Capture(screen.Region{X: 0, Y: 0, W: s.fb.Width, H: s.fb.Height})
	if err != nil {
		var captureErr *screen.CaptureError
		if errors.As(err, &captureErr) && captureErr.Kind == screen.Unavailable {
			return nil
		}
		return fmt.Errorf("scheduler: capture failed: %w", err)
	}

	caps := s.session.Capabilities()
	resized := capture.Width != s.fb.Width || capture.Height != s.fb.Height
	if resized {
		s.fb.Resize(capture.Width, capture.Height)
		s.session.Detector.Resize(capture.Width, capture.Height)
	}

	requested := changedetect.Clamp(pending.Region, capture.Width, capture.Height)

	var rects []changedetect.Rect
	if pending.Incremental {
		dirty := s.session.Detector.Detect(capture.Pixels, capture.Width, capture.Height)
		rects = clipToRegion(dirty, requested)
	} else {
		s.session.Detector.Detect(capture.Pixels, capture.Width, capture.Height)
		if !requested.Empty() {
			rects = []changedetect.Rect{requested}
		}
	}

	pseudoRects := s.collectPseudoRects(caps, resized, capture)

	if len(rects) == 0 && len(pseudoRects) == 0 {
		return s.handleEmptyUpdate(pending, caps)
	}
	s.deferSinceCycle = 0

	current := &framebuffer.Snapshot{Pixels: capture.Pixels, Width: capture.Width, Height: capture.Height}
	format := s.session.Format()

	contentRects, err := s.encodeRects(rects, current, format, capture)
	if err != nil {
		return err
	}

	encoded := make([]rfb.EncodedRect, 0, len(pseudoRects)+len(contentRects))
	encoded = append(encoded, pseudoRects...)
	encoded = append(encoded, contentRects...)

	if err := rfb.WriteFramebufferUpdate(s.out, encoded); err != nil {
		return fmt.Errorf("scheduler: writing framebuffer update: %w", err)
	}

	for _, r := range rects {
		pixels, err := current.Rect(r.X, r.Y, r.W, r.H)
		if err != nil {
			return fmt.Errorf("scheduler: re-extracting rectangle for snapshot update: %w", err)
		}
		if err := s.fb.PutRect(r.X, r.Y, r.W, r.H, pixels); err != nil {
			return fmt.Errorf("scheduler: updating last-sent snapshot: %w", err)
		}
	}

	s.session.ClearPendingRequest()
	return nil
}

// handleEmptyUpdate answers an incremental request that turned up nothing
// to send, once the change detector has seen at least two consecutive
// clean frames; until then the request stays pending. Per RFC 6143's
// ContinuousUpdates extension, a client that never negotiated it then gets
// an explicit zero-rectangle FramebufferUpdate; one that did negotiate it
// instead has the server withhold the
// response until either something changes or the deferral deadline (two
// frame intervals) elapses, at which point an empty update is sent anyway
// as a keep-alive.
func (s *Scheduler) handleEmptyUpdate(pending rfb.PendingRequest, caps rfb.Capabilities) error {
	if !pending.Incremental || s.session.Detector.ConsecutiveCleanFrames() < 2 {
		return nil
	}

	if caps.SupportsContinuousUpdates {
		if s.deferSinceCycle == 0 {
			s.deferSinceCycle = s.totalCycles
		}
		if s.totalCycles-s.deferSinceCycle < continuousUpdatesDeferralCycles {
			return nil
		}
	}

	if err := rfb.WriteFramebufferUpdate(s.out, nil); err != nil {
		return fmt.Errorf("scheduler: writing empty framebuffer update: %w", err)
	}
	s.deferSinceCycle = 0
	s.session.ClearPendingRequest()
	return nil
}

// collectPseudoRects builds the DesktopSize and Cursor pseudo-encoding
// rectangles due this cycle, each gated on both the server's own config
// flag and the client having advertised support for it via SetEncodings.
func (s *Scheduler) collectPseudoRects(caps rfb.Capabilities, resized bool, capture screen.CaptureResult) []rfb.EncodedRect {
	var out []rfb.EncodedRect

	if resized && caps.SupportsDesktopSize {
		out = append(out, rfb.EncodedRect{
			X: 0, Y: 0, W: capture.Width, H: capture.Height,
			Encoding: rfbcodec.PseudoEncodingDesktopSize,
		})
	}

	if !s.vncCfg.EnableCursorEncoding || !caps.SupportsCursor {
		return out
	}
	cursorSrc, ok := s.screenSrc.(screen.CursorSource)
	if !ok {
		return out
	}
	img, ok := cursorSrc.Cursor()
	if !ok {
		return out
	}
	if s.haveSentCursor && s.lastCursor != nil && cursorEqual(*s.lastCursor, img) {
		return out
	}

	rect := encodeCursorRect(img, s.session.Format())
	out = append(out, rect)
	cp := img
	s.lastCursor = &cp
	s.haveSentCursor = true
	return out
}

func cursorEqual(a, b screen.CursorImage) bool {
	return a.Width == b.Width && a.Height == b.Height &&
		a.HotX == b.HotX && a.HotY == b.HotY && bytes.Equal(a.Pixels, b.Pixels)
}

// clipToRegion intersects every detected dirty rectangle with the client's
// requested region, dropping rectangles that fall entirely outside it.
func clipToRegion(dirty []changedetect.Rect, region changedetect.Rect) []changedetect.Rect {
	if region.Empty() {
		return nil
	}
	out := make([]changedetect.Rect, 0, len(dirty))
	for _, r := range dirty {
		if clipped, ok := changedetect.IntersectRect(r, region); ok {
			out = append(out, clipped)
		}
	}
	return out
}

// encodeRects encodes every rectangle in rects into wire-ready bytes. When
// EnableParallelEncoding is set, rectangles are farmed out to a bounded
// worker pool sized by EncodingThreads (or the number of CPUs when unset);
// the Encode call for stream-stateful encodings (Tight, ZRLE, Zlib) is
// always serialized against this
// connection's single set of persistent compression streams, but results
// are written into a pre-sized slice indexed by the rectangle's original
// position, so the emitted order always matches rects regardless of which
// worker finishes first.
func (s *Scheduler) encodeRects(rects []changedetect.Rect, current *framebuffer.Snapshot, format pixelformat.Format, capture screen.CaptureResult) ([]rfb.EncodedRect, error) {
	threads := 1
	if s.vncCfg.EnableParallelEncoding {
		threads = s.vncCfg.EncodingThreads
		if threads <= 0 {
			threads = runtime.NumCPU()
		}
	}
	if threads > len(rects) {
		threads = len(rects)
	}
	if threads < 1 {
		threads = 1
	}

	s.cyclesRun++
	bytesPerPixel := int(format.BitsPerPixel) / 8
	warmingUp := s.cyclesRun <= s.lanCfg.ZlibWarmupRequests

	results := make([]rfb.EncodedRect, len(rects))
	errs := make([]error, len(rects))
	var streamMu sync.Mutex

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < threads; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				rect, err := s.encodeOneRect(rects[i], current, format, bytesPerPixel, warmingUp, capture, &streamMu)
				if err != nil {
					errs[i] = err
					continue
				}
				results[i] = rect
			}
		}()
	}
	for i := range rects {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return results, nil
}

func (s *Scheduler) encodeOneRect(r changedetect.Rect, current *framebuffer.Snapshot, format pixelformat.Format, bytesPerPixel int, warmingUp bool, capture screen.CaptureResult, streamMu *sync.Mutex) (rfb.EncodedRect, error) {
	pixels, err := current.Rect(r.X, r.Y, r.W, r.H)
	if err != nil {
		return rfb.EncodedRect{}, fmt.Errorf("scheduler: extracting rectangle: %w", err)
	}

	match := s.findCopyRectMatch(r, pixels)
	hint := classifyHint(match, pixels)

	params := selector.Params{
		ClientEncodings: s.session.ClientEncodings(),
		Hint:            hint,
		Rect:            rfbcodec.Rect{X: r.X, Y: r.Y, W: r.W, H: r.H},
		FramebufferArea: capture.Width * capture.Height,
		Profile:         s.profile,
		LAN:             s.lanCfg,
		CopyRect:        match,
		ZlibWarmingUp:   warmingUp,
	}
	id, enc := selector.Select(s.registry, params)

	in := rfbcodec.Input{
		Rect:    rfbcodec.Rect{X: r.X, Y: r.Y, W: r.W, H: r.H},
		Pixels:  pixels,
		Format:  format,
		SourceX: match.SourceX,
		SourceY: match.SourceY,
	}

	data, err := s.encodeLocked(enc, in, id, streamMu)
	if err != nil {
		return rfb.EncodedRect{}, fmt.Errorf("scheduler: encoding rectangle: %w", err)
	}

	if id != rfbcodec.EncodingRaw && selector.RawWins(len(data), r.W, r.H, bytesPerPixel) {
		data, err = s.encodeLocked(rfbcodec.RawEncoder{}, in, rfbcodec.EncodingRaw, streamMu)
		if err != nil {
			return rfb.EncodedRect{}, fmt.Errorf("scheduler: raw fallback encoding: %w", err)
		}
		id = rfbcodec.EncodingRaw
	}

	return rfb.EncodedRect{X: r.X, Y: r.Y, W: r.W, H: r.H, Encoding: id, Data: data}, nil
}

// encodeLocked serializes calls into encoders that touch this connection's
// shared persistent compression streams; Raw, CopyRect, RRE and Hextile
// carry no such state and run unguarded.
func (s *Scheduler) encodeLocked(enc rfbcodec.Encoder, in rfbcodec.Input, id int32, streamMu *sync.Mutex) ([]byte, error) {
	if usesSharedStreams(id) {
		streamMu.Lock()
		defer streamMu.Unlock()
	}
	return enc.Encode(in, s.session.Streams)
}

func usesSharedStreams(id int32) bool {
	switch id {
	case rfbcodec.EncodingTight, rfbcodec.EncodingZRLE, rfbcodec.EncodingZlib:
		return true
	}
	return false
}

// findCopyRectMatch looks for an identical-pixel region within
// copyRectSearchRadius of the destination rectangle in the previous
// last-sent snapshot, confirming byte-exact equality before reporting a
// match (CopyRect must never be emitted on a mere heuristic guess).
func (s *Scheduler) findCopyRectMatch(r changedetect.Rect, target []byte) selector.CopyRectMatch {
	if r.X+r.W > s.fb.Width || r.Y+r.H > s.fb.Height {
		return selector.CopyRectMatch{}
	}
	for dy := -copyRectSearchRadius; dy <= copyRectSearchRadius; dy++ {
		for dx := -copyRectSearchRadius; dx <= copyRectSearchRadius; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			sx, sy := r.X+dx, r.Y+dy
			if sx < 0 || sy < 0 || sx+r.W > s.fb.Width || sy+r.H > s.fb.Height {
				continue
			}
			if s.fb.EqualRect(sx, sy, r.W, r.H, target) {
				return selector.CopyRectMatch{SourceX: sx, SourceY: sy, Found: true}
			}
		}
	}
	return selector.CopyRectMatch{}
}

func classifyHint(match selector.CopyRectMatch, pixels []byte) selector.Hint {
	if match.Found {
		return selector.HintScrolling
	}
	if isSolid(pixels) {
		return selector.HintSolid
	}
	return selector.HintDynamic
}

func isSolid(pixels []byte) bool {
	if len(pixels) < 8 {
		return true
	}
	first := pixels[0:4]
	for i := 4; i < len(pixels); i += 4 {
		if !bytes.Equal(pixels[i:i+4], first) {
			return false
		}
	}
	return true
}

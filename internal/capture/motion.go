package capture

import (
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

const (
	// GaussianBlurSize is the kernel size used to smooth frames before diffing.
	GaussianBlurSize = 21
	// DiffThreshold is the per-pixel intensity change that counts as motion.
	DiffThreshold = 25
	// DefaultMotionThreshold is the percentage of changed pixels that counts as motion.
	DefaultMotionThreshold = 1.0
	// DefaultIdleAfter is how long the scene must be still before the pacer slows down.
	DefaultIdleAfter = 2 * time.Second
)

// MotionDetector measures how much consecutive frames differ.
type MotionDetector struct {
	threshold float64
	prev      gocv.Mat
	primed    bool
	mu        sync.Mutex
}

// NewMotionDetector creates a detector that reports motion when more than
// threshold percent of pixels change between frames.
func NewMotionDetector(threshold float64) *MotionDetector {
	if threshold <= 0 {
		threshold = DefaultMotionThreshold
	}
	return &MotionDetector{threshold: threshold, prev: gocv.NewMat()}
}

// Detect compares frame with the previous one. It returns whether motion was
// seen and the percentage of changed pixels. The first frame only primes the
// detector.
func (m *MotionDetector) Detect(frame *gocv.Mat) (bool, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frame == nil || frame.Empty() {
		return false, 0
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: GaussianBlurSize, Y: GaussianBlurSize}, 0, 0, gocv.BorderDefault)

	if !m.primed || m.prev.Rows() != blurred.Rows() || m.prev.Cols() != blurred.Cols() {
		blurred.CopyTo(&m.prev)
		m.primed = true
		return false, 0
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, m.prev, &diff)
	gocv.Threshold(diff, &diff, DiffThreshold, 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(diff)) / float64(diff.Rows()*diff.Cols()) * 100.0
	blurred.CopyTo(&m.prev)

	return changed > m.threshold, changed
}

// Reset drops the baseline frame.
func (m *MotionDetector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.primed = false
}

// Close releases the baseline frame.
func (m *MotionDetector) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prev.Close()
	m.prev = gocv.NewMat()
	m.primed = false
}

// Pacer picks the frame interval for the capture loop. While the scene moves
// it runs at the active rate; once it has been still for idleAfter it drops to
// the idle rate. Every frame is still classified; only the rate changes.
type Pacer struct {
	motion    *MotionDetector
	active    time.Duration
	idle      time.Duration
	idleAfter time.Duration
	now       func() time.Time

	lastMotion time.Time
	idling     bool
}

// NewPacer creates a pacer for activeFPS and idleFPS. An idleFPS of zero or
// one not below activeFPS disables slowing down.
func NewPacer(activeFPS, idleFPS int, now func() time.Time) *Pacer {
	if activeFPS <= 0 {
		activeFPS = DefaultFPS
	}
	if now == nil {
		now = time.Now
	}
	p := &Pacer{
		active:    time.Second / time.Duration(activeFPS),
		idleAfter: DefaultIdleAfter,
		now:       now,
	}
	if idleFPS > 0 && idleFPS < activeFPS {
		p.idle = time.Second / time.Duration(idleFPS)
		p.motion = NewMotionDetector(DefaultMotionThreshold)
	}
	p.lastMotion = now()
	return p
}

// Interval returns the current frame interval.
func (p *Pacer) Interval() time.Duration {
	if p.idling {
		return p.idle
	}
	return p.active
}

// Observe feeds a frame to the pacer and reports whether the interval changed.
func (p *Pacer) Observe(frame *gocv.Mat) bool {
	if p.motion == nil {
		return false
	}
	moving, _ := p.motion.Detect(frame)
	return p.observe(moving)
}

func (p *Pacer) observe(moving bool) bool {
	now := p.now()
	if moving {
		p.lastMotion = now
		if p.idling {
			p.idling = false
			return true
		}
		return false
	}
	if !p.idling && now.Sub(p.lastMotion) > p.idleAfter {
		p.idling = true
		return true
	}
	return false
}

// Close releases the pacer's motion detector.
func (p *Pacer) Close() {
	if p.motion != nil {
		p.motion.Close()
	}
}

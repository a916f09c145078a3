package esim

import (
	"time"
)

// Progress defaults
const (
	DefaultRampInterval = 400 * time.Millisecond
	DefaultRampStep     = 2
	DefaultRampCeiling  = 90
)

var stageBaselines = map[Stage]int{
	StageInitializing: 10,
	StageConnecting:   40,
	StageInstalling:   40,
}

// StageBaseline returns the progress value a stage starts at
func StageBaseline(stage Stage) (int, bool) {
	p, ok := stageBaselines[stage]
	return p, ok
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ramp drives the installing estimate. Each started ramp has its own
// generation; ticks carrying an older generation are discarded by the owner.
type ramp struct {
	interval time.Duration
	gen      uint64
	stop     chan struct{}
}

func newRamp(interval time.Duration) *ramp {
	if interval <= 0 {
		interval = DefaultRampInterval
	}
	return &ramp{interval: interval}
}

func (r *ramp) running() bool {
	return r.stop != nil
}

// current reports whether a tick of generation gen belongs to the running ramp
func (r *ramp) current(gen uint64) bool {
	return r.running() && gen == r.gen
}

// start halts any running ramp and begins delivering ticks to out
func (r *ramp) start(out chan<- uint64) {
	r.halt()
	r.gen++
	gen, stop := r.gen, make(chan struct{})
	r.stop = stop

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case out <- gen:
				case <-stop:
					return
				}
			}
		}
	}()
}

func (r *ramp) halt() {
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
}

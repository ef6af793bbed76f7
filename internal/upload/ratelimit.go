package upload

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
	dayWindow    = 24 * time.Hour

	// Pruning old entries is throttled so a hot identity doesn't
	// rescan its history on every check.
	pruneInterval = 5 * time.Minute
)

type volumeEntry struct {
	at   time.Time
	size int64
}

// identityState is the per-uploader sliding-window history. Entries
// are appended in time order; stale ones are pruned lazily.
type identityState struct {
	mu        sync.Mutex
	uploads   []time.Time
	volumes   []volumeEntry
	lastPrune time.Time
}

// Limiter enforces upload-count and byte-volume quotas per identity
// over rolling minute/hour/day windows. State is process-local; every
// backend instance enforces its own quota independently.
type Limiter struct {
	limits RateLimits

	mu         sync.Mutex
	identities map[int64]*identityState

	now func() time.Time
}

func NewLimiter(limits RateLimits) *Limiter {
	return &Limiter{
		limits:     limits,
		identities: make(map[int64]*identityState),
		now:        time.Now,
	}
}

// Reservation is a tentatively recorded upload. Commit fixes its size
// once the true byte count is known; Cancel removes it if the upload
// is later rejected or fails.
type Reservation struct {
	limiter  *Limiter
	state    *identityState
	at       time.Time
	size     int64
	resolved bool
}

// Check reports whether an upload of candidateSize would currently be
// admitted, without recording anything.
func (l *Limiter) Check(identity int64, candidateSize int64) error {
	state := l.identity(identity)
	state.mu.Lock()
	defer state.mu.Unlock()
	return l.evaluate(state, candidateSize)
}

// Reserve checks the quota and, if admitted, records the upload in one
// critical section. Two concurrent uploads for the same identity can
// therefore never both squeeze under a threshold that only has room
// for one.
func (l *Limiter) Reserve(identity int64, candidateSize int64) (*Reservation, error) {
	state := l.identity(identity)
	state.mu.Lock()
	defer state.mu.Unlock()

	if err := l.evaluate(state, candidateSize); err != nil {
		return nil, err
	}

	at := l.now()
	state.uploads = append(state.uploads, at)
	state.volumes = append(state.volumes, volumeEntry{at: at, size: candidateSize})
	return &Reservation{limiter: l, state: state, at: at, size: candidateSize}, nil
}

// Record unconditionally records an upload. Callers that go through
// Reserve never need it; it exists for trusted bookkeeping paths.
func (l *Limiter) Record(identity int64, size int64) {
	state := l.identity(identity)
	state.mu.Lock()
	defer state.mu.Unlock()
	at := l.now()
	state.uploads = append(state.uploads, at)
	state.volumes = append(state.volumes, volumeEntry{at: at, size: size})
}

// Commit replaces the reserved candidate size with the actual written
// size. The candidate is a conservative placeholder when the caller
// did not know the size upfront, so this usually shrinks the entry.
func (r *Reservation) Commit(actualSize int64) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	if r.resolved {
		return
	}
	r.resolved = true
	for i := len(r.state.volumes) - 1; i >= 0; i-- {
		if r.state.volumes[i].at.Equal(r.at) && r.state.volumes[i].size == r.size {
			r.state.volumes[i].size = actualSize
			return
		}
	}
}

// Cancel removes the tentative entry. Idempotent.
func (r *Reservation) Cancel() {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	if r.resolved {
		return
	}
	r.resolved = true
	for i := len(r.state.uploads) - 1; i >= 0; i-- {
		if r.state.uploads[i].Equal(r.at) {
			r.state.uploads = append(r.state.uploads[:i], r.state.uploads[i+1:]...)
			break
		}
	}
	for i := len(r.state.volumes) - 1; i >= 0; i-- {
		if r.state.volumes[i].at.Equal(r.at) && r.state.volumes[i].size == r.size {
			r.state.volumes = append(r.state.volumes[:i], r.state.volumes[i+1:]...)
			break
		}
	}
}

func (l *Limiter) identity(id int64) *identityState {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.identities[id]
	if !ok {
		state = &identityState{lastPrune: l.now()}
		l.identities[id] = state
	}
	return state
}

// evaluate applies all five thresholds. Caller holds state.mu.
func (l *Limiter) evaluate(state *identityState, candidateSize int64) error {
	now := l.now()

	if now.Sub(state.lastPrune) > pruneInterval {
		l.prune(state, now)
	}

	minuteAgo := now.Add(-minuteWindow)
	hourAgo := now.Add(-hourWindow)
	dayAgo := now.Add(-dayWindow)

	var lastMinute, lastHour, lastDay int
	for _, at := range state.uploads {
		if at.After(minuteAgo) {
			lastMinute++
		}
		if at.After(hourAgo) {
			lastHour++
		}
		if at.After(dayAgo) {
			lastDay++
		}
	}

	if lastMinute >= l.limits.UploadsPerMinute {
		return NewRateLimitError(RuleUploadsPerMinute,
			fmt.Sprintf("upload rate limit exceeded: %d uploads per minute", l.limits.UploadsPerMinute))
	}
	if lastHour >= l.limits.UploadsPerHour {
		return NewRateLimitError(RuleUploadsPerHour,
			fmt.Sprintf("upload rate limit exceeded: %d uploads per hour", l.limits.UploadsPerHour))
	}
	if lastDay >= l.limits.UploadsPerDay {
		return NewRateLimitError(RuleUploadsPerDay,
			fmt.Sprintf("upload rate limit exceeded: %d uploads per day", l.limits.UploadsPerDay))
	}

	var bytesLastHour, bytesLastDay int64
	for _, v := range state.volumes {
		if v.at.After(hourAgo) {
			bytesLastHour += v.size
		}
		if v.at.After(dayAgo) {
			bytesLastDay += v.size
		}
	}

	if bytesLastHour+candidateSize > l.limits.BytesPerHour {
		return NewRateLimitError(RuleVolumePerHour,
			fmt.Sprintf("volume limit exceeded: %s per hour", humanize.IBytes(uint64(l.limits.BytesPerHour))))
	}
	if bytesLastDay+candidateSize > l.limits.BytesPerDay {
		return NewRateLimitError(RuleVolumePerDay,
			fmt.Sprintf("volume limit exceeded: %s per day", humanize.IBytes(uint64(l.limits.BytesPerDay))))
	}

	return nil
}

// prune drops entries older than the widest window. Caller holds
// state.mu.
func (l *Limiter) prune(state *identityState, now time.Time) {
	cutoff := now.Add(-dayWindow)

	i := 0
	for i < len(state.uploads) && !state.uploads[i].After(cutoff) {
		i++
	}
	state.uploads = state.uploads[i:]

	j := 0
	for j < len(state.volumes) && !state.volumes[j].at.After(cutoff) {
		j++
	}
	state.volumes = state.volumes[j:]

	state.lastPrune = now
}

// Package state holds the central viewer state shared by the refresh loop,
// the playback controller and the HTTP layer.
package state

import (
	"sync"
	"time"

	"github.com/Dusre/radar/internal/models"
)

// Snapshot is an immutable copy of the store
type Snapshot struct {
	HistoryStep     int                                          `json:"history_step"`
	Animating       bool                                         `json:"animating"`
	AutoRefresh     bool                                         `json:"auto_refresh"`
	RadarTimes      []time.Time                                  `json:"radar_times"`
	RadarLastUpdate time.Time                                    `json:"radar_last_update"`
	NextRefresh     time.Time                                    `json:"next_refresh"`
	NewestStrike    time.Time                                    `json:"newest_strike"`
	Lightning       []models.LightningStrike                     `json:"-"`
	Observations    map[models.Layer][]models.StationObservation `json:"-"`
	Wind            []models.WindObservation                     `json:"-"`
	Status          models.Status                                `json:"status"`
	Version         uint64                                       `json:"version"`
}

// StationCount returns the number of stations currently held for a layer
func (s Snapshot) StationCount(layer models.Layer) int {
	if layer == models.LayerWind {
		return len(s.Wind)
	}
	return len(s.Observations[layer])
}

// Store is the single source of truth for viewer state. Every mutation bumps
// Version and notifies subscribers.
type Store struct {
	mu   sync.RWMutex
	data Snapshot

	subMu  sync.Mutex
	nextID int
	subs   map[int]chan struct{}
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		data: Snapshot{
			Observations: make(map[models.Layer][]models.StationObservation),
		},
		subs: make(map[int]chan struct{}),
	}
}

// Snapshot returns a deep copy of the current state
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.data
	snap.RadarTimes = append([]time.Time(nil), s.data.RadarTimes...)
	snap.Lightning = append([]models.LightningStrike(nil), s.data.Lightning...)
	snap.Wind = append([]models.WindObservation(nil), s.data.Wind...)
	snap.Observations = make(map[models.Layer][]models.StationObservation, len(s.data.Observations))
	for layer, obs := range s.data.Observations {
		snap.Observations[layer] = append([]models.StationObservation(nil), obs...)
	}
	return snap
}

// Subscribe returns a channel that receives a value after state changes.
// Notifications coalesce: a slow reader sees one pending signal, not a backlog.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
	return ch, cancel
}

func (s *Store) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// update applies fn under the write lock and notifies subscribers if fn reports a change
func (s *Store) update(fn func(d *Snapshot) bool) {
	s.mu.Lock()
	changed := fn(&s.data)
	if changed {
		s.data.Version++
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// SetHistoryStep sets the displayed radar frame
func (s *Store) SetHistoryStep(step int) {
	s.update(func(d *Snapshot) bool {
		if d.HistoryStep == step {
			return false
		}
		d.HistoryStep = step
		return true
	})
}

// SetAnimating sets the animation flag
func (s *Store) SetAnimating(on bool) {
	s.update(func(d *Snapshot) bool {
		if d.Animating == on {
			return false
		}
		d.Animating = on
		return true
	})
}

// SetAutoRefresh records whether the refresh timer runs and when it fires next.
// next is cleared when auto-refresh is off.
func (s *Store) SetAutoRefresh(on bool, next time.Time) {
	if !on {
		next = time.Time{}
	}
	s.update(func(d *Snapshot) bool {
		if d.AutoRefresh == on && d.NextRefresh.Equal(next) {
			return false
		}
		d.AutoRefresh = on
		d.NextRefresh = next
		return true
	})
}

// SetRadarTimes replaces the radar time list
func (s *Store) SetRadarTimes(times []time.Time) {
	cp := append([]time.Time(nil), times...)
	s.update(func(d *Snapshot) bool {
		d.RadarTimes = cp
		return true
	})
}

// MarkRadarUpdated records when the radar layer was last refreshed
func (s *Store) MarkRadarUpdated(at time.Time) {
	s.update(func(d *Snapshot) bool {
		d.RadarLastUpdate = at
		return true
	})
}

// SetLightning replaces the strike list. The newest strike time only moves forward.
func (s *Store) SetLightning(strikes []models.LightningStrike) {
	cp := append([]models.LightningStrike(nil), strikes...)
	s.update(func(d *Snapshot) bool {
		d.Lightning = cp
		for _, strike := range cp {
			if strike.Time.After(d.NewestStrike) {
				d.NewestStrike = strike.Time
			}
		}
		return true
	})
}

// SetObservations replaces the station list of a single-parameter layer
func (s *Store) SetObservations(layer models.Layer, obs []models.StationObservation) {
	cp := append([]models.StationObservation(nil), obs...)
	s.update(func(d *Snapshot) bool {
		d.Observations[layer] = cp
		return true
	})
}

// SetWind replaces the wind list
func (s *Store) SetWind(obs []models.WindObservation) {
	cp := append([]models.WindObservation(nil), obs...)
	s.update(func(d *Snapshot) bool {
		d.Wind = cp
		return true
	})
}

// SetStatus sets the user visible status line
func (s *Store) SetStatus(text string, kind models.StatusKind) {
	s.update(func(d *Snapshot) bool {
		if d.Status.Text == text && d.Status.Kind == kind {
			return false
		}
		d.Status = models.Status{Text: text, Kind: kind}
		return true
	})
}

// NewestStrike returns the time of the newest strike ever seen
func (s *Store) NewestStrike() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.NewestStrike
}

// HistoryStep returns the displayed radar step
func (s *Store) HistoryStep() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.HistoryStep
}

// RadarTimes returns a copy of the radar time list
func (s *Store) RadarTimes() []time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]time.Time(nil), s.data.RadarTimes...)
}

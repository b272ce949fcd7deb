package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Dusre/radar/internal/models"
	"github.com/Dusre/radar/internal/radar"
	"github.com/Dusre/radar/internal/state"
	"github.com/Dusre/radar/pkg/logging"
	"github.com/Dusre/radar/pkg/metrics"
)

// Playback status lines shown to the user
const (
	StatusPreloading = "Esiladataan animaatiota..."
	StatusAnimating  = "Animaatio käynnissä"
)

// ErrPlaybackStopped is returned by control calls once Run has returned
var ErrPlaybackStopped = errors.New("playback controller is not running")

// RadarSource lists radar times and downloads radar frames
type RadarSource interface {
	FetchRadarTimes(ctx context.Context, steps int, step time.Duration) ([]time.Time, error)
	FetchMap(ctx context.Context, frame radar.Frame) ([]byte, string, error)
}

// Refresher performs a full data refresh
type Refresher interface {
	RefreshAll(ctx context.Context, trigger string) *RefreshResult
}

// PlaybackConfig holds the timer settings of the controller
type PlaybackConfig struct {
	RefreshInterval    time.Duration
	AnimationInterval  time.Duration
	RadarTimesInterval time.Duration
	HistoryStep        time.Duration
	MaxHistorySteps    int
	Preload            radar.Viewport // used when a client sends no viewport
	PreloadConcurrency int
}

// PlaybackService owns the auto-refresh and animation timers. Both run in a
// single goroutine (Run), so they can never be active at the same time.
type PlaybackService struct {
	cfg       PlaybackConfig
	radar     RadarSource
	refresher Refresher
	store     *state.Store
	cache     *radar.FrameCache
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
	now       func() time.Time

	cmds    chan func(*controller)
	running atomic.Bool
	stopped chan struct{}
}

// NewPlaybackService creates the controller. cache may be nil to disable preloading.
func NewPlaybackService(
	cfg PlaybackConfig,
	radarSource RadarSource,
	refresher Refresher,
	store *state.Store,
	cache *radar.FrameCache,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *PlaybackService {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 2 * time.Minute
	}
	if cfg.AnimationInterval <= 0 {
		cfg.AnimationInterval = time.Second
	}
	if cfg.RadarTimesInterval <= 0 {
		cfg.RadarTimesInterval = 10 * time.Minute
	}
	if cfg.MaxHistorySteps < 1 {
		cfg.MaxHistorySteps = radar.DefaultMaxSteps
	}
	if cfg.HistoryStep <= 0 {
		cfg.HistoryStep = radar.DefaultStep
	}
	if cfg.PreloadConcurrency < 1 {
		cfg.PreloadConcurrency = 1
	}

	return &PlaybackService{
		cfg:       cfg,
		radar:     radarSource,
		refresher: refresher,
		store:     store,
		cache:     cache,
		logger:    logger,
		metrics:   metricsCollector,
		now:       time.Now,
		cmds:      make(chan func(*controller)),
		stopped:   make(chan struct{}),
	}
}

// MaxHistorySteps returns the oldest selectable step
func (s *PlaybackService) MaxHistorySteps() int {
	return s.cfg.MaxHistorySteps
}

// Run loads the radar times, refreshes once, starts auto-refresh and then
// serves timers and control calls until ctx is cancelled.
func (s *PlaybackService) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("playback controller already running")
	}
	defer close(s.stopped)

	s.logger.Info(ctx, "[PLAYBACK_START] Starting playback controller", logging.Fields{
		"refresh_interval":   s.cfg.RefreshInterval.String(),
		"animation_interval": s.cfg.AnimationInterval.String(),
		"max_history_steps":  s.cfg.MaxHistorySteps,
	})

	c := newController(ctx, s)
	c.applyRadarTimes(s.loadRadarTimes(ctx))
	c.startAutoRefresh()
	c.requestRefresh(models.TriggerStartup)

	timesTicker := time.NewTicker(s.cfg.RadarTimesInterval)
	defer timesTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			s.logger.Info(context.Background(), "[PLAYBACK_STOP] Playback controller stopped", nil)
			return nil
		case fn := <-s.cmds:
			fn(c)
		case <-tickC(c.refreshTicker):
			c.onRefreshTick()
		case <-tickC(c.animTicker):
			c.onAnimationTick()
		case <-timesTicker.C:
			c.reloadRadarTimes()
		case res := <-c.refreshDone:
			c.onRefreshDone(res)
		case gen := <-c.preloadDone:
			c.onPreloadDone(gen)
		case times := <-c.timesDone:
			c.loadingTimes = false
			c.applyRadarTimes(times)
		}
	}
}

// exec runs fn on the controller goroutine and waits for it to return
func (s *PlaybackService) exec(ctx context.Context, fn func(c *controller)) error {
	done := make(chan struct{})
	cmd := func(c *controller) {
		defer close(done)
		fn(c)
	}

	select {
	case s.cmds <- cmd:
	case <-s.stopped:
		return ErrPlaybackStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	<-done
	return nil
}

// StartAnimation stops auto-refresh, preloads all frames for vp and then
// steps backwards through the history. A zero vp preloads the configured
// viewport. No-op while animating.
func (s *PlaybackService) StartAnimation(ctx context.Context, vp radar.Viewport) error {
	return s.exec(ctx, func(c *controller) {
		c.startAnimation(vp)
	})
}

// StopAnimation stops the animation, returns to live, resumes auto-refresh and
// refreshes immediately. No-op when not animating.
func (s *PlaybackService) StopAnimation(ctx context.Context) error {
	return s.exec(ctx, func(c *controller) {
		c.stopAndResume()
	})
}

// ToggleAnimation starts or stops the animation and reports whether it is now
// running. vp is only used when starting.
func (s *PlaybackService) ToggleAnimation(ctx context.Context, vp radar.Viewport) (bool, error) {
	var animating bool
	err := s.exec(ctx, func(c *controller) {
		if c.animating {
			c.stopAndResume()
		} else {
			c.startAnimation(vp)
		}
		animating = c.animating
	})
	return animating, err
}

// SetHistoryStep selects a radar frame. The animation is stopped first; step 0
// (live) runs auto-refresh, any other step pauses it. Returns the clamped step.
func (s *PlaybackService) SetHistoryStep(ctx context.Context, step int) (int, error) {
	var applied int
	err := s.exec(ctx, func(c *controller) {
		c.setHistoryStep(step)
		applied = c.step
	})
	return applied, err
}

// RefreshNow stops the animation, returns to live, refreshes and restarts
// auto-refresh. It waits for the refresh to finish.
func (s *PlaybackService) RefreshNow(ctx context.Context) (*RefreshResult, error) {
	wait := make(chan *RefreshResult, 1)
	err := s.exec(ctx, func(c *controller) {
		c.stopAnimation()
		c.setStep(0)
		c.startAutoRefresh()
		c.requestRefresh(models.TriggerManual, wait)
	})
	if err != nil {
		return nil, err
	}

	select {
	case res := <-wait:
		return res, nil
	case <-s.stopped:
		return nil, ErrPlaybackStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReloadRadarTimes fetches the radar time list in the background
func (s *PlaybackService) ReloadRadarTimes(ctx context.Context) error {
	return s.exec(ctx, func(c *controller) {
		c.reloadRadarTimes()
	})
}

// loadRadarTimes fetches the radar time list, falling back to times derived from now
func (s *PlaybackService) loadRadarTimes(ctx context.Context) []time.Time {
	times, err := s.radar.FetchRadarTimes(ctx, s.cfg.MaxHistorySteps, s.cfg.HistoryStep)
	if err != nil {
		s.logger.Warn(ctx, "[PLAYBACK_RADAR_TIMES_FALLBACK] Could not fetch radar capabilities", logging.Fields{
			"error": err.Error(),
		})
		return radar.FallbackTimes(s.now(), s.cfg.MaxHistorySteps, s.cfg.HistoryStep)
	}
	return times
}

// preload downloads every frame of the animation over vp that is not cached
// yet. Failed frames are logged and skipped.
func (s *PlaybackService) preload(ctx context.Context, times []time.Time, vp radar.Viewport) int {
	if s.cache == nil {
		return 0
	}

	timer := s.metrics.NewTimer(nil)
	now := s.now()

	var g errgroup.Group
	g.SetLimit(s.cfg.PreloadConcurrency)
	var loaded atomic.Int64

	for step := 0; step <= s.cfg.MaxHistorySteps; step++ {
		frame := radar.Frame{Viewport: vp}
		if t, ok := radar.HistoricalTime(step, times, now, s.cfg.HistoryStep); ok {
			frame.Time = t
		}
		key := frame.Key()
		if s.cache.Has(key) {
			s.metrics.RecordFrameCache(true)
			continue
		}
		s.metrics.RecordFrameCache(false)

		g.Go(func() error {
			data, contentType, err := s.radar.FetchMap(ctx, frame)
			if err != nil {
				s.logger.Warn(ctx, "[PRELOAD_FRAME_ERROR] Failed to preload radar frame", logging.Fields{
					"step":  step,
					"time":  key.TimeKey,
					"error": err.Error(),
				})
				return nil
			}
			s.cache.Put(key, data, contentType)
			loaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info(ctx, "[PRELOAD_COMPLETE] Radar frames preloaded", logging.Fields{
		"viewport":    vp.String(),
		"loaded":      loaded.Load(),
		"cached":      s.cache.Len(),
		"duration_ms": timer.ObserveDuration().Milliseconds(),
	})
	return int(loaded.Load())
}

// controller is the state owned by the Run goroutine
type controller struct {
	s   *PlaybackService
	ctx context.Context
	wg  sync.WaitGroup

	step        int
	animating   bool
	autoRefresh bool

	refreshTicker *time.Ticker
	animTicker    *time.Ticker

	refreshing    bool
	waiters       []chan *RefreshResult
	queued        string
	queuedWaiters []chan *RefreshResult

	preloadGen   int
	loadingTimes bool

	refreshDone chan *RefreshResult
	preloadDone chan int
	timesDone   chan []time.Time
}

func newController(ctx context.Context, s *PlaybackService) *controller {
	return &controller{
		s:           s,
		ctx:         ctx,
		refreshDone: make(chan *RefreshResult),
		preloadDone: make(chan int),
		timesDone:   make(chan []time.Time),
	}
}

func tickC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (c *controller) syncMetrics() {
	c.s.metrics.SetPlayback(c.step, c.animating)
}

func (c *controller) setStep(step int) {
	c.step = step
	c.s.store.SetHistoryStep(step)
	c.syncMetrics()
}

func (c *controller) startAutoRefresh() {
	if c.autoRefresh || c.animating {
		return
	}
	c.autoRefresh = true
	c.refreshTicker = time.NewTicker(c.s.cfg.RefreshInterval)
	c.s.store.SetAutoRefresh(true, c.s.now().Add(c.s.cfg.RefreshInterval))
}

func (c *controller) stopAutoRefresh() {
	if !c.autoRefresh {
		return
	}
	c.autoRefresh = false
	c.refreshTicker.Stop()
	c.refreshTicker = nil
	c.s.store.SetAutoRefresh(false, time.Time{})
}

func (c *controller) onRefreshTick() {
	if c.animating || c.refreshing {
		return
	}
	c.requestRefresh(models.TriggerTimer)
}

// requestRefresh starts a refresh, or queues one behind the refresh in flight.
// While animating the request is skipped.
func (c *controller) requestRefresh(trigger string, waiters ...chan *RefreshResult) {
	if c.animating {
		skipped := &RefreshResult{Trigger: trigger, Skipped: true}
		for _, w := range waiters {
			w <- skipped
		}
		return
	}

	if c.refreshing {
		if c.queued == "" {
			c.queued = trigger
		}
		c.queuedWaiters = append(c.queuedWaiters, waiters...)
		return
	}

	c.refreshing = true
	c.waiters = append(c.waiters, waiters...)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res := c.s.refresher.RefreshAll(c.ctx, trigger)
		select {
		case c.refreshDone <- res:
		case <-c.ctx.Done():
		}
	}()
}

func (c *controller) onRefreshDone(res *RefreshResult) {
	c.refreshing = false

	if c.autoRefresh {
		c.refreshTicker.Reset(c.s.cfg.RefreshInterval)
		c.s.store.SetAutoRefresh(true, c.s.now().Add(c.s.cfg.RefreshInterval))
	}

	for _, w := range c.waiters {
		w <- res
	}
	c.waiters = nil

	if c.queued != "" {
		trigger, waiters := c.queued, c.queuedWaiters
		c.queued, c.queuedWaiters = "", nil
		c.requestRefresh(trigger, waiters...)
	}
}

func (c *controller) startAnimation(vp radar.Viewport) {
	if c.animating {
		return
	}
	if vp == (radar.Viewport{}) {
		vp = c.s.cfg.Preload
	}

	c.stopAutoRefresh()
	c.animating = true
	c.s.store.SetAnimating(true)
	c.s.store.SetStatus(StatusPreloading, models.StatusLoading)
	c.syncMetrics()

	c.preloadGen++
	gen := c.preloadGen
	times := c.s.store.RadarTimes()

	c.s.logger.Info(c.ctx, "[ANIMATION_START] Preloading animation frames", logging.Fields{
		"generation": gen,
		"frames":     c.s.cfg.MaxHistorySteps + 1,
		"viewport":   vp.String(),
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.s.preload(c.ctx, times, vp)
		select {
		case c.preloadDone <- gen:
		case <-c.ctx.Done():
		}
	}()
}

// onPreloadDone starts the animation ticker unless the animation was stopped
// or restarted since the preload began.
func (c *controller) onPreloadDone(gen int) {
	if !c.animating || gen != c.preloadGen || c.animTicker != nil {
		c.s.logger.Debug(c.ctx, "[ANIMATION_STALE_PRELOAD] Ignoring stale preload", logging.Fields{
			"generation": gen,
			"current":    c.preloadGen,
		})
		return
	}

	c.s.store.SetStatus(StatusAnimating, models.StatusSuccess)
	c.setStep(c.s.cfg.MaxHistorySteps)
	c.animTicker = time.NewTicker(c.s.cfg.AnimationInterval)
}

func (c *controller) onAnimationTick() {
	c.setStep(radar.PrevStep(c.step, c.s.cfg.MaxHistorySteps))
}

func (c *controller) stopAnimation() {
	if !c.animating {
		return
	}

	c.animating = false
	if c.animTicker != nil {
		c.animTicker.Stop()
		c.animTicker = nil
	}
	c.s.store.SetAnimating(false)
	c.setStep(0)

	c.s.logger.Info(c.ctx, "[ANIMATION_STOP] Animation stopped", nil)
}

// stopAndResume is the stop half of the animation button
func (c *controller) stopAndResume() {
	if !c.animating {
		return
	}
	c.stopAnimation()
	c.startAutoRefresh()
	c.requestRefresh(models.TriggerResume)
}

func (c *controller) setHistoryStep(step int) {
	c.stopAnimation()
	c.setStep(radar.ClampStep(step, c.s.cfg.MaxHistorySteps))
	if c.step == 0 {
		c.startAutoRefresh()
	} else {
		c.stopAutoRefresh()
	}
}

func (c *controller) reloadRadarTimes() {
	if c.loadingTimes {
		return
	}
	c.loadingTimes = true

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		times := c.s.loadRadarTimes(c.ctx)
		select {
		case c.timesDone <- times:
		case <-c.ctx.Done():
		}
	}()
}

func (c *controller) applyRadarTimes(times []time.Time) {
	c.s.store.SetRadarTimes(times)
	if c.s.cache != nil {
		if pruned := c.s.cache.Prune(times); pruned > 0 {
			c.s.logger.Debug(c.ctx, "[PLAYBACK_PRUNE_FRAMES] Dropped frames outside the radar time list", logging.Fields{
				"frames": pruned,
			})
		}
	}
}

// shutdown stops both timers and waits for background work to return
func (c *controller) shutdown() {
	if c.animTicker != nil {
		c.animTicker.Stop()
		c.animTicker = nil
	}
	if c.refreshTicker != nil {
		c.refreshTicker.Stop()
		c.refreshTicker = nil
	}
	c.wg.Wait()

	c.autoRefresh = false
	c.animating = false
	c.s.store.SetAutoRefresh(false, time.Time{})
	c.s.store.SetAnimating(false)
}

// Package enrich measures placeholder items in the background. Items
// enter the index with unknown dimensions so scanning stays fast; a
// single low-priority worker then decodes headers in batches and feeds
// the measured dimensions back to the index and the UI.
package enrich

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	log "github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/agentic-research/vitrine/internal/index"
	"github.com/agentic-research/vitrine/internal/scan"
)

// Index is the slice of the metadata store the scheduler needs.
type Index interface {
	PlaceholdersNeedingEnrichment(limit int) ([]string, error)
	SetDimensions(path string, width, height int, video *index.VideoFacts) error
}

// VideoProber extracts dimensions and playback facts from a video
// container.
type VideoProber interface {
	Probe(path string) (width, height int, facts *index.VideoFacts, err error)
}

// NoopProber is the placeholder prober used until a real media probe
// is wired in. Videos it sees stay unmeasured.
type NoopProber struct{}

func (NoopProber) Probe(string) (int, int, *index.VideoFacts, error) {
	return 0, 0, nil, fmt.Errorf("video probing not available")
}

// Update is one measured item, relayed so resident page records can be
// patched without a reload.
type Update struct {
	Path   string
	Width  int
	Height int
	Video  *index.VideoFacts
}

// Options tunes the scheduler.
type Options struct {
	Root      string        // index paths are relative to this directory
	BatchSize int           // placeholders measured per pass
	Interval  time.Duration // idle poll period
}

// Scheduler runs the enrichment loop. One worker by construction: the
// point is to trickle metadata in without competing with scrolling.
type Scheduler struct {
	store  Index
	prober VideoProber
	opt    Options

	updates chan []Update
	control chan bool // true pauses, false resumes

	mu     sync.Mutex
	failed map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler starts the worker. prober may be nil for NoopProber.
func NewScheduler(store Index, prober VideoProber, opt Options) *Scheduler {
	if prober == nil {
		prober = NoopProber{}
	}
	if opt.BatchSize < 1 {
		opt.BatchSize = 200
	}
	if opt.Interval <= 0 {
		opt.Interval = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:   store,
		prober:  prober,
		opt:     opt,
		updates: make(chan []Update, 16),
		control: make(chan bool, 4),
		failed:  make(map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Updates yields one batch per enrichment pass, so consumers refresh
// once per batch instead of once per item.
func (s *Scheduler) Updates() <-chan []Update { return s.updates }

// Pause suspends measuring after the current pass.
func (s *Scheduler) Pause() {
	select {
	case s.control <- true:
	case <-s.ctx.Done():
	}
}

// Resume continues measuring.
func (s *Scheduler) Resume() {
	select {
	case s.control <- false:
	case <-s.ctx.Done():
	}
}

// Stop halts the worker and waits for it to exit.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.done
}

func (s *Scheduler) run() {
	defer close(s.done)
	paused := false
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case paused = <-s.control:
			if !paused {
				resetTimer(timer, 0)
			}
		case <-timer.C:
			if paused {
				continue
			}
			worked := s.pass()
			if worked {
				resetTimer(timer, 10*time.Millisecond)
			} else {
				resetTimer(timer, s.opt.Interval)
			}
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// pass measures one batch. Returns whether any progress was made.
func (s *Scheduler) pass() bool {
	paths, err := s.store.PlaceholdersNeedingEnrichment(s.opt.BatchSize)
	if err != nil {
		log.WithField("err", err).Warn("placeholder query failed")
		return false
	}

	batch := make([]Update, 0, len(paths))
	for _, rel := range paths {
		select {
		case <-s.ctx.Done():
			return false
		default:
		}
		if s.hasFailed(rel) {
			continue
		}
		u, err := s.measure(rel)
		if err != nil {
			// Remember the failure so one broken file cannot pin the
			// worker in a retry loop; a rescan clears the memory.
			log.WithFields(log.Fields{"path": rel, "err": err}).Debug("enrichment skipped")
			s.markFailed(rel)
			continue
		}
		if err := s.store.SetDimensions(rel, u.Width, u.Height, u.Video); err != nil {
			log.WithFields(log.Fields{"path": rel, "err": err}).Warn("dimension write failed")
			continue
		}
		batch = append(batch, u)
	}

	if len(batch) == 0 {
		return false
	}
	select {
	case s.updates <- batch:
	case <-s.ctx.Done():
	}
	return true
}

func (s *Scheduler) measure(rel string) (Update, error) {
	abs := filepath.Join(s.opt.Root, filepath.FromSlash(rel))
	if scan.IsVideoPath(rel) {
		w, h, facts, err := s.prober.Probe(abs)
		if err != nil {
			return Update{}, fmt.Errorf("probe video: %w", err)
		}
		if facts == nil {
			facts = &index.VideoFacts{}
		}
		return Update{Path: rel, Width: w, Height: h, Video: facts}, nil
	}
	w, h, err := measureImage(abs)
	if err != nil {
		return Update{}, err
	}
	return Update{Path: rel, Width: w, Height: h}, nil
}

// measureImage reads dimensions from the header alone. When the header
// reports a degenerate shape it falls back to a full decode, since a
// handful of encoders write bogus header fields with valid pixel data.
func measureImage(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open: %w", err)
	}
	cfg, _, err := image.DecodeConfig(f)
	_ = f.Close() // safe to ignore
	if err == nil && plausible(cfg.Width, cfg.Height) {
		return cfg.Width, cfg.Height, nil
	}

	f, err = os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open: %w", err)
	}
	defer func() { _ = f.Close() }() // safe to ignore
	img, _, err := image.Decode(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode: %w", err)
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}

func plausible(w, h int) bool {
	if w < 1 || h < 1 {
		return false
	}
	ar := float64(w) / float64(h)
	return ar >= index.MinAspectRatio && ar <= index.MaxAspectRatio
}

func (s *Scheduler) hasFailed(rel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.failed[rel]
	return ok
}

func (s *Scheduler) markFailed(rel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[rel] = struct{}{}
}

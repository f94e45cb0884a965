package thumbs

import (
	"context"
	"fmt"
	"image"
	"os"
	"time"

	// Register decoders for every format the scanner admits. GIF, JPEG
	// and PNG ship in the stdlib; the rest come from x/image.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nfnt/resize"
	log "github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Result is one finished thumbnail, delivered only after the identity
// check against the futures table passed.
type Result struct {
	GlobalIndex int
	Path        string
	Bitmap      image.Image
}

// Options sizes the thumbnail pipeline.
type Options struct {
	Workers       int // parallel decode workers
	Width         int // generated thumbnail width in pixels
	MemoryEntries int // decoded bitmaps kept memory-resident
}

// Service is the full thumbnail pipeline: an in-memory bitmap LRU in
// front of the disk cache, a decode/resize worker pool behind it, and
// one low-priority persist worker that serialises disk writes so save
// pressure never competes with reads.
type Service struct {
	disk    *DiskCache
	mem     *lru.Cache[Key, image.Image]
	futures *futureTable
	width   int

	jobs    chan job
	saves   chan saveJob
	results chan Result
	saved   chan string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type job struct {
	idx   int
	path  string
	mtime time.Time
}

type saveJob struct {
	key  Key
	path string
	img  image.Image
}

// NewService starts the worker pool and persist worker.
func NewService(disk *DiskCache, opt Options) (*Service, error) {
	if opt.Workers < 1 {
		opt.Workers = 1
	}
	if opt.Width < 1 {
		opt.Width = 512
	}
	if opt.MemoryEntries < 64 {
		opt.MemoryEntries = 64
	}
	mem, err := lru.New[Key, image.Image](opt.MemoryEntries)
	if err != nil {
		return nil, fmt.Errorf("create bitmap lru: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		disk:    disk,
		mem:     mem,
		futures: newFutureTable(),
		width:   opt.Width,
		jobs:    make(chan job, 1024),
		saves:   make(chan saveJob, 1024),
		results: make(chan Result, 1024),
		saved:   make(chan string, 1024),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	workerDone := make(chan struct{}, opt.Workers)
	for i := 0; i < opt.Workers; i++ {
		go func() {
			s.generateLoop()
			workerDone <- struct{}{}
		}()
	}
	go func() {
		for i := 0; i < opt.Workers; i++ {
			<-workerDone
		}
		close(s.results)
	}()
	go s.persistLoop()

	return s, nil
}

// Request returns the bitmap synchronously on a memory or disk hit.
// On a miss it schedules generation and reports pending; the bitmap
// arrives later on Results. The UI thread never blocks here.
func (s *Service) Request(globalIndex int, path string, mtime time.Time) (image.Image, bool) {
	key := Fingerprint(path, mtime, s.width)
	if img, ok := s.mem.Get(key); ok {
		return img, false
	}
	if img, err := s.disk.Get(key); err == nil {
		s.mem.Add(key, img)
		return img, false
	}

	if !s.futures.register(globalIndex, path) {
		return nil, true // already in flight
	}
	select {
	case s.jobs <- job{idx: globalIndex, path: path, mtime: mtime}:
	default:
		// Queue full during a scroll storm; drop the registration so a
		// later request can retry.
		s.futures.cancel(globalIndex)
	}
	return nil, true
}

// Results yields finished thumbnails; closed by Close.
func (s *Service) Results() <-chan Result { return s.results }

// Saved yields source paths whose thumbnails reached disk, for the
// index's thumb-cached flag. Best-effort; overflow is dropped.
func (s *Service) Saved() <-chan string { return s.saved }

// CancelRange drops pending futures for global indices in [lo, hi).
// In-flight workers are not interrupted; their results fail the
// identity check on arrival instead.
func (s *Service) CancelRange(lo, hi int) {
	if n := s.futures.cancelRange(lo, hi); n > 0 {
		log.WithFields(log.Fields{"lo": lo, "hi": hi, "cancelled": n}).Debug("cancelled thumbnail futures")
	}
}

// Close stops the pipeline and waits for workers to drain.
func (s *Service) Close() {
	s.cancel()
	<-s.done
}

func (s *Service) generateLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case j := <-s.jobs:
			s.generate(j)
		}
	}
}

func (s *Service) generate(j job) {
	img, err := s.render(j.path)
	if err != nil {
		// Unreadable source: the item degrades to "no thumbnail", the
		// next successful load self-heals.
		log.WithFields(log.Fields{"path": j.path, "err": err}).Debug("thumbnail generation failed")
		s.futures.cancel(j.idx)
		return
	}
	if !s.futures.accept(j.idx, j.path) {
		return // evicted or reloaded with different content; drop
	}
	key := Fingerprint(j.path, j.mtime, s.width)
	s.mem.Add(key, img)

	select {
	case s.results <- Result{GlobalIndex: j.idx, Path: j.path, Bitmap: img}:
	case <-s.ctx.Done():
		return
	}
	select {
	case s.saves <- saveJob{key: key, path: j.path, img: img}:
	default:
		// Persist queue full; skip the write, the bitmap regenerates.
	}
}

func (s *Service) render(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = f.Close() }() // safe to ignore

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if img.Bounds().Dx() > s.width {
		img = resize.Resize(uint(s.width), 0, img, resize.Lanczos3)
	}
	return img, nil
}

// persistLoop is the single writer to the disk cache.
func (s *Service) persistLoop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case sj := <-s.saves:
			if err := s.disk.Put(sj.key, sj.img); err != nil {
				log.WithFields(log.Fields{"key": string(sj.key), "err": err}).Debug("thumbnail save failed")
				continue
			}
			select {
			case s.saved <- sj.path:
			default:
			}
		}
	}
}

package index

import (
	"fmt"
	"time"
)

// Kind discriminates the media variant carried by an ItemRecord.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Aspect ratio clamp bounds. Raw files can report degenerate dimensions
// (1x10000 banners, corrupt headers); clamping keeps layout math sane.
const (
	MinAspectRatio = 1.0 / 3.0
	MaxAspectRatio = 100.0
)

// VideoFacts holds the playback metadata recorded for video items.
type VideoFacts struct {
	FPS        float64
	Duration   float64
	FrameCount int64
}

// MediaFacts is a tagged variant: an image carries no extra facts, a
// video must carry VideoFacts. It is validated on the way out of the
// database instead of being poked at through loose key lookups.
type MediaFacts struct {
	Kind  Kind
	Video *VideoFacts
}

// Validate rejects variants that do not match their tag.
func (f MediaFacts) Validate() error {
	switch f.Kind {
	case KindImage:
		if f.Video != nil {
			return fmt.Errorf("image facts carry video metadata")
		}
	case KindVideo:
		if f.Video == nil {
			return fmt.Errorf("video facts missing metadata")
		}
	default:
		return fmt.Errorf("unknown media kind %q", f.Kind)
	}
	return nil
}

// ItemRecord is one dataset entry. Identity is the relative path.
// Width/Height are zero until enrichment measures the file.
type ItemRecord struct {
	ID          int64
	Path        string
	Width       int
	Height      int
	AspectRatio float64
	Facts       MediaFacts
	Tags        []string
	Rating      float64
	Size        int64
	FileType    string
	CTime       time.Time
	MTime       time.Time
	ThumbCached bool
}

// HasDimensions reports whether the record has been measured.
func (r *ItemRecord) HasDimensions() bool {
	return r.Width > 0 && r.Height > 0
}

// ClampAspect bounds an aspect ratio to [1/3, 100]. Non-finite and
// non-positive inputs collapse to 1.0 (square placeholder).
func ClampAspect(ar float64) float64 {
	if ar != ar || ar <= 0 {
		return 1.0
	}
	if ar < MinAspectRatio {
		return MinAspectRatio
	}
	if ar > MaxAspectRatio {
		return MaxAspectRatio
	}
	return ar
}

// Aspect returns the clamped aspect ratio, deriving it from the stored
// dimensions when the cached column is unset.
func (r *ItemRecord) Aspect() float64 {
	if r.AspectRatio > 0 {
		return ClampAspect(r.AspectRatio)
	}
	if r.HasDimensions() {
		return ClampAspect(float64(r.Width) / float64(r.Height))
	}
	return 1.0
}

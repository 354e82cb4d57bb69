// Package proof decides whether a wake-up proof photo matches the stored reference photo.
//
// Both photos are reduced to tiny JPEG thumbnails and their encoded bytes are
// compared at evenly spaced positions. Internal failures fail open: blocking a
// legitimate wake-up is worse than an unverified dismissal.
package proof

import (
	"context"
	"fmt"
	"log/slog"
	"math"
)

// Defaults for the comparison. They are empirical and may be tuned via Options.
const (
	DefaultThumbSize  = 32
	DefaultSampleSize = 1000
	DefaultTolerance  = 40
	DefaultThreshold  = 0.65
)

// Messages shown to the user.
const (
	MsgNoReference = "No reference photo set - proof accepted"
	MsgNoProof     = "No proof photo provided"
	MsgSkipped     = "Comparison skipped - could not process images"
)

// ComparisonResult is the verdict for one proof photo.
type ComparisonResult struct {
	IsMatch    bool    `json:"is_match"`
	Similarity float64 `json:"similarity"`
	Message    string  `json:"message"`
}

// Options tunes the comparison. Zero fields take the defaults.
type Options struct {
	ThumbSize  int     `yaml:"thumb_size"`
	SampleSize int     `yaml:"sample_size"`
	Tolerance  uint8   `yaml:"tolerance"`
	Threshold  float64 `yaml:"threshold"`
}

// DefaultOptions returns the built-in comparison parameters.
func DefaultOptions() Options {
	return Options{
		ThumbSize:  DefaultThumbSize,
		SampleSize: DefaultSampleSize,
		Tolerance:  DefaultTolerance,
		Threshold:  DefaultThreshold,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ThumbSize <= 0 {
		o.ThumbSize = d.ThumbSize
	}
	if o.SampleSize <= 0 {
		o.SampleSize = d.SampleSize
	}
	if o.Tolerance == 0 {
		o.Tolerance = d.Tolerance
	}
	if o.Threshold <= 0 || o.Threshold > 1 {
		o.Threshold = d.Threshold
	}
	return o
}

// ProcessingError describes a failure while preparing an image for comparison.
type ProcessingError struct {
	URI   string
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("proof: %s of %q failed: %v", e.Stage, e.URI, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Verifier compares proof photos against reference photos.
type Verifier struct {
	opts   Options
	thumbs Thumbnailer
}

// NewVerifier creates a verifier. A nil thumbnailer uses JPEGThumbnailer.
func NewVerifier(opts Options, thumbs Thumbnailer) *Verifier {
	if thumbs == nil {
		thumbs = JPEGThumbnailer{}
	}
	return &Verifier{
		opts:   opts.withDefaults(),
		thumbs: thumbs,
	}
}

// Options returns the effective comparison parameters.
func (v *Verifier) Options() Options {
	return v.opts
}

// ValidateProofPhoto compares proof with reference. It never fails: processing
// errors yield a match with similarity 1.
func (v *Verifier) ValidateProofPhoto(ctx context.Context, reference, proof string) ComparisonResult {
	if reference == "" {
		return ComparisonResult{IsMatch: true, Similarity: 1, Message: MsgNoReference}
	}
	if proof == "" {
		return ComparisonResult{IsMatch: false, Similarity: 0, Message: MsgNoProof}
	}

	refBytes, err := v.prepare(ctx, reference)
	if err != nil {
		return failOpen(err)
	}
	proofBytes, err := v.prepare(ctx, proof)
	if err != nil {
		return failOpen(err)
	}

	similarity := Similarity(refBytes, proofBytes, v.opts.SampleSize, v.opts.Tolerance)
	res := v.decide(similarity)
	slog.Debug("Proof: Compared photos", "similarity", similarity, "match", res.IsMatch)
	return res
}

func (v *Verifier) prepare(ctx context.Context, uri string) ([]byte, error) {
	encoded, err := v.thumbs.Thumbnail(ctx, uri, v.opts.ThumbSize)
	if err != nil {
		return nil, &ProcessingError{URI: uri, Stage: "resize", Err: err}
	}
	raw, err := decodeThumbnail(encoded)
	if err != nil {
		return nil, &ProcessingError{URI: uri, Stage: "decode", Err: err}
	}
	return raw, nil
}

func (v *Verifier) decide(similarity float64) ComparisonResult {
	pct := int(math.Round(similarity * 100))
	if similarity >= v.opts.Threshold {
		return ComparisonResult{
			IsMatch:    true,
			Similarity: similarity,
			Message:    fmt.Sprintf("Photo verified! %d%% match with reference", pct),
		}
	}
	return ComparisonResult{
		IsMatch:    false,
		Similarity: similarity,
		Message: fmt.Sprintf("Photo doesn't match reference (%d%% similar, need %d%%)",
			pct, int(math.Round(v.opts.Threshold*100))),
	}
}

func failOpen(err error) ComparisonResult {
	slog.Warn("Proof: Image processing failed, accepting proof", "error", err)
	return ComparisonResult{IsMatch: true, Similarity: 1, Message: MsgSkipped}
}

// Similarity samples up to sampleSize evenly spaced positions of the shorter
// sequence and returns the share of positions whose bytes differ by less than
// tolerance. Empty input scores 0.
func Similarity(a, b []byte, sampleSize int, tolerance uint8) float64 {
	n := min(len(a), len(b))
	if n == 0 || sampleSize <= 0 {
		return 0
	}

	samples := min(sampleSize, n)
	step := n / samples

	matches := 0
	for i := 0; i < samples; i++ {
		idx := i * step
		if absDiff(a[idx], b[idx]) < tolerance {
			matches++
		}
	}
	return float64(matches) / float64(samples)
}

func absDiff(x, y uint8) uint8 {
	if x > y {
		return x - y
	}
	return y - x
}

// DynamicVerifier re-reads its options before every comparison so tuned
// thresholds apply without a restart.
type DynamicVerifier struct {
	options func(ctx context.Context) Options
	thumbs  Thumbnailer
}

// NewDynamicVerifier creates a verifier backed by an options source.
func NewDynamicVerifier(options func(ctx context.Context) Options, thumbs Thumbnailer) *DynamicVerifier {
	return &DynamicVerifier{options: options, thumbs: thumbs}
}

// ValidateProofPhoto implements the same contract as Verifier.ValidateProofPhoto.
func (d *DynamicVerifier) ValidateProofPhoto(ctx context.Context, reference, proof string) ComparisonResult {
	return NewVerifier(d.options(ctx), d.thumbs).ValidateProofPhoto(ctx, reference, proof)
}

package analysis

import (
	"bytes"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	fallbackDescription = "A digital photograph"

	// Aspect ratios beyond this factor classify as landscape or portrait.
	orientationFactor = 1.3

	// Either dimension at or above this marks a high resolution capture.
	highResolutionEdge = 1920
)

var filenameHints = []string{"img", "photo", "pic"}

// fallbackAnalyze produces a heuristic result when no model service can run.
// It never fails: an undecodable image simply yields fewer tags.
func fallbackAnalyze(raw []byte, fileName string) *Result {
	tags := []string{"photo"}

	lowerName := strings.ToLower(fileName)
	for _, hint := range filenameHints {
		if strings.Contains(lowerName, hint) {
			tags = append(tags, "image")
			break
		}
	}

	if img, err := imaging.Decode(bytes.NewReader(raw)); err == nil {
		bounds := img.Bounds()
		width := float64(bounds.Dx())
		height := float64(bounds.Dy())

		switch {
		case width > height*orientationFactor:
			tags = append(tags, "landscape")
		case height > width*orientationFactor:
			tags = append(tags, "portrait")
		default:
			tags = append(tags, "square")
		}

		if bounds.Dx() >= highResolutionEdge || bounds.Dy() >= highResolutionEdge {
			tags = append(tags, "high_resolution")
		}
	}

	return &Result{
		Description: fallbackDescription,
		Tags:        tags,
		Confidence:  ConfidenceFallback,
		Fallback:    true,
	}
}

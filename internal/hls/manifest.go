package hls

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Segment is one produced chunk of audio referenced by a playlist.
// Segments may be reported out of order by the producer; Index defines
// playback order.
type Segment struct {
	Index    int     `json:"index"`
	URL      string  `json:"url"`
	Duration float64 `json:"duration"` // seconds
}

// minTargetDuration is the floor for the advertised target duration.
// Without it, an empty or very-short initial playlist would advertise a
// tiny target duration and drive clients into aggressive polling.
const minTargetDuration = 30

// GenerateManifest renders an HLS media playlist for the segments known so
// far. While isComplete is false the playlist is typed EVENT (segments only
// ever appended); once complete it is typed VOD and terminated with
// #EXT-X-ENDLIST. targetDuration <= 0 means "derive from segments".
//
// An explicit targetDuration is ceiled and emitted as given, even when it is
// below the true maximum segment duration. The builder does not validate its
// input; callers own that contract.
func GenerateManifest(segments []Segment, isComplete bool, targetDuration float64) string {
	lines := []string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		fmt.Sprintf("#EXT-X-TARGETDURATION:%d", TargetDuration(segments, targetDuration)),
		// Segments are never removed from the front, so the sequence base
		// never advances.
		"#EXT-X-MEDIA-SEQUENCE:0",
	}

	if isComplete {
		lines = append(lines, "#EXT-X-PLAYLIST-TYPE:VOD")
	} else {
		lines = append(lines, "#EXT-X-PLAYLIST-TYPE:EVENT")
	}

	lines = append(lines, "")

	// Sort a copy; the caller's slice must not be mutated.
	sorted := make([]Segment, len(segments))
	copy(sorted, segments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Index < sorted[j].Index
	})

	for _, seg := range sorted {
		lines = append(lines, fmt.Sprintf("#EXTINF:%.3f,", seg.Duration), seg.URL)
	}

	if isComplete {
		lines = append(lines, "#EXT-X-ENDLIST")
	}

	return strings.Join(lines, "\n")
}

// TargetDuration returns the #EXT-X-TARGETDURATION value for the given
// segments: the ceiling of the override when one is supplied (> 0), else the
// ceiling of the maximum segment duration, floored at minTargetDuration.
func TargetDuration(segments []Segment, override float64) int {
	if override > 0 {
		return int(math.Ceil(override))
	}

	max := 0.0
	for _, seg := range segments {
		if seg.Duration > max {
			max = seg.Duration
		}
	}
	if max < minTargetDuration {
		max = minTargetDuration
	}
	return int(math.Ceil(max))
}

// ManifestKey returns the canonical storage key for a stream's playlist.
func ManifestKey(streamID string) string {
	return fmt.Sprintf("streams/%s/playlist.m3u8", streamID)
}

// SegmentKey returns the storage key for one audio segment. The index is
// zero-padded to three digits so up to 1000 segments list lexicographically
// in playback order; larger indices widen without truncation, which is fine
// because playback order is driven by manifest content, not store listings.
func SegmentKey(streamID string, chunkIndex int) string {
	return fmt.Sprintf("streams/%s/segment-%03d.mp3", streamID, chunkIndex)
}

// RecommendedPollInterval returns how often clients should re-fetch an EVENT
// playlist, in seconds: half the target duration, floored at 2.
func RecommendedPollInterval(targetDuration int) int {
	if half := targetDuration / 2; half > 2 {
		return half
	}
	return 2
}

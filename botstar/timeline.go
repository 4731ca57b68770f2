package botstar

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	GranularityMinutes TimeGranularity = "minutes"
	GranularityHours   TimeGranularity = "hours"
	GranularityDays    TimeGranularity = "days"
)

// TimeGranularity selects the display format for legend labels.
type TimeGranularity string

// ErrInvalidArgument marks caller contract violations (bad label count,
// unknown granularity). These are programmer errors: they fail fast and
// are never silently coerced.
var ErrInvalidArgument = errors.New("invalid argument")

// TimelineBucket is one fixed-width slice of a reconstructed activity
// timeline: the effective presence state and connected devices at the
// bucket's timestamp, forward-filled from the activity log. Buckets are
// derived on demand and never persisted.
type TimelineBucket struct {
	// TimestampMs is the bucket's tick time (epoch milliseconds)
	TimestampMs int64 `json:"timestamp_ms"`

	// Presence is the forward-filled presence state
	Presence Presence `json:"presence"`

	// Devices are the forward-filled device flags
	Devices DeviceFlags `json:"devices"`
}

// fallbackBucket is the state assumed for ticks before the first logged
// record: offline, no devices connected.
func fallbackBucket(ts int64) TimelineBucket {
	return TimelineBucket{
		TimestampMs: ts,
		Presence:    PresenceOffline,
	}
}

// ReconstructTimeline fills the window [startMs, endMs) with one bucket
// per intervalMs tick, forward-filling each record across unlogged
// intervening time until the next record supersedes it.
//
// records must already be sorted ascending by timestamp (the order
// ActivitySince returns them in). The sweep is a single linear pass over
// records and ticks, never backtracking: a bucket takes the state of the
// most recent record whose timestamp is <= the bucket's tick; ticks
// before the first record use the fallback default.
//
// Ticks are computed by fixed-step addition from startMs, stopping at
// endMs; a window length that isn't an exact multiple of intervalMs
// simply yields a partial trailing interval.
//
// An empty records slice yields a timeline that is entirely the fallback
// state. That is a normal outcome, not an error; the command layer
// decides whether "no data" is worth reporting.
func ReconstructTimeline(
	records []ActivityRecord,
	startMs int64,
	endMs int64,
	intervalMs int64,
) []TimelineBucket {
	if intervalMs <= 0 || endMs <= startMs {
		return nil
	}

	buckets := make([]TimelineBucket, 0, (endMs-startMs)/intervalMs+1)
	cursor := 0

	for ts := startMs; ts < endMs; ts += intervalMs {
		for cursor+1 < len(records) && records[cursor+1].TimestampMs <= ts {
			cursor++
		}
		if len(records) == 0 || records[cursor].TimestampMs > ts {
			buckets = append(buckets, fallbackBucket(ts))
			continue
		}
		rec := records[cursor]
		buckets = append(
			buckets, TimelineBucket{
				TimestampMs: ts,
				Presence:    rec.Presence,
				Devices:     rec.DeviceFlags,
			},
		)
	}
	return buckets
}

// GroupSummary is a coarser display bucket: the representative presence
// state over a group of timeline buckets.
type GroupSummary struct {
	// TimestampMs is the tick time of the group's first bucket
	TimestampMs int64 `json:"timestamp_ms"`

	// Presence is the group's representative (most common) state
	Presence Presence `json:"presence"`
}

// summaryPrecedence is the tie-break order for representative states:
// whichever of these first matches the maximum count wins. Offline-first
// is deliberate - a group that was half offline reads as offline.
var summaryPrecedence = []Presence{
	PresenceOffline,
	PresenceDND,
	PresenceIdle,
	PresenceOnline,
}

// SummarizeBuckets groups the dense timeline into runs of perGroup
// buckets and elects a representative state for each by majority vote.
// On an exact tie, precedence is offline > dnd > idle > online.
// A trailing partial group is summarized over the buckets it has.
func SummarizeBuckets(buckets []TimelineBucket, perGroup int) ([]GroupSummary, error) {
	if perGroup < 1 {
		return nil, fmt.Errorf(
			"%w: buckets per group must be at least 1, got %d",
			ErrInvalidArgument, perGroup,
		)
	}
	summaries := make([]GroupSummary, 0, len(buckets)/perGroup+1)
	for start := 0; start < len(buckets); start += perGroup {
		end := start + perGroup
		if end > len(buckets) {
			end = len(buckets)
		}
		group := buckets[start:end]

		counts := map[Presence]int{}
		maxCount := 0
		for _, b := range group {
			counts[b.Presence]++
			if counts[b.Presence] > maxCount {
				maxCount = counts[b.Presence]
			}
		}
		representative := PresenceOffline
		for _, p := range summaryPrecedence {
			if counts[p] == maxCount {
				representative = p
				break
			}
		}
		summaries = append(
			summaries, GroupSummary{
				TimestampMs: group[0].TimestampMs,
				Presence:    representative,
			},
		)
	}
	return summaries, nil
}

// DeviceRun is a run-length-merged span of identical device flags across
// consecutive timeline buckets, used to draw the device rows on activity
// cards.
type DeviceRun struct {
	// Devices are the flags shared by every bucket in the run
	Devices DeviceFlags `json:"devices"`

	// Buckets is the run length, in timeline buckets
	Buckets int `json:"buckets"`
}

// MergeDeviceRuns collapses the bucket sequence into runs of identical
// device-flag tuples. The runs' lengths always sum to len(buckets).
func MergeDeviceRuns(buckets []TimelineBucket) []DeviceRun {
	runs := make([]DeviceRun, 0)
	for _, b := range buckets {
		if n := len(runs); n > 0 && runs[n-1].Devices == b.Devices {
			runs[n-1].Buckets++
			continue
		}
		runs = append(runs, DeviceRun{Devices: b.Devices, Buckets: 1})
	}
	return runs
}

// GenerateTimeLabels returns count human-readable labels for timestamps
// spaced evenly (integer floor division for the per-step interval) across
// [startMs, endMs], localized to loc and formatted per the granularity:
// hour-with-meridiem for minutes/hours, numeric month/day for days.
//
// This is a pure function of its inputs. count < 2 (an interval needs at
// least two endpoints) and unrecognized granularities fail with
// [ErrInvalidArgument]. If startMs > endMs the two are swapped.
func GenerateTimeLabels(
	startMs int64,
	endMs int64,
	count int,
	granularity TimeGranularity,
	loc *time.Location,
) ([]string, error) {
	if count < 2 {
		return nil, fmt.Errorf(
			"%w: count must be at least 2 to generate intervals, got %d",
			ErrInvalidArgument, count,
		)
	}
	switch granularity {
	case GranularityMinutes, GranularityHours, GranularityDays:
	default:
		return nil, fmt.Errorf(
			"%w: invalid granularity %q (valid: 'minutes', 'hours', 'days')",
			ErrInvalidArgument, granularity,
		)
	}
	if loc == nil {
		loc = time.UTC
	}
	if startMs > endMs {
		startMs, endMs = endMs, startMs
	}

	interval := (endMs - startMs) / int64(count-1)

	labels := make([]string, 0, count)
	for i := 0; i < count; i++ {
		ts := time.UnixMilli(startMs + int64(i)*interval).In(loc)
		labels = append(labels, formatTimeLabel(ts, granularity))
	}
	return labels, nil
}

// formatTimeLabel renders a single legend label. Minutes and hours share
// the hour-with-meridiem format ('3 PM'); days render as numeric
// month/day ('6/5').
func formatTimeLabel(ts time.Time, granularity TimeGranularity) string {
	switch granularity {
	case GranularityDays:
		return strconv.Itoa(int(ts.Month())) + "/" + strconv.Itoa(ts.Day())
	default:
		return ts.Format("3 PM")
	}
}

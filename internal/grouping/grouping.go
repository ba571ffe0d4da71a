// Package grouping derives presentation views from an ordered message
// list: calendar-date buckets, sender-run collapsing and unread counts.
// Everything here is a pure function over its input.
package grouping

import (
	"sort"
	"time"

	"github.com/chatdeskhq/chatdesk/internal/model"
)

// DefaultGap is the maximum gap between two messages of the same
// sender for them to collapse into one visual run.
const DefaultGap = 60 * time.Second

// Options bundles the configured presentation settings for a timeline:
// the viewer's timezone offset for date bucketing and the collapse gap
// for sender runs.
type Options struct {
	Gap      time.Duration
	TZOffset time.Duration
}

// DateBucket is one calendar day of messages.
type DateBucket struct {
	Date     time.Time // midnight of the bucket's day in the grouping zone
	Messages []*model.Message
}

// GroupByDate partitions messages into ordered calendar-date buckets.
// tzOffset shifts the boundary from UTC (e.g. -3*time.Hour for UTC-3);
// zero groups by UTC date. Every message lands in exactly one bucket,
// input order within a day is preserved, and buckets come out in
// ascending date order regardless of input order.
func GroupByDate(msgs []*model.Message, tzOffset time.Duration) []DateBucket {
	var buckets []DateBucket
	byDay := make(map[time.Time]int)
	for _, m := range msgs {
		day := m.Timestamp.Add(tzOffset).UTC().Truncate(24 * time.Hour)
		i, ok := byDay[day]
		if !ok {
			i = len(buckets)
			byDay[day] = i
			buckets = append(buckets, DateBucket{Date: day})
		}
		buckets[i].Messages = append(buckets[i].Messages, m)
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Date.Before(buckets[j].Date)
	})
	return buckets
}

// IsSequential reports whether curr collapses visually with prev:
// same direction, same sender, and less than gap apart. It affects
// avatar/sender-label rendering only, never ordering or counts.
func IsSequential(prev, curr *model.Message, gap time.Duration) bool {
	if prev == nil || curr == nil {
		return false
	}
	if prev.FromMe != curr.FromMe || prev.SenderID != curr.SenderID {
		return false
	}
	d := curr.Timestamp.Sub(prev.Timestamp)
	return d >= 0 && d < gap
}

// UnreadCount counts inbound messages not yet read.
func UnreadCount(msgs []*model.Message) int {
	n := 0
	for _, m := range msgs {
		if !m.FromMe && m.Status != model.StatusRead {
			n++
		}
	}
	return n
}

package host

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Note is the host's metadata for one note. Timestamps are kept exactly as
// the host reported them; ParseTime interprets them.
type Note struct {
	UUID         string
	Name         string
	Tags         []string
	Created      string
	Updated      string
	Archived     bool
	Published    bool
	SharedByMe   bool
	SharedWithMe bool
	HasTasks     bool
}

// TaskDomain groups notes whose tasks are listed together
type TaskDomain struct {
	UUID      string
	Name      string
	NoteUUIDs []string // empty means every note
}

// Task is a host task. Time fields carry whatever unit the host used:
// some hosts report seconds, others milliseconds. Zero means unset.
type Task struct {
	UUID        string
	NoteUUID    string
	Content     string
	Important   bool
	Urgent      bool
	Score       float64
	StartAt     int64
	EndAt       int64
	CompletedAt int64
	DismissedAt int64
	HideUntil   int64
	CreatedAt   int64
}

// NoteSource lists notes and reads their markdown content
type NoteSource interface {
	ListNotes(ctx context.Context) ([]Note, error)
	NoteContent(ctx context.Context, uuid string) (string, error)
}

// TaskSource lists task domains and their tasks
type TaskSource interface {
	ListTaskDomains(ctx context.Context) ([]TaskDomain, error)
	ListTasks(ctx context.Context, domainUUID string) ([]Task, error)
}

// Settings reads and writes host-persisted settings
type Settings interface {
	Setting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Host is everything the engine reads from the note application
type Host interface {
	NoteSource
	TaskSource
	Settings
}

// millisecondThreshold separates second and millisecond epochs: 1e11
// seconds is year 5138, while 1e11 milliseconds is March 1973.
const millisecondThreshold = 1e11

// NormalizeTimestamp converts a host epoch value of either unit to a time.
// Zero reports false.
func NormalizeTimestamp(v int64) (time.Time, bool) {
	if v == 0 {
		return time.Time{}, false
	}
	if v > millisecondThreshold || v < -millisecondThreshold {
		return time.UnixMilli(v).UTC(), true
	}
	return time.Unix(v, 0).UTC(), true
}

var noteTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime interprets a note timestamp: RFC 3339 and common date layouts,
// or a numeric epoch in seconds or milliseconds
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return NormalizeTimestamp(n)
	}
	for _, layout := range noteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

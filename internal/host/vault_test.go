package host

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func setupVault(t *testing.T) *Vault {
	t.Helper()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "notes", "garden.md"), `---
uuid: note-garden
title: Garden
tags: [home, plants]
created: 2024-03-01T10:00:00Z
updated: 2024-03-05T10:00:00Z
archived: false
shared_with_me: true
---
# Beds

Plant tomatoes.
`)
	writeFile(t, filepath.Join(root, "notes", "work", "weekly-review.md"), "Plain note without front matter.\n")
	writeFile(t, filepath.Join(root, "notes", "readme.txt"), "ignored")
	writeFile(t, filepath.Join(root, "tasks.yaml"), `
domains:
  - uuid: d1
    name: Home
    notes: [note-garden]
tasks:
  - uuid: t1
    note: note-garden
    content: water the beds
    important: true
    start_at: 1700000000
    created_at: 1700000000000
  - uuid: t2
    note: other
    content: file taxes
`)

	v, err := NewVault(root, nil)
	require.NoError(t, err)
	return v
}

func TestVault_ListNotes(t *testing.T) {
	v := setupVault(t)
	notes, err := v.ListNotes(context.Background())
	require.NoError(t, err)
	require.Len(t, notes, 2)

	garden := notes[0]
	assert.Equal(t, "note-garden", garden.UUID)
	assert.Equal(t, "Garden", garden.Name)
	assert.Equal(t, []string{"home", "plants"}, garden.Tags)
	assert.Equal(t, "2024-03-05T10:00:00Z", garden.Updated)
	assert.True(t, garden.SharedWithMe)
	assert.True(t, garden.HasTasks)

	plain := notes[1]
	assert.Equal(t, "work/weekly-review", plain.UUID)
	assert.Equal(t, "Weekly Review", plain.Name)
	assert.NotEmpty(t, plain.Updated)
	_, ok := ParseTime(plain.Updated)
	assert.True(t, ok)
	assert.False(t, plain.HasTasks)
}

func TestVault_NoteContent(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()

	// Content lookups work before any listing
	body, err := v.NoteContent(ctx, "note-garden")
	require.NoError(t, err)
	assert.Equal(t, "# Beds\n\nPlant tomatoes.\n", body)

	body, err = v.NoteContent(ctx, "work/weekly-review")
	require.NoError(t, err)
	assert.Equal(t, "Plain note without front matter.\n", body)

	_, err = v.NoteContent(ctx, "missing")
	assert.ErrorIs(t, err, ErrNoteNotFound)
}

func TestVault_Tasks(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()

	domains, err := v.ListTaskDomains(ctx)
	require.NoError(t, err)
	require.Len(t, domains, 1)
	assert.Equal(t, "d1", domains[0].UUID)

	tasks, err := v.ListTasks(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "water the beds", tasks[0].Content)
	assert.True(t, tasks[0].Important)
	assert.Equal(t, int64(1700000000), tasks[0].StartAt)
	assert.Equal(t, int64(1700000000000), tasks[0].CreatedAt)

	_, err = v.ListTasks(ctx, "nope")
	assert.Error(t, err)
}

func TestVault_DefaultDomain(t *testing.T) {
	v, err := NewVault(t.TempDir(), nil)
	require.NoError(t, err)

	domains, err := v.ListTaskDomains(context.Background())
	require.NoError(t, err)
	require.Len(t, domains, 1)
	assert.Equal(t, "all", domains[0].UUID)

	tasks, err := v.ListTasks(context.Background(), "all")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestVault_Settings(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()

	value, err := v.Setting(ctx, "collection")
	require.NoError(t, err)
	assert.Equal(t, "", value)

	require.NoError(t, v.SetSetting(ctx, "collection", "notes"))
	value, err = v.Setting(ctx, "collection")
	require.NoError(t, err)
	assert.Equal(t, "notes", value)
}

func TestNormalizeTimestamp(t *testing.T) {
	seconds, ok := NormalizeTimestamp(1700000000)
	require.True(t, ok)
	millis, ok := NormalizeTimestamp(1700000000000)
	require.True(t, ok)
	assert.True(t, seconds.Equal(millis))
	assert.Equal(t, 2023, seconds.Year())

	_, ok = NormalizeTimestamp(0)
	assert.False(t, ok)
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"2024-03-05T10:00:00Z", true},
		{"2024-03-05T10:00:00.123456789+02:00", true},
		{"2024-03-05 10:00:00", true},
		{"2024-03-05", true},
		{"1700000000", true},
		{"1700000000000", true},
		{"", false},
		{"yesterday", false},
	}
	for _, tt := range tests {
		_, ok := ParseTime(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestWatcher_DebouncesEvents(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "notes"), 0o755))

	var calls atomic.Int32
	w := NewWatcher(root, 50*time.Millisecond, func(context.Context) { calls.Add(1) }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the tree
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 5; i++ {
		writeFile(t, filepath.Join(root, "notes", "a.md"), "edit")
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	require.NoError(t, <-done)
}

func TestRelevant(t *testing.T) {
	assert.True(t, relevant("/v/notes/a.md"))
	assert.True(t, relevant("/v/tasks.yaml"))
	assert.False(t, relevant("/v/settings.yaml"))
	assert.False(t, relevant("/v/notes/.a.md.swp"))
	assert.False(t, relevant("/v/notes/a.md~"))
}

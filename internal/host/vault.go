package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	notesDir     = "notes"
	tasksFile    = "tasks.yaml"
	settingsFile = "settings.yaml"
)

// ErrNoteNotFound is returned for an unknown note uuid
var ErrNoteNotFound = errors.New("note not found")

// Vault implements Host over a directory:
//
//	<root>/notes/**/*.md   markdown notes with optional YAML front matter
//	<root>/tasks.yaml      task domains and tasks
//	<root>/settings.yaml   flat string settings
type Vault struct {
	root   string
	logger *zap.Logger

	mu    sync.Mutex
	paths map[string]string // note uuid -> absolute path, filled by ListNotes
}

var _ Host = (*Vault)(nil)

// NewVault returns a vault rooted at root. The notes directory is created
// if it does not exist.
func NewVault(root string, logger *zap.Logger) (*Vault, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(root, notesDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create vault: %w", err)
	}
	return &Vault{
		root:   root,
		logger: logger.With(zap.String("component", "vault")),
		paths:  make(map[string]string),
	}, nil
}

// Root returns the vault directory
func (v *Vault) Root() string {
	return v.root
}

// frontMatter is the YAML header of a note file
type frontMatter struct {
	UUID         string   `yaml:"uuid"`
	Title        string   `yaml:"title"`
	Tags         []string `yaml:"tags"`
	Created      string   `yaml:"created"`
	Updated      string   `yaml:"updated"`
	Archived     bool     `yaml:"archived"`
	Published    bool     `yaml:"published"`
	SharedByMe   bool     `yaml:"shared_by_me"`
	SharedWithMe bool     `yaml:"shared_with_me"`
}

// ListNotes scans the notes directory
func (v *Vault) ListNotes(ctx context.Context) ([]Note, error) {
	withTasks, err := v.notesWithTasks()
	if err != nil {
		return nil, err
	}

	var notes []Note
	paths := make(map[string]string)
	base := filepath.Join(v.root, notesDir)

	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to access path %s: %w", path, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != base {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".md" {
			return nil
		}

		note, err := v.readNoteMeta(base, path, d)
		if err != nil {
			v.logger.Warn("skipping unreadable note", zap.String("path", path), zap.Error(err))
			return nil
		}
		if _, dup := paths[note.UUID]; dup {
			v.logger.Warn("duplicate note uuid", zap.String("uuid", note.UUID), zap.String("path", path))
			return nil
		}
		note.HasTasks = withTasks[note.UUID]
		paths[note.UUID] = path
		notes = append(notes, note)
		return nil
	})
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.paths = paths
	v.mu.Unlock()

	sort.Slice(notes, func(i, j int) bool { return notes[i].UUID < notes[j].UUID })
	return notes, nil
}

func (v *Vault) readNoteMeta(base, path string, d fs.DirEntry) (Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Note{}, err
	}
	fm, _, err := splitFrontMatter(data)
	if err != nil {
		return Note{}, err
	}

	rel, err := filepath.Rel(base, path)
	if err != nil {
		return Note{}, err
	}
	rel = filepath.ToSlash(rel)

	note := Note{
		UUID:         fm.UUID,
		Name:         fm.Title,
		Tags:         fm.Tags,
		Created:      fm.Created,
		Updated:      fm.Updated,
		Archived:     fm.Archived,
		Published:    fm.Published,
		SharedByMe:   fm.SharedByMe,
		SharedWithMe: fm.SharedWithMe,
	}
	if note.UUID == "" {
		note.UUID = strings.TrimSuffix(rel, ".md")
	}
	if note.Name == "" {
		note.Name = titleFromFilename(rel)
	}
	if note.Updated == "" || note.Created == "" {
		info, err := d.Info()
		if err != nil {
			return Note{}, err
		}
		stamp := info.ModTime().UTC().Format(time.RFC3339Nano)
		if note.Updated == "" {
			note.Updated = stamp
		}
		if note.Created == "" {
			note.Created = stamp
		}
	}
	return note, nil
}

// NoteContent returns the markdown body of a note without its front matter
func (v *Vault) NoteContent(ctx context.Context, uuid string) (string, error) {
	v.mu.Lock()
	path, ok := v.paths[uuid]
	v.mu.Unlock()

	if !ok {
		if _, err := v.ListNotes(ctx); err != nil {
			return "", err
		}
		v.mu.Lock()
		path, ok = v.paths[uuid]
		v.mu.Unlock()
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrNoteNotFound, uuid)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read note %s: %w", uuid, err)
	}
	_, body, err := splitFrontMatter(data)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// splitFrontMatter separates a leading "---" YAML block from the body
func splitFrontMatter(data []byte) (frontMatter, []byte, error) {
	var fm frontMatter
	normalized := bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return fm, normalized, nil
	}

	rest := normalized[4:]
	end := bytes.Index(rest, []byte("\n---"))
	if end == -1 {
		return fm, normalized, nil
	}

	if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
		return fm, nil, fmt.Errorf("invalid front matter: %w", err)
	}

	body := rest[end+len("\n---"):]
	if i := bytes.IndexByte(body, '\n'); i != -1 {
		body = body[i+1:]
	} else {
		body = nil
	}
	return fm, body, nil
}

// titleFromFilename turns "projects/meeting-notes.md" into "Meeting Notes"
func titleFromFilename(rel string) string {
	name := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	for i, word := range words {
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// tasksDocument is the layout of tasks.yaml
type tasksDocument struct {
	Domains []struct {
		UUID  string   `yaml:"uuid"`
		Name  string   `yaml:"name"`
		Notes []string `yaml:"notes"`
	} `yaml:"domains"`
	Tasks []struct {
		UUID        string  `yaml:"uuid"`
		Note        string  `yaml:"note"`
		Content     string  `yaml:"content"`
		Important   bool    `yaml:"important"`
		Urgent      bool    `yaml:"urgent"`
		Score       float64 `yaml:"score"`
		StartAt     int64   `yaml:"start_at"`
		EndAt       int64   `yaml:"end_at"`
		CompletedAt int64   `yaml:"completed_at"`
		DismissedAt int64   `yaml:"dismissed_at"`
		HideUntil   int64   `yaml:"hide_until"`
		CreatedAt   int64   `yaml:"created_at"`
	} `yaml:"tasks"`
}

func (v *Vault) readTasks() (*tasksDocument, error) {
	var doc tasksDocument
	data, err := os.ReadFile(filepath.Join(v.root, tasksFile))
	if errors.Is(err, fs.ErrNotExist) {
		return &doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks: %w", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", tasksFile, err)
	}
	return &doc, nil
}

func (v *Vault) notesWithTasks() (map[string]bool, error) {
	doc, err := v.readTasks()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(doc.Tasks))
	for _, t := range doc.Tasks {
		out[t.Note] = true
	}
	return out, nil
}

// ListTaskDomains returns the configured domains. Without any configured
// domain a single domain spanning every note is returned.
func (v *Vault) ListTaskDomains(_ context.Context) ([]TaskDomain, error) {
	doc, err := v.readTasks()
	if err != nil {
		return nil, err
	}
	if len(doc.Domains) == 0 {
		return []TaskDomain{{UUID: "all", Name: "All tasks"}}, nil
	}
	domains := make([]TaskDomain, len(doc.Domains))
	for i, d := range doc.Domains {
		domains[i] = TaskDomain{UUID: d.UUID, Name: d.Name, NoteUUIDs: d.Notes}
	}
	return domains, nil
}

// ListTasks returns the tasks of the notes in a domain
func (v *Vault) ListTasks(ctx context.Context, domainUUID string) ([]Task, error) {
	domains, err := v.ListTaskDomains(ctx)
	if err != nil {
		return nil, err
	}

	var domain *TaskDomain
	for i := range domains {
		if domains[i].UUID == domainUUID {
			domain = &domains[i]
			break
		}
	}
	if domain == nil {
		return nil, fmt.Errorf("unknown task domain %q", domainUUID)
	}

	inDomain := make(map[string]bool, len(domain.NoteUUIDs))
	for _, id := range domain.NoteUUIDs {
		inDomain[id] = true
	}

	doc, err := v.readTasks()
	if err != nil {
		return nil, err
	}

	var tasks []Task
	for _, t := range doc.Tasks {
		if len(inDomain) > 0 && !inDomain[t.Note] {
			continue
		}
		tasks = append(tasks, Task{
			UUID:        t.UUID,
			NoteUUID:    t.Note,
			Content:     t.Content,
			Important:   t.Important,
			Urgent:      t.Urgent,
			Score:       t.Score,
			StartAt:     t.StartAt,
			EndAt:       t.EndAt,
			CompletedAt: t.CompletedAt,
			DismissedAt: t.DismissedAt,
			HideUntil:   t.HideUntil,
			CreatedAt:   t.CreatedAt,
		})
	}
	return tasks, nil
}

func (v *Vault) readSettings() (map[string]string, error) {
	settings := make(map[string]string)
	data, err := os.ReadFile(filepath.Join(v.root, settingsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", settingsFile, err)
	}
	return settings, nil
}

// Setting returns a setting value, or "" when unset
func (v *Vault) Setting(_ context.Context, key string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	settings, err := v.readSettings()
	if err != nil {
		return "", err
	}
	return settings[key], nil
}

// SetSetting persists a setting value
func (v *Vault) SetSetting(_ context.Context, key, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	settings, err := v.readSettings()
	if err != nil {
		return err
	}
	settings[key] = value

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	path := filepath.Join(v.root, settingsFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return os.Rename(tmp, path)
}

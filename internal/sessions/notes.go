package sessions

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	maxRecentActivity    = 3
	maxActivityRuneCount = 200
)

// Note is the durable per-context record written alongside the live
// session. It survives restarts and idle eviction.
type Note struct {
	ContextKey     string    `json:"contextKey"`
	ChannelID      string    `json:"channelId,omitempty"`
	UserID         string    `json:"userId,omitempty"`
	Request        string    `json:"request,omitempty"`
	RequestAt      time.Time `json:"requestAt,omitempty"`
	RecentActivity []string  `json:"recentActivity,omitempty"`
}

// NotesStore persists one JSON file per context key under dir. Writes
// replace the whole file; there is no partial update.
type NotesStore struct {
	dir    string
	logger *slog.Logger
}

func NewNotesStore(dir string, logger *slog.Logger) *NotesStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotesStore{dir: dir, logger: logger}
}

// noteFilename maps a context key to a filename. Colons are kept; they
// are legal path characters on the platforms we run on.
func (ns *NotesStore) noteFilename(key string) string {
	return filepath.Join(ns.dir, key+".json")
}

// Upsert writes the note for its context key, replacing any existing file.
func (ns *NotesStore) Upsert(note *Note) error {
	if note.ContextKey == "" {
		return fmt.Errorf("sessions: note without context key")
	}
	if len(note.RecentActivity) > maxRecentActivity {
		note.RecentActivity = note.RecentActivity[len(note.RecentActivity)-maxRecentActivity:]
	}
	for i, entry := range note.RecentActivity {
		note.RecentActivity[i] = clipActivity(entry)
	}

	if err := os.MkdirAll(ns.dir, 0o755); err != nil {
		return fmt.Errorf("sessions: notes dir: %w", err)
	}
	data, err := json.MarshalIndent(note, "", "  ")
	if err != nil {
		return fmt.Errorf("sessions: encode note: %w", err)
	}
	if err := os.WriteFile(ns.noteFilename(note.ContextKey), data, 0o644); err != nil {
		return fmt.Errorf("sessions: write note: %w", err)
	}
	return nil
}

// RecordActivity appends one activity line to the note for key, creating
// the note if needed.
func (ns *NotesStore) RecordActivity(key, activity string) error {
	note, err := ns.Load(key)
	if err != nil {
		return err
	}
	if note == nil {
		note = &Note{ContextKey: key}
	}
	note.RecentActivity = append(note.RecentActivity, clipActivity(activity))
	return ns.Upsert(note)
}

// Load reads the note for key. A missing or malformed file returns nil
// without error; malformed notes are not worth failing a request over.
func (ns *NotesStore) Load(key string) (*Note, error) {
	data, err := os.ReadFile(ns.noteFilename(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: read note: %w", err)
	}
	var note Note
	if err := json.Unmarshal(data, &note); err != nil {
		ns.logger.Warn("skipping malformed session note", "context_key", key, "error", err)
		return nil, nil
	}
	return &note, nil
}

// LoadAll reads every parseable note, sorted by context key. Malformed
// files are skipped.
func (ns *NotesStore) LoadAll() ([]*Note, error) {
	entries, err := os.ReadDir(ns.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: list notes: %w", err)
	}

	var notes []*Note
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		key := strings.TrimSuffix(entry.Name(), ".json")
		note, err := ns.Load(key)
		if err != nil || note == nil {
			continue
		}
		notes = append(notes, note)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].ContextKey < notes[j].ContextKey })
	return notes, nil
}

// Delete removes the note for key. Missing files are not an error.
func (ns *NotesStore) Delete(key string) error {
	err := os.Remove(ns.noteFilename(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sessions: delete note: %w", err)
	}
	return nil
}

func clipActivity(s string) string {
	runes := []rune(s)
	if len(runes) <= maxActivityRuneCount {
		return s
	}
	return string(runes[:maxActivityRuneCount])
}

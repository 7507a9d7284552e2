// Package files holds user-uploaded attachments in memory until the workflow
// engine has had a chance to fetch them. Files expire one hour after upload.
package files

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iacondiego/demo-agente-n8n/internal/expiry"
)

const (
	// TTL is how long an uploaded file stays retrievable.
	TTL = time.Hour
	// MaxSize is the largest accepted upload.
	MaxSize = 10 << 20 // 10 MiB
)

var (
	// ErrNotFound is returned when no file with the given id was ever seen.
	ErrNotFound = errors.New("file not found")
	// ErrExpired is returned when the file existed but its TTL has passed.
	ErrExpired = errors.New("file expired")
	// ErrTooLarge is returned for uploads over MaxSize.
	ErrTooLarge = errors.New("file too large")
	// ErrTypeNotAllowed is returned for MIME types outside the allow-list.
	ErrTypeNotAllowed = errors.New("file type not allowed")
)

// allowedTypes maps accepted MIME types to their coarse kind.
var allowedTypes = map[string]string{
	"image/jpeg": "image",
	"image/png":  "image",
	"image/gif":  "image",
	"image/webp": "image",
	"audio/mpeg": "audio",
	"audio/wav":  "audio",
	"audio/ogg":  "audio",
	"audio/m4a":  "audio",
	"audio/mp4":  "audio",
}

// AllowedTypes returns the accepted MIME types grouped by kind.
func AllowedTypes() map[string][]string {
	out := make(map[string][]string)
	for mime, kind := range allowedTypes {
		out[kind] = append(out[kind], mime)
	}
	return out
}

// File is one stored upload.
type File struct {
	ID         string
	Name       string
	MimeType   string
	Data       []byte
	SessionID  string
	UploadedAt time.Time
}

// Kind returns "image" or "audio" for the file's MIME type.
func (f *File) Kind() string {
	return allowedTypes[f.MimeType]
}

// Size returns the stored byte count.
func (f *File) Size() int {
	return len(f.Data)
}

// Store keeps uploaded files with TTL expiry. Retrieval distinguishes ids
// that were never seen from ids whose file has expired, so the HTTP layer can
// answer 404 versus 410.
type Store struct {
	store  *expiry.Store[*File]
	seen   *expiry.Store[time.Time] // id -> upload time, kept past the file's TTL
	logger *slog.Logger
	ttl    time.Duration
}

// seenTTL is how long an id stays recognizable after upload for the expired
// versus never-seen distinction. Past this, an expired id degrades to not
// found, which is acceptable for such stale references.
const seenTTL = 24 * time.Hour

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the default one-hour retention.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// NewStore creates a file store sweeping on the given cadence.
func NewStore(sweepInterval time.Duration, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		store:  expiry.New[*File](sweepInterval),
		seen:   expiry.New[time.Time](sweepInterval),
		logger: logger,
		ttl:    TTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add validates and stores an upload, returning the stored file with its
// generated id.
func (s *Store) Add(name, mimeType string, data []byte, sessionID string) (*File, error) {
	if _, ok := allowedTypes[mimeType]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotAllowed, mimeType)
	}
	if len(data) > MaxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	f := &File{
		ID:         uuid.NewString(),
		Name:       name,
		MimeType:   mimeType,
		Data:       data,
		SessionID:  sessionID,
		UploadedAt: time.Now(),
	}
	s.store.Set(f.ID, f, s.ttl)
	s.seen.Set(f.ID, f.UploadedAt, seenTTL)

	s.logger.Info("file stored",
		"file_id", f.ID,
		"name", f.Name,
		"kind", f.Kind(),
		"size", f.Size(),
		"session_id", sessionID,
	)
	return f, nil
}

// Get returns the file for id, ErrExpired if its TTL has passed, or
// ErrNotFound if the id is unknown.
func (s *Store) Get(id string) (*File, error) {
	if f, ok := s.store.Get(id); ok {
		return f, nil
	}
	if _, uploaded := s.seen.Get(id); uploaded {
		return nil, ErrExpired
	}
	return nil, ErrNotFound
}

// Count returns the number of files currently stored.
func (s *Store) Count() int {
	return s.store.Len()
}

// Close stops the background sweepers.
func (s *Store) Close() {
	s.store.Close()
	s.seen.Close()
}

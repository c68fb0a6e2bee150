package api

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/solatis/gears/internal/types"
)

// Archive appends every accepted delivery to a daily JSONL file.
// It is a debugging aid; write failures are reported to the caller to log
// and never block dispatch.
type Archive struct {
	dir     string
	now     func() time.Time
	mutexes map[string]*sync.Mutex
	mu      sync.Mutex
}

// ArchiveRecord is one line of the archive.
type ArchiveRecord struct {
	DeliveryID string          `json:"delivery_id"`
	ReceivedAt time.Time       `json:"received_at"`
	Body       json.RawMessage `json:"body"`
}

// NewArchive creates an archive under dir/deliveries. An empty dir returns
// nil; a nil *Archive discards everything.
func NewArchive(dir string) (*Archive, error) {
	if dir == "" {
		return nil, nil
	}
	deliveries := filepath.Join(dir, "deliveries")
	if err := os.MkdirAll(deliveries, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Archive{
		dir:     deliveries,
		now:     time.Now,
		mutexes: make(map[string]*sync.Mutex),
	}, nil
}

// Append writes one delivery. The file is chosen by the UTC date embedded in
// a UUIDv7 delivery id, so a delivery retried after midnight lands next to
// its first attempt. Other ids fall back to the receive date.
func (a *Archive) Append(deliveryID string, body []byte) error {
	if a == nil {
		return nil
	}
	rec := ArchiveRecord{
		DeliveryID: deliveryID,
		ReceivedAt: a.now().UTC(),
		Body:       json.RawMessage(body),
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode archive record: %w", err)
	}
	line = append(line, '\n')

	day := types.DeliveryIDTime(deliveryID)
	if day.IsZero() {
		day = rec.ReceivedAt
	}
	filename := a.Path(day)
	m := a.fileMutex(filename)
	m.Lock()
	defer m.Unlock()

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return nil
}

// Path returns the file holding deliveries received on t's UTC date.
func (a *Archive) Path(t time.Time) string {
	return filepath.Join(a.dir, t.UTC().Format("2006-01-02.jsonl"))
}

// fileMutex returns the mutex for filename. The map grows by one entry a day.
func (a *Archive) fileMutex(filename string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.mutexes[filename]; !ok {
		a.mutexes[filename] = &sync.Mutex{}
	}
	return a.mutexes[filename]
}

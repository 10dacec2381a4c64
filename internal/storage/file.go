package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "taskcore/pkg/logx"
)

const fileRecentCap = 512

// fileStore appends JSON Lines to <prefix>.results.jsonl and keeps the last
// records in memory for Recent.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	f    *os.File
	path string

	// recent is a ring of the newest records; head is the next write slot.
	recent []ResultRecord
	head   int
	full   bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	resultsPath := prefix + ".results.jsonl"

	s := &fileStore{log: log, path: resultsPath, recent: make([]ResultRecord, fileRecentCap)}
	if err := s.replay(resultsPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("result archive replay failed", logx.String("path", resultsPath), logx.Err(err))
	}

	f, err := os.OpenFile(resultsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	log.Debug("file archive opened", logx.String("path", resultsPath))
	return s, nil
}

// replay loads the tail of an existing archive into the ring.
// Malformed lines are skipped.
func (s *fileStore) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var r ResultRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.TaskID == "" {
			continue
		}
		s.pushLocked(r)
	}
	return sc.Err()
}

func (s *fileStore) pushLocked(r ResultRecord) {
	s.recent[s.head] = r
	s.head = (s.head + 1) % len(s.recent)
	if s.head == 0 {
		s.full = true
	}
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendResult(ctx context.Context, r ResultRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("result archive closed")
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.pushLocked(r)
	return nil
}

func (s *fileStore) Recent(ctx context.Context, limit int) ([]ResultRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.head
	if s.full {
		n = len(s.recent)
	}
	if limit > n {
		limit = n
	}
	if limit <= 0 {
		return nil, nil
	}
	out := make([]ResultRecord, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.head - i + len(s.recent)) % len(s.recent)
		out = append(out, s.recent[idx])
	}
	return out, nil
}

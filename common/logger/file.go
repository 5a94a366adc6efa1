package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DailyFile is an io.Writer that appends to <dir>/<prefix>_YYYYMMDD.log and
// switches to a new file when the local date changes.
type DailyFile struct {
	dir    string
	prefix string
	now    func() time.Time

	mu   sync.Mutex
	day  string
	file *os.File
}

func NewDailyFile(dir, prefix string) (*DailyFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	f := &DailyFile{dir: dir, prefix: prefix, now: time.Now}
	if err := f.rotate(f.now().Format("20060102")); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *DailyFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if day := f.now().Format("20060102"); day != f.day {
		if err := f.rotate(day); err != nil {
			return 0, err
		}
	}
	return f.file.Write(p)
}

// Path returns the file currently written to.
func (f *DailyFile) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path(f.day)
}

func (f *DailyFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// rotate must be called with mu held (or before the file is shared).
func (f *DailyFile) rotate(day string) error {
	next, err := os.OpenFile(f.path(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	if f.file != nil {
		_ = f.file.Close()
	}
	f.file = next
	f.day = day
	return nil
}

func (f *DailyFile) path(day string) string {
	return filepath.Join(f.dir, fmt.Sprintf("%s_%s.log", f.prefix, day))
}

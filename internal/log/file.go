package log

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// FileWriter appends JSONL records to dir/<prefix>-YYYY-MM-DD.jsonl, opening
// a new file when the date changes. The daemon and one-shot CLI commands use
// different prefixes so their records never interleave in one file.
type FileWriter struct {
	dir      string
	prefix   string
	mu       sync.Mutex
	file     *os.File
	currDate string
	now      func() time.Time
}

// NewFileWriter creates dir if needed and opens today's file.
func NewFileWriter(dir, prefix string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating debug log dir: %w", err)
	}
	if prefix == "" {
		prefix = "girasol"
	}

	fw := &FileWriter{dir: dir, prefix: prefix, now: time.Now}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if err := fw.rotateLocked(); err != nil {
		return nil, err
	}
	return fw, nil
}

// Write implements io.Writer.
func (fw *FileWriter) Write(p []byte) (n int, err error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.file == nil {
		return 0, os.ErrClosed
	}
	if fw.now().Format(dateLayout) != fw.currDate {
		if err := fw.rotateLocked(); err != nil {
			return 0, err
		}
	}
	return fw.file.Write(p)
}

// Path returns the file currently written to.
func (fw *FileWriter) Path() string {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.pathFor(fw.currDate)
}

// Close closes the underlying file. Later writes fail with os.ErrClosed.
func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.file == nil {
		return nil
	}
	err := fw.file.Close()
	fw.file = nil
	return err
}

func (fw *FileWriter) pathFor(date string) string {
	return filepath.Join(fw.dir, fw.prefix+"-"+date+".jsonl")
}

func (fw *FileWriter) rotateLocked() error {
	if fw.file != nil {
		fw.file.Close()
	}

	today := fw.now().Format(dateLayout)
	path := fw.pathFor(today)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	fw.file = f
	fw.currDate = today
	fw.updateSymlink(filepath.Base(path))
	return nil
}

// updateSymlink points <prefix>-latest at the current file. Best effort.
func (fw *FileWriter) updateSymlink(target string) {
	link := filepath.Join(fw.dir, fw.prefix+"-latest")
	tmp := link + ".tmp"
	os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return
	}
	_ = os.Rename(tmp, link)
}

var datedFile = regexp.MustCompile(`^(.+)-(\d{4}-\d{2}-\d{2})\.jsonl$`)

// Cleanup removes dated log files older than retentionDays, for every prefix.
func Cleanup(dir string, retentionDays int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := datedFile.FindStringSubmatch(entry.Name())
		if m == nil || strings.HasSuffix(m[1], "-latest") {
			continue
		}
		fileDate, err := time.Parse(dateLayout, m[2])
		if err != nil {
			continue
		}
		if fileDate.Before(cutoff) {
			os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
}

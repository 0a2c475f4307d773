package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// ErrClosed is returned by Write after Close.
	ErrClosed = errors.New("storage: recorder is closed")
	// ErrBufferFull is returned when the write queue is saturated. The
	// record is dropped.
	ErrBufferFull = errors.New("storage: buffer full")
)

// Recorder appends JSON lines to <baseDir>/<UTC date>/<name>.jsonl from a
// single background goroutine. Files roll over at the date boundary and at
// maxSizeMB.
type Recorder struct {
	baseDir   string
	name      string
	maxSizeMB int
	now       func() time.Time

	writeCh chan any
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once

	mu          sync.Mutex
	currentDate string
	file        *lumberjack.Logger
}

// NewRecorder starts a recorder. bufferSize bounds the number of queued
// records; maxSizeMB <= 0 uses lumberjack's default.
func NewRecorder(baseDir, name string, bufferSize, maxSizeMB int) *Recorder {
	if bufferSize < 1 {
		bufferSize = 1
	}
	if name == "" {
		name = "ticks"
	}
	r := &Recorder{
		baseDir:   baseDir,
		name:      name,
		maxSizeMB: maxSizeMB,
		now:       time.Now,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
	}

	r.wg.Add(1)
	go r.writeLoop()
	return r
}

// Write queues a record without blocking.
func (r *Recorder) Write(record any) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	select {
	case r.writeCh <- record:
		return nil
	default:
		slog.Warn("recorder buffer full, dropping record", "name", r.name)
		return ErrBufferFull
	}
}

// Close stops the writer after flushing queued records.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()

	for {
		select {
		case record := <-r.writeCh:
			r.writeRecord(record)
		case <-r.done:
			r.drain()
			return
		}
	}
}

func (r *Recorder) drain() {
	deadline := time.After(5 * time.Second)
	for {
		select {
		case record := <-r.writeCh:
			r.writeRecord(record)
		case <-deadline:
			slog.Warn("recorder close timeout, some records may be lost", "name", r.name)
			return
		default:
			return
		}
	}
}

func (r *Recorder) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("failed to marshal record", "error", err, "name", r.name)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	date := r.now().UTC().Format("2006-01-02")
	if r.file == nil || date != r.currentDate {
		if err := r.rotateForDate(date); err != nil {
			slog.Error("failed to open recorder file", "error", err, "name", r.name)
			return
		}
	}

	if _, err := r.file.Write(append(data, '\n')); err != nil {
		slog.Error("failed to write record", "error", err, "name", r.name)
	}
}

func (r *Recorder) rotateForDate(date string) error {
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}

	dir := filepath.Join(r.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	filename := filepath.Join(dir, r.name+".jsonl")
	r.file = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    r.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		LocalTime:  false,
	}
	r.currentDate = date
	slog.Info("opened recorder file", "file", filename)
	return nil
}

// Package audit writes gameplay events to hourly zstd-compressed JSONL
// files: audit-2006-01-02-15.jsonl.zst under the journal directory.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"samud/internal/game"
)

const (
	filePrefix = "audit"
	fileSuffix = ".jsonl.zst"
	hourLayout = "2006-01-02-15"

	// DefaultQueueSize bounds events waiting for the writer goroutine.
	DefaultQueueSize = 1024
)

// hourWriter appends JSON lines to the file for the current UTC hour.
type hourWriter struct {
	dir string
	now func() time.Time

	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func (w *hourWriter) write(v any) error {
	hour := w.now().UTC().Format(hourLayout)
	if hour != w.curHour {
		if err := w.rotate(hour); err != nil {
			return err
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

func (w *hourWriter) rotate(hour string) error {
	if err := w.close(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(PathForHour(w.dir, hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.enc, w.w = f, enc, bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *hourWriter) flush() error {
	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *hourWriter) close() error {
	var err error
	if w.w != nil {
		err = w.w.Flush()
	}
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err
}

// PathForHour names the journal file for an hour formatted as
// 2006-01-02-15.
func PathForHour(dir, hour string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", filePrefix, hour, fileSuffix))
}

// Journal is a game.EventSink. Record hands events to a single writer
// goroutine and never blocks; events arriving while the queue is full are
// counted and dropped.
type Journal struct {
	log     *zap.Logger
	events  chan game.Event
	done    chan struct{}
	dropped atomic.Uint64

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	w         *hourWriter
}

// Open starts a journal writing under dir.
func Open(dir string, log *zap.Logger) *Journal {
	return openWithClock(dir, log, time.Now)
}

func openWithClock(dir string, log *zap.Logger, now func() time.Time) *Journal {
	if log == nil {
		log = zap.NewNop()
	}
	j := &Journal{
		log:    log,
		events: make(chan game.Event, DefaultQueueSize),
		done:   make(chan struct{}),
		w:      &hourWriter{dir: dir, now: now},
	}
	go j.loop()
	return j
}

// Record queues ev for writing.
func (j *Journal) Record(ev game.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.events <- ev:
	default:
		if j.dropped.Add(1) == 1 {
			j.log.Warn("audit queue full, dropping events")
		}
	}
}

// Dropped reports how many events were discarded.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

func (j *Journal) loop() {
	defer close(j.done)
	for ev := range j.events {
		if err := j.w.write(ev); err != nil {
			j.log.Error("audit write failed", zap.String("kind", ev.Kind), zap.Error(err))
			continue
		}
		if len(j.events) == 0 {
			if err := j.w.flush(); err != nil {
				j.log.Error("audit flush failed", zap.Error(err))
			}
		}
	}
	if err := j.w.close(); err != nil {
		j.log.Error("audit close failed", zap.Error(err))
	}
}

// Close writes every queued event and closes the current file.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() {
		j.mu.Lock()
		j.closed = true
		close(j.events)
		j.mu.Unlock()
	})
	<-j.done
	return nil
}

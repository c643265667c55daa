package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"samud/internal/game"
)

// Files lists the journal files in dir, oldest first.
func Files(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"-*"+fileSuffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// ReadFile decodes one journal file, calling fn for each event until fn
// returns false.
func ReadFile(path string, fn func(game.Event) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var ev game.Event
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		if !fn(ev) {
			return nil
		}
	}
	return sc.Err()
}

// Filter selects events by kind and actor. Empty fields match anything.
type Filter struct {
	Kind  string
	Actor string
}

func (f Filter) match(ev game.Event) bool {
	if f.Kind != "" && !strings.EqualFold(f.Kind, ev.Kind) {
		return false
	}
	if f.Actor != "" && !strings.EqualFold(f.Actor, ev.Actor) {
		return false
	}
	return true
}

// ReadDir returns every event in dir matching f, in journal order.
func ReadDir(dir string, f Filter) ([]game.Event, error) {
	files, err := Files(dir)
	if err != nil {
		return nil, err
	}
	var out []game.Event
	for _, path := range files {
		err := ReadFile(path, func(ev game.Event) bool {
			if f.match(ev) {
				out = append(out, ev)
			}
			return true
		})
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

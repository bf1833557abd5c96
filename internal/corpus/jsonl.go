package corpus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fleetsight-systems/fleetsight/internal/models"
)

// jsonl lines can carry nested sensor payloads, so give the scanner
// room beyond the default token size.
const maxLineBytes = 1 << 20

// JSONLSource reads trips and events from newline-delimited JSON
// exports, one document per line.
type JSONLSource struct {
	TripsPath  string
	EventsPath string
}

func (s JSONLSource) Trips(ctx context.Context) ([]models.Trip, error) {
	var out []models.Trip
	err := readLines(ctx, s.TripsPath, func(line []byte, n int) error {
		var t models.Trip
		if err := json.Unmarshal(line, &t); err != nil {
			return fmt.Errorf("%s line %d: %w", s.TripsPath, n, err)
		}
		out = append(out, t)
		return nil
	})
	return out, err
}

func (s JSONLSource) Events(ctx context.Context) ([]models.Event, error) {
	var out []models.Event
	err := readLines(ctx, s.EventsPath, func(line []byte, n int) error {
		var ev models.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("%s line %d: %w", s.EventsPath, n, err)
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

func readLines(ctx context.Context, path string, fn func(line []byte, n int) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open corpus file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	n := 0
	for sc.Scan() {
		n++
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line, n); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", path, err)
	}
	return nil
}

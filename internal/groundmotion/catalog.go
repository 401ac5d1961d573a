// Package groundmotion inventories, loads and scales acceleration records.
package groundmotion

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/kiranshivaraju/fragility/pkg/models"
)

// DefaultDT is the sampling interval of catalogued records, in seconds.
const DefaultDT = 0.05

var (
	ErrDirectoryNotFound = errors.New("ground motion directory not found")
	ErrUnknownRecord     = errors.New("ground motion record not in catalog")
	ErrInvalidComponent  = errors.New("component must be FN or FP")
	ErrNotNumeric        = errors.New("ground motion file is not purely numeric")
)

// Catalog is the read-only inventory of validated ground motion records.
// Loaded waveforms are memoized; Catalog is safe for concurrent use after Scan.
type Catalog struct {
	dir     string
	dt      float64
	allowed map[string]float64

	mu      sync.RWMutex
	records []models.GroundMotionRecord
	byID    map[string]models.GroundMotionRecord
	loaded  map[string][]float64
	stats   ScanStats
}

// ScanStats summarizes the most recent scan.
type ScanStats struct {
	Directories int `json:"directories"`
	Accepted    int `json:"accepted"`
	Rejected    int `json:"rejected"`
}

// NewCatalog creates a catalog over dir. dt <= 0 selects DefaultDT.
func NewCatalog(dir string, dt float64) *Catalog {
	if dt <= 0 {
		dt = DefaultDT
	}
	return &Catalog{
		dir:    dir,
		dt:     dt,
		byID:   make(map[string]models.GroundMotionRecord),
		loaded: make(map[string][]float64),
	}
}

// RestrictTo limits Scan to the ids listed in a CSV list file with a GM_ID
// column and an optional dt column, as written by WriteList.
func (c *Catalog) RestrictTo(listFile string) error {
	f, err := os.Open(listFile)
	if err != nil {
		return fmt.Errorf("open ground motion list: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("read ground motion list header: %w", err)
	}
	idCol, dtCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "gm_id":
			idCol = i
		case "dt":
			dtCol = i
		}
	}
	if idCol < 0 {
		return fmt.Errorf("ground motion list %s has no GM_ID column", listFile)
	}

	allowed := make(map[string]float64)
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read ground motion list: %w", err)
		}
		id := strings.TrimSpace(row[idCol])
		if id == "" {
			continue
		}
		dt := 0.0
		if dtCol >= 0 && dtCol < len(row) {
			dt, _ = strconv.ParseFloat(strings.TrimSpace(row[dtCol]), 64)
		}
		allowed[id] = dt
	}
	c.allowed = allowed
	return nil
}

// Scan walks the catalog directory. Each record lives in its own
// subdirectory <ID>/ holding <ID>_FN.txt and <ID>_FP.txt. Pairs where
// either file is missing or not numeric are dropped with a warning.
func (c *Catalog) Scan(ctx context.Context) ([]models.GroundMotionRecord, error) {
	info, err := os.Stat(c.dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, c.dir)
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read ground motion directory: %w", err)
	}

	var (
		records []models.GroundMotionRecord
		stats   ScanStats
	)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		dt := c.dt
		if c.allowed != nil {
			listed, ok := c.allowed[id]
			if !ok {
				continue
			}
			if listed > 0 {
				dt = listed
			}
		}
		stats.Directories++

		rec := models.GroundMotionRecord{
			ID:     id,
			FNPath: filepath.Join(c.dir, id, id+"_FN.txt"),
			FPPath: filepath.Join(c.dir, id, id+"_FP.txt"),
			DT:     dt,
		}
		if err := validatePair(rec); err != nil {
			slog.Warn("dropping ground motion record", "gm_id", id, "error", err)
			stats.Rejected++
			continue
		}
		records = append(records, rec)
		stats.Accepted++
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	c.mu.Lock()
	c.records = records
	c.byID = make(map[string]models.GroundMotionRecord, len(records))
	for _, r := range records {
		c.byID[r.ID] = r
	}
	c.loaded = make(map[string][]float64)
	c.stats = stats
	c.mu.Unlock()

	slog.Info("ground motion catalog scanned",
		"dir", c.dir, "accepted", stats.Accepted, "rejected", stats.Rejected)
	return records, nil
}

// Records returns the accepted records in id order.
func (c *Catalog) Records() []models.GroundMotionRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.GroundMotionRecord, len(c.records))
	copy(out, c.records)
	return out
}

func (c *Catalog) Stats() ScanStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Load returns one component of a record in cm/s². The returned slice is
// shared; callers must not modify it.
func (c *Catalog) Load(id string, component models.Component) ([]float64, error) {
	c.mu.RLock()
	rec, ok := c.byID[id]
	key := id + "/" + string(component)
	cached, hit := c.loaded[key]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRecord, id)
	}
	if hit {
		return cached, nil
	}

	var path string
	switch component {
	case models.ComponentFN:
		path = rec.FNPath
	case models.ComponentFP:
		path = rec.FPPath
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidComponent, component)
	}

	samples, err := readSamples(path)
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", id, component, err)
	}

	c.mu.Lock()
	c.loaded[key] = samples
	c.mu.Unlock()
	return samples, nil
}

// Info describes one record's FN component.
type Info struct {
	ID        string  `json:"id"`
	Points    int     `json:"num_points"`
	Duration  float64 `json:"duration"`
	PeakAccel float64 `json:"max_acceleration_fn"`
	PGA       float64 `json:"pga_g"`
	DT        float64 `json:"dt"`
}

func (c *Catalog) Info(id string) (Info, error) {
	c.mu.RLock()
	rec, ok := c.byID[id]
	c.mu.RUnlock()
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrUnknownRecord, id)
	}
	fn, err := c.Load(id, models.ComponentFN)
	if err != nil {
		return Info{}, err
	}
	return Info{
		ID:        id,
		Points:    len(fn),
		Duration:  float64(len(fn)) * rec.DT,
		PeakAccel: PeakAbs(fn),
		PGA:       PGA(fn, rec.DT),
		DT:        rec.DT,
	}, nil
}

// WriteList writes the accepted records as a CSV list file.
func (c *Catalog) WriteList(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create ground motion list: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	_ = w.Write([]string{"GM_ID", "FN_File", "FP_File", "dt"})
	for _, r := range c.Records() {
		_ = w.Write([]string{r.ID, r.FNPath, r.FPPath, strconv.FormatFloat(r.DT, 'f', -1, 64)})
	}
	w.Flush()
	return w.Error()
}

func validatePair(rec models.GroundMotionRecord) error {
	for _, p := range []string{rec.FNPath, rec.FPPath} {
		if _, err := readSamples(p); err != nil {
			return err
		}
	}
	return nil
}

// readSamples parses whitespace-separated numbers. Any non-numeric token
// rejects the file.
func readSamples(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []float64
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %q", ErrNotNumeric, filepath.Base(path), sc.Text())
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrNotNumeric, filepath.Base(path))
	}
	return out, nil
}

package cache

import (
	"strconv"

	"github.com/kiranshivaraju/fragility/pkg/models"
)

// Export is the summary written alongside a run.
type Export struct {
	Path          string         `json:"cache_file"`
	FileSizeBytes int64          `json:"file_size_bytes"`
	Statistics    Stats          `json:"statistics"`
	Systems       map[string]int `json:"structural_systems"`
	Eras          map[string]int `json:"construction_eras"`
	Scales        map[string]int `json:"area_scales"`
	Stories       map[string]int `json:"story_counts"`
	Methods       map[string]int `json:"source_methods"`
	Unparseable   int            `json:"unparseable_keys,omitempty"`
}

// ExportStatistics breaks the cached archetypes down by their code parts.
func (c *FileCache) ExportStatistics() Export {
	out := Export{
		Path:          c.path,
		FileSizeBytes: c.FileSize(),
		Systems:       make(map[string]int),
		Eras:          make(map[string]int),
		Scales:        make(map[string]int),
		Stories:       make(map[string]int),
		Methods:       make(map[string]int),
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out.Statistics = c.statsLocked()
	for key, e := range c.entries {
		if e.SourceMethod != "" {
			out.Methods[string(e.SourceMethod)]++
		}
		code, err := models.ParseArchetypeCode(key)
		if err != nil {
			out.Unparseable++
			continue
		}
		out.Systems[string(code.System)]++
		out.Eras[string(code.Era)]++
		out.Scales[string(code.Scale)]++
		out.Stories[strconv.Itoa(code.Stories)]++
	}
	return out
}

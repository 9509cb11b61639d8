package capture

import (
	"sort"
	"time"
)

// Stats counts captured frames. It is owned by one Reader and not safe for
// concurrent use.
type Stats struct {
	Started     time.Time
	Frames      uint64
	Bytes       uint64
	Malformed   uint64
	ByEtherType map[uint16]uint64
}

// NewStats returns zeroed counters starting now.
func NewStats() *Stats {
	return &Stats{
		Started:     time.Now(),
		ByEtherType: make(map[uint16]uint64),
	}
}

// Add counts f.
func (s *Stats) Add(f *Frame) {
	s.Frames++
	s.Bytes += uint64(f.Length)
	s.ByEtherType[f.EtherType]++
}

// EtherTypeCount is one row of a Stats breakdown.
type EtherTypeCount struct {
	EtherType uint16
	Frames    uint64
}

// Breakdown returns per-ethertype counts, busiest first.
func (s *Stats) Breakdown() []EtherTypeCount {
	rows := make([]EtherTypeCount, 0, len(s.ByEtherType))
	for t, n := range s.ByEtherType {
		rows = append(rows, EtherTypeCount{EtherType: t, Frames: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Frames != rows[j].Frames {
			return rows[i].Frames > rows[j].Frames
		}
		return rows[i].EtherType < rows[j].EtherType
	})
	return rows
}

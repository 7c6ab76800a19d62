package queue

import (
	"os"
)

// SizeSource answers size lookups without touching the file.
type SizeSource interface {
	SizeOf(path string) (int64, bool)
}

// Sizer resolves the priority of a candidate path. A cached size is used when
// available, otherwise the file is stat'ed. Unknown sizes sort last.
type Sizer struct {
	Cache SizeSource
	stat  func(string) (os.FileInfo, error)
}

// NewSizer builds a Sizer backed by cache, which may be nil.
func NewSizer(cache SizeSource) *Sizer {
	return &Sizer{Cache: cache, stat: os.Stat}
}

// Size returns the best known size of path and whether it came from the cache.
func (s *Sizer) Size(path string) (int64, bool) {
	if s.Cache != nil {
		if size, ok := s.Cache.SizeOf(path); ok {
			return size, true
		}
	}
	stat := s.stat
	if stat == nil {
		stat = os.Stat
	}
	info, err := stat(path)
	if err != nil {
		return UnknownSize, false
	}
	return info.Size(), false
}

// UnknownSize sorts after every real size.
const UnknownSize = int64(^uint64(0) >> 1)

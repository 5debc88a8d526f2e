package procscan

import (
	"sort"
	"strings"
	"time"
)

// Process is one entry of an OS process listing.
type Process struct {
	PID  int32
	Name string
	Exe  string
}

// Snapshot is an immutable sample of running process names.
// Callers must not modify anything reachable from it.
type Snapshot struct {
	SampledAt time.Time
	names     map[string]struct{}
	paths     []string
}

func newSnapshot(at time.Time, procs []Process, keepPaths bool) *Snapshot {
	s := &Snapshot{
		SampledAt: at,
		names:     make(map[string]struct{}, len(procs)),
	}
	seenPath := make(map[string]struct{})
	for _, p := range procs {
		name := strings.ToLower(p.Name)
		if name != "" {
			s.names[name] = struct{}{}
		}
		if !keepPaths || p.Exe == "" {
			continue
		}
		exe := strings.ToLower(p.Exe)
		if _, ok := seenPath[exe]; ok {
			continue
		}
		seenPath[exe] = struct{}{}
		s.paths = append(s.paths, exe)
	}
	return s
}

// Names returns the lower-cased running names in sorted order.
func (s *Snapshot) Names() []string {
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of distinct running names.
func (s *Snapshot) Len() int { return len(s.names) }

// Matches reports whether monitored (already lower-cased) is running.
// An exact name hit wins; otherwise monitored may appear as a substring
// of a running name or, when paths were sampled, of an executable path.
func (s *Snapshot) Matches(monitored string) bool {
	if monitored == "" {
		return false
	}
	if _, ok := s.names[monitored]; ok {
		return true
	}
	for name := range s.names {
		if strings.Contains(name, monitored) {
			return true
		}
	}
	for _, exe := range s.paths {
		if strings.Contains(exe, monitored) {
			return true
		}
	}
	return false
}

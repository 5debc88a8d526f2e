package procscan

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shirou/gopsutil/v3/process"
)

const exeCacheSize = 1024

type exeEntry struct {
	name string
	exe  string
}

// PsutilEnumerator lists host processes through gopsutil.
type PsutilEnumerator struct {
	withPaths bool
	exeCache  *lru.Cache[int32, exeEntry]
}

// NewPsutilEnumerator creates an enumerator. Executable paths are resolved
// only when withPaths is set; they are memoized per PID.
func NewPsutilEnumerator(withPaths bool) (*PsutilEnumerator, error) {
	cache, err := lru.New[int32, exeEntry](exeCacheSize)
	if err != nil {
		return nil, err
	}
	return &PsutilEnumerator{withPaths: withPaths, exeCache: cache}, nil
}

// Processes implements Enumerator. Processes that vanish or deny access
// between listing and inspection are skipped.
func (e *PsutilEnumerator) Processes(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		entry := Process{PID: p.Pid, Name: name}
		if e.withPaths {
			entry.Exe = e.exePath(ctx, p, name)
		}
		out = append(out, entry)
	}
	if len(out) == 0 && len(procs) > 0 {
		return nil, errors.New("procscan: no process names readable")
	}
	return out, nil
}

func (e *PsutilEnumerator) exePath(ctx context.Context, p *process.Process, name string) string {
	if cached, ok := e.exeCache.Get(p.Pid); ok && cached.name == name {
		return cached.exe
	}
	exe, err := p.ExeWithContext(ctx)
	if err != nil {
		return ""
	}
	e.exeCache.Add(p.Pid, exeEntry{name: name, exe: exe})
	return exe
}

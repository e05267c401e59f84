package process

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

var (
	// ErrNotFound is returned when no running process has the name.
	ErrNotFound = errors.New("no such process")
	// ErrAmbiguous is returned when several processes share the name.
	ErrAmbiguous = errors.New("process name is ambiguous")
)

// Entry is one running process.
type Entry struct {
	PID        int32
	Name       string
	Executable string
	Started    time.Time
}

// Table is a snapshot of the running processes, sorted by name.
type Table struct {
	mu         sync.RWMutex
	entries    []Entry
	lastUpdate time.Time
}

// NewTable creates an empty table. Call Refresh to fill it.
func NewTable() *Table {
	return &Table{}
}

// Refresh re-reads the process list
func (t *Table) Refresh(ctx context.Context) error {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	entries := make([]Entry, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// gone or inaccessible
			continue
		}
		exe, _ := p.ExeWithContext(ctx)
		var started time.Time
		if ms, err := p.CreateTimeWithContext(ctx); err == nil {
			started = time.UnixMilli(ms)
		}
		entries = append(entries, Entry{PID: p.Pid, Name: name, Executable: exe, Started: started})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].PID < entries[j].PID
	})

	t.mu.Lock()
	t.entries = entries
	t.lastUpdate = time.Now()
	t.mu.Unlock()
	return nil
}

// Entries returns a copy of the snapshot.
func (t *Table) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]Entry, len(t.entries))
	copy(result, t.entries)
	return result
}

// Find returns every process called name. The comparison ignores case and
// an omitted ".exe".
func (t *Table) Find(name string) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var result []Entry
	for _, e := range t.entries {
		if sameName(e.Name, name) {
			result = append(result, e)
		}
	}
	return result
}

// ByPID looks a process up by ID.
func (t *Table) ByPID(pid int32) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, e := range t.entries {
		if e.PID == pid {
			return e, true
		}
	}
	return Entry{}, false
}

// LastUpdateTime returns the time of the last successful Refresh.
func (t *Table) LastUpdateTime() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastUpdate
}

// FindOne refreshes the table and returns the single process called name.
func (t *Table) FindOne(ctx context.Context, name string) (Entry, error) {
	if err := t.Refresh(ctx); err != nil {
		return Entry{}, err
	}
	matches := t.Find(name)
	switch len(matches) {
	case 0:
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	case 1:
		return matches[0], nil
	default:
		pids := make([]string, len(matches))
		for i, m := range matches {
			pids[i] = fmt.Sprint(m.PID)
		}
		return Entry{}, fmt.Errorf("%w: %s matches PIDs %s", ErrAmbiguous, name, strings.Join(pids, ", "))
	}
}

func sameName(have, want string) bool {
	if strings.EqualFold(have, want) {
		return true
	}
	return strings.EqualFold(strings.TrimSuffix(strings.ToLower(have), ".exe"), want)
}

package process

import (
	"sync"
	"syscall"
)

// Registry collects the process groups of every live tracked process, across
// all managers that share it.
//
// The host application owns the registry and injects it into each Manager;
// there is no ambient global. On fatal signals the host calls ReapAll, which
// best-effort SIGKILLs every recorded group. ReapAll does synchronous,
// allocation-light work only, so it is safe on a signal-handling path.
type Registry struct {
	mu     sync.Mutex
	groups map[int]int // pid -> pgid
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{groups: make(map[int]int)}
}

func (r *Registry) add(pid, pgid int) {
	r.mu.Lock()
	r.groups[pid] = pgid
	r.mu.Unlock()
}

func (r *Registry) remove(pid int) {
	r.mu.Lock()
	delete(r.groups, pid)
	r.mu.Unlock()
}

// Len returns the number of tracked processes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}

// PIDs returns the tracked pids.
func (r *Registry) PIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]int, 0, len(r.groups))
	for pid := range r.groups {
		out = append(out, pid)
	}
	return out
}

// ReapAll sends SIGKILL to every tracked process group and clears the
// registry. Returns the number of groups signalled. Delivery errors are
// ignored; a group that is already gone needs no reaping.
func (r *Registry) ReapAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for pid, pgid := range r.groups {
		if err := syscall.Kill(-pgid, syscall.SIGKILL); err == nil {
			count++
		}
		delete(r.groups, pid)
	}
	return count
}

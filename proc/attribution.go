package proc

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Info is the identity attached to an attributed PID.
type Info struct {
	PID   int32
	Name  string
	Exe   string
	Start time.Time
}

// attributionTTL is how long a resolved identity is trusted before the OS is
// asked again. Short enough that PID reuse is caught quickly.
const attributionTTL = 5 * time.Second

// Resolver maps PIDs to process identity with a small TTL cache. A PID that
// cannot be resolved yields the zero Info (PID 0, name "unknown" is applied
// by intake).
type Resolver struct {
	mu    sync.Mutex
	cache map[int32]cachedInfo
}

type cachedInfo struct {
	info Info
	at   time.Time
}

// NewResolver creates a resolver.
func NewResolver() *Resolver {
	return &Resolver{cache: make(map[int32]cachedInfo)}
}

// Lookup resolves pid. ok is false when the process cannot be inspected.
func (r *Resolver) Lookup(pid int32) (Info, bool) {
	if pid <= 0 {
		return Info{}, false
	}
	now := time.Now()

	r.mu.Lock()
	if c, hit := r.cache[pid]; hit && now.Sub(c.at) < attributionTTL {
		r.mu.Unlock()
		return c.info, true
	}
	r.mu.Unlock()

	p, err := process.NewProcess(pid)
	if err != nil {
		return Info{}, false
	}
	info := Info{PID: pid}
	if name, err := p.Name(); err == nil {
		info.Name = name
	}
	if exe, err := p.Exe(); err == nil {
		info.Exe = exe
	}
	if created, err := p.CreateTime(); err == nil {
		info.Start = time.UnixMilli(created)
	}
	if info.Name == "" && info.Exe == "" {
		return Info{}, false
	}

	r.mu.Lock()
	r.cache[pid] = cachedInfo{info: info, at: now}
	r.mu.Unlock()
	return info, true
}

// Forget drops the cached identity for pid (process exit).
func (r *Resolver) Forget(pid int32) {
	r.mu.Lock()
	delete(r.cache, pid)
	r.mu.Unlock()
}

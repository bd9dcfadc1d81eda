// Package inspect resolves the real workload inside a supervised process
// tree and reports its resource usage. Game servers are usually launched
// through wrapper scripts, so the PID we spawned is often a shell whose
// interesting child is a JVM; selection walks the tree, prefers processes
// whose name matches the runtime signature and whose command line carries a
// workload marker, and breaks ties by resident set size.
package inspect

import (
	"errors"
	"strings"
	"time"
)

// DefaultSignature matches JVM runtimes (java, javaw, ...).
const DefaultSignature = "java"

// DefaultMarkers identify game-server command lines.
var DefaultMarkers = []string{"server.jar", "fabric", "forge"}

// Usage is a point-in-time reading for the selected workload process.
// Values are queried fresh on every call and never cached.
type Usage struct {
	PID        int32         `json:"pid"`
	CPUPercent float64       `json:"cpu_percent"`
	MemoryRSS  uint64        `json:"memory_rss"`
	Uptime     time.Duration `json:"uptime"`
}

// Config tunes workload selection. Zero values take defaults; a nil
// Provider reads the live system.
type Config struct {
	Signature string
	Markers   []string
	Provider  Provider
}

type Inspector struct {
	provider  Provider
	signature string
	markers   []string
}

func New(cfg Config) *Inspector {
	i := &Inspector{
		provider:  cfg.Provider,
		signature: strings.ToLower(cfg.Signature),
		markers:   cfg.Markers,
	}
	if i.provider == nil {
		i.provider = SysProvider{}
	}
	if i.signature == "" {
		i.signature = DefaultSignature
	}
	if len(i.markers) == 0 {
		i.markers = DefaultMarkers
	}
	return i
}

// Inspect selects the workload process under rootPID and returns its usage.
// The root itself is the fallback when no better candidate exists. A missing
// root yields ErrNotRunning; query failures on the selected target yield a
// QueryError.
func (i *Inspector) Inspect(rootPID int32) (Usage, error) {
	root, err := i.provider.Open(rootPID)
	if err != nil {
		return Usage{}, ErrNotRunning
	}

	tree := collectTree(root)

	var candidates []Proc
	for _, p := range tree {
		name, err := p.Name()
		if err != nil {
			continue // raced an exit, skip
		}
		if strings.HasPrefix(strings.ToLower(name), i.signature) {
			candidates = append(candidates, p)
		}
	}

	target := root
	if len(candidates) > 0 {
		if marked := i.withMarkers(candidates); len(marked) > 0 {
			candidates = marked
		}
		if best, ok := largestRSS(candidates); ok {
			target = best
		}
	}
	return i.usage(target)
}

// withMarkers keeps candidates whose command line contains any workload
// marker. Command lines that cannot be read are treated as unmarked.
func (i *Inspector) withMarkers(candidates []Proc) []Proc {
	var out []Proc
	for _, p := range candidates {
		cmdline, err := p.Cmdline()
		if err != nil {
			continue
		}
		lower := strings.ToLower(cmdline)
		for _, m := range i.markers {
			if strings.Contains(lower, strings.ToLower(m)) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func (i *Inspector) usage(p Proc) (Usage, error) {
	cpu, err := p.CPUPercent()
	if err != nil {
		return Usage{}, queryErr(p.PID(), err)
	}
	rss, err := p.RSS()
	if err != nil {
		return Usage{}, queryErr(p.PID(), err)
	}
	created, err := p.CreateTime()
	if err != nil {
		return Usage{}, queryErr(p.PID(), err)
	}
	u := Usage{PID: p.PID(), CPUPercent: cpu, MemoryRSS: rss}
	if !created.IsZero() {
		u.Uptime = time.Since(created)
		if u.Uptime < 0 {
			u.Uptime = 0
		}
	}
	return u, nil
}

func queryErr(pid int32, err error) error {
	if errors.Is(err, ErrNotRunning) {
		return ErrNotRunning
	}
	return &QueryError{PID: pid, Err: err}
}

// collectTree returns root plus all live descendants, breadth first.
// Cycles cannot occur in a healthy process table but a stale or reused PID
// could fabricate one, so visited PIDs are tracked.
func collectTree(root Proc) []Proc {
	seen := map[int32]bool{root.PID(): true}
	out := []Proc{root}
	queue := []Proc{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		kids, err := p.Children()
		if err != nil {
			continue
		}
		for _, k := range kids {
			if seen[k.PID()] {
				continue
			}
			seen[k.PID()] = true
			out = append(out, k)
			queue = append(queue, k)
		}
	}
	return out
}

// largestRSS picks the candidate with the biggest resident set, skipping
// candidates whose memory cannot be read.
func largestRSS(candidates []Proc) (Proc, bool) {
	var best Proc
	var bestRSS uint64
	for _, p := range candidates {
		rss, err := p.RSS()
		if err != nil {
			continue
		}
		if best == nil || rss > bestRSS {
			best, bestRSS = p, rss
		}
	}
	return best, best != nil
}

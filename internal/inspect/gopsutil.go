package inspect

import (
	"errors"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// SysProvider reads the live process table via gopsutil.
type SysProvider struct{}

func (SysProvider) Open(pid int32) (Proc, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, ErrNotRunning
	}
	return sysProc{p}, nil
}

type sysProc struct {
	p *process.Process
}

func (s sysProc) PID() int32 { return s.p.Pid }

func (s sysProc) Name() (string, error) { return s.p.Name() }

func (s sysProc) Cmdline() (string, error) { return s.p.Cmdline() }

func (s sysProc) RSS() (uint64, error) {
	mi, err := s.p.MemoryInfo()
	if err != nil {
		return 0, mapGone(err)
	}
	return mi.RSS, nil
}

func (s sysProc) CPUPercent() (float64, error) {
	v, err := s.p.CPUPercent()
	if err != nil {
		return 0, mapGone(err)
	}
	return v, nil
}

func (s sysProc) CreateTime() (time.Time, error) {
	ms, err := s.p.CreateTime()
	if err != nil {
		return time.Time{}, mapGone(err)
	}
	return time.UnixMilli(ms), nil
}

func (s sysProc) Children() ([]Proc, error) {
	kids, err := s.p.Children()
	if err != nil {
		// gopsutil reports "no children" as an error; the walk treats
		// any failure here as a leaf.
		return nil, err
	}
	out := make([]Proc, 0, len(kids))
	for _, k := range kids {
		out = append(out, sysProc{k})
	}
	return out, nil
}

func mapGone(err error) error {
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return ErrNotRunning
	}
	return err
}

package appmonitor

import (
	"errors"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessListProbe is a portable fallback ForegroundProbe: it reports the
// most recently created process as a heuristic stand-in for the true
// foreground window, since Go has no portable window-focus API. Platform
// builds should substitute a real window-focus implementation; the agent's
// orchestrator uses this probe so the monitor runs without one.
type ProcessListProbe struct{}

// Sample implements ForegroundProbe.
func (ProcessListProbe) Sample() (Sample, error) {
	procs, err := process.Processes()
	if err != nil {
		return Sample{}, err
	}
	if len(procs) == 0 {
		return Sample{}, errors.New("no processes found")
	}

	var newest *process.Process
	var newestCreate int64
	for _, p := range procs {
		createTime, err := p.CreateTime()
		if err != nil {
			continue
		}
		if newest == nil || createTime > newestCreate {
			newest = p
			newestCreate = createTime
		}
	}
	if newest == nil {
		return Sample{}, errors.New("no process with a readable create time")
	}

	name, err := newest.Name()
	if err != nil {
		return Sample{}, err
	}

	return Sample{AppName: name, PID: newest.Pid}, nil
}

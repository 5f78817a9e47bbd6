// Package common provides common utilities and shared code
package common

import (
	"fmt"
	"os"
	"runtime"
	"time"
)

// Version is the application version reported on the status page
const Version = "1.0.0"

// Info holds system information and dispatcher counters
type Info struct {
	Hostname    string
	OS          string
	Version     string
	GoVersion   string
	NumCPU      int
	StartTime   time.Time
	Connections int64
	Matched     int64
	Fallbacks   int64
	Failures    int64
}

// GetInfo returns system information for a process started at startTime
func GetInfo(startTime time.Time) *Info {
	hostname, _ := os.Hostname()

	return &Info{
		Hostname:  hostname,
		OS:        runtime.GOOS,
		Version:   Version,
		GoVersion: runtime.Version(),
		NumCPU:    runtime.NumCPU(),
		StartTime: startTime,
	}
}

// String returns a string representation of the Info struct
func (i *Info) String() string {
	uptime := time.Since(i.StartTime).Truncate(time.Second)

	return fmt.Sprintf(
		"Server Information:\n"+
			"Hostname: %s\n"+
			"OS: %s\n"+
			"Version: %s\n"+
			"Go Version: %s\n"+
			"NumCPU: %d\n"+
			"Uptime: %s\n"+
			"Connections: %d\n"+
			"Matched: %d\n"+
			"Fallbacks: %d\n"+
			"Failures: %d\n",
		i.Hostname,
		i.OS,
		i.Version,
		i.GoVersion,
		i.NumCPU,
		uptime,
		i.Connections,
		i.Matched,
		i.Fallbacks,
		i.Failures,
	)
}

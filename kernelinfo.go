package xdp

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// bootTime returns the system boot time by reading /proc/stat's btime
// field. Falls back to time.Now() if /proc/stat cannot be read, matching
// the original's treatment of load_time as best-effort diagnostic data
// rather than something correctness depends on.
func bootTime() time.Time {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return time.Now()
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "btime ") {
			var btime int64
			if _, err := fmt.Sscanf(line, "btime %d", &btime); err == nil {
				return time.Unix(btime, 0)
			}
		}
	}
	return time.Now()
}

package launch

import (
	"fmt"
	"os"
)

// aikarFlags is the G1 tuning set from https://mcflags.emc.gs, tuned for the
// server's allocation-heavy workload.
var aikarFlags = []string{
	"-XX:+UnlockExperimentalVMOptions",
	// Some plugins explicitly call System.gc()
	"-XX:+DisableExplicitGC",
	// Eagerly initialize memory before use
	"-XX:+AlwaysPreTouch",
	// Reserve 30% of heap for new-gen up front, allow growth to 40%
	"-XX:G1NewSizePercent=30",
	"-XX:G1MaxNewSizePercent=40",
	"-XX:G1HeapRegionSize=8M",
	// High threshold so mixed collections incrementally clean the old-gen
	"-XX:G1MixedGCLiveThresholdPercent=90",
	// Reduce survivor-space churn
	"-XX:MaxTenuringThreshold=1",
	"-XX:SurvivorRatio=32",
	// Spread old-gen reclamation across fewer mixed collections
	"-XX:G1MixedGCCountTarget=4",
	"-XX:+PerfDisableSharedMem",
}

// Options configure one server launch.
type Options struct {
	Memory       string // heap size for -Xms/-Xmx, e.g. "1G"
	YourkitAgent string // profiler agent library path; empty disables
}

// JavaArgs assembles the JVM argument list for a launch.
func JavaArgs(opts Options) ([]string, error) {
	args := []string{"-Xms" + opts.Memory, "-Xmx" + opts.Memory}
	if opts.YourkitAgent != "" {
		if info, err := os.Stat(opts.YourkitAgent); err != nil || info.IsDir() {
			return nil, fmt.Errorf("missing yourkit profiler: %s", opts.YourkitAgent)
		}
		args = append(args, fmt.Sprintf("-agentpath:%s=exceptions=disable,delay=10000", opts.YourkitAgent))
	}
	return append(args, aikarFlags...), nil
}

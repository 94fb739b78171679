// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files (affinity_linux.go, affinity_stub.go) guarded by build tags.

package affinity

import "fmt"

// SetAffinity pins the calling OS thread to a given logical CPU. The caller must have
// locked its goroutine to the thread (runtime.LockOSThread) for the pin to stick.
// On unsupported platforms returns an error.
func SetAffinity(cpuID int) error {
	if cpuID < 0 {
		return fmt.Errorf("affinity: invalid cpu %d", cpuID)
	}
	return setAffinityPlatform(cpuID)
}

// CurrentCPUs lists the CPUs the calling thread may run on.
func CurrentCPUs() ([]int, error) {
	return currentPlatform()
}

//go:build !linux

package instance

// The guard only runs on Linux.
func platformProcess() Process {
	return nil
}

//go:build windows

package lock

import (
	"golang.org/x/sys/windows"
)

// ProcessAlive reports whether a process with the given PID exists.
// OpenProcess with QUERY_LIMITED_INFORMATION succeeds for any live
// process we are allowed to see; ERROR_ACCESS_DENIED still proves the
// process exists.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err == nil {
		defer windows.CloseHandle(h)
		// The handle may outlive the process; confirm it has not exited.
		var code uint32
		if err := windows.GetExitCodeProcess(h, &code); err == nil {
			return code == 259 // STILL_ACTIVE
		}
		return true
	}
	return err == windows.ERROR_ACCESS_DENIED
}

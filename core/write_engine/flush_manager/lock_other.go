//go:build !unix

package flushmanager

import "os"

// Advisory locking is only implemented on unix; elsewhere a single process
// per data file is assumed.
func tryLockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }

func isLockContention(error) bool { return false }

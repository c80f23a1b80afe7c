//go:build !unix

package deploy

func isMountPoint(string) (bool, error) { return false, errUnsupported }

func diskUsage(string) (uint64, uint64, error) { return 0, 0, errUnsupported }

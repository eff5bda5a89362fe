//go:build !windows && !linux

package crash

func threadID() int64 {
	return 0
}

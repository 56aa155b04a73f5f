package replicacreate

import "golang.org/x/sys/unix"

// freeBytes reports the bytes available to an unprivileged writer on the
// filesystem backing dir, mirroring fs::space(outDir).available.
func freeBytes(dir string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

//go:build darwin

package fibre

// unshareFiles is a no-op on Darwin/BSD, which has no unshare(2)
// equivalent for file descriptor tables (§4.9 "where supported").
func unshareFiles() {}

//go:build unix

// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: pagesize_unix.go — OS page size for the gen2 page map
//
// Purpose:
//   - Seeds Config.LikelyPageSizeInBytes so one page-map record covers one
//     real OS page.
//
// Notes:
//   - Falls back to the constant default if the kernel reports something the
//     page map cannot use (not a power of two).
// ─────────────────────────────────────────────────────────────────────────────

package heap

import (
	"golang.org/x/sys/unix"

	"gengc/constants"
	"gengc/utils"
)

func pageSize() uint32 {
	n := unix.Getpagesize()
	if n <= 0 || n > 1<<30 || !utils.PowerOfTwo(uint32(n)) {
		return constants.LikelyPageSizeInBytes
	}
	return uint32(n)
}

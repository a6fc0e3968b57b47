//go:build !unix

package heap

import "gengc/constants"

func pageSize() uint32 {
	return constants.LikelyPageSizeInBytes
}

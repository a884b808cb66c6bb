package utils

import "fmt"

// ZeroPad10 renders n zero-padded to width 10, the wire contract spec.md §9
// requires for log, queue and block-number sequential node names.
func ZeroPad10(n int64) string {
	return fmt.Sprintf("%010d", n)
}

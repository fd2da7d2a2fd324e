// Package sortutil provides the entry-name comparisons archive backends
// sort and binary-search their flat namespaces with. Different formats use
// different collation: ASCII case-insensitive for the classic flat
// containers, case-sensitive for ZIP/TAR, and a separate hashing scheme for
// VDF (see internal/archiver/vdf).
package sortutil

import "strings"

// ASCIICaseInsensitiveLess reports whether a sorts before b under
// byte-wise ASCII case folding, matching the collation GRP, MVL, QPAK, WAD,
// SLB, POD, and HOG use for their sorted entry tables.
func ASCIICaseInsensitiveLess(a, b string) bool {
	return ASCIICaseInsensitiveCompare(a, b) < 0
}

// ASCIICaseInsensitiveCompare is strings.Compare with ASCII letters folded
// to a common case first.
func ASCIICaseInsensitiveCompare(a, b string) int {
	la, lb := len(a), len(b)
	n := la
	if lb < n {
		n = lb
	}
	for i := 0; i < n; i++ {
		ca, cb := foldASCII(a[i]), foldASCII(b[i])
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
	}
	switch {
	case la < lb:
		return -1
	case la > lb:
		return 1
	default:
		return 0
	}
}

func foldASCII(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c - 'A' + 'a'
	}
	return c
}

// CaseSensitiveLess is a case-sensitive byte comparison, matching ZIP and
// TAR's collation.
func CaseSensitiveLess(a, b string) bool {
	return a < b
}

// BinarySearch locates name in a slice of n sorted entries using less,
// returning its index and true, or the insertion point and false.
func BinarySearch(n int, name string, entryName func(i int) string, less func(a, b string) bool) (int, bool) {
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		candidate := entryName(mid)
		if less(candidate, name) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < n && entryName(lo) == name {
		return lo, true
	}
	return lo, false
}

// SplitPath splits a sanitized virtual path into its directory and base
// name components, using '/' as the only separator.
func SplitPath(path string) (dir, base string) {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

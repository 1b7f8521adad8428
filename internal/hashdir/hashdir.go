// Package hashdir implements the directory hashing layer (§6.4): every
// logical storage path rooted at LocalData/ is rewritten into one of 8192
// hash-bucketed subdirectories, spreading the term and document files a
// large index accumulates across many directories instead of one.
package hashdir

import (
	"path"
	"strconv"
	"strings"
)

const (
	localDataPrefix = "LocalData/"
	numBuckets       = 8192
	hashA            = 31415
	hashB            = 27183
)

// UniversalHash computes h := a*h + c_i; a := a*b over the bytes of p, with
// initial a=31415, b=27183, and no modulus applied during the pass itself.
func UniversalHash(p string) uint64 {
	var h uint64
	a := uint64(hashA)
	for i := 0; i < len(p); i++ {
		h = a*h + uint64(p[i])
		a *= hashB
	}
	return h
}

// Rewrite maps a logical path to its on-disk location. Paths not rooted at
// LocalData/ pass through unchanged.
func Rewrite(p string) string {
	if !strings.HasPrefix(p, localDataPrefix) {
		return p
	}
	rest := strings.TrimPrefix(p, localDataPrefix)
	bucket := UniversalHash(p) % numBuckets
	return path.Join("LocalData", "Div"+strconv.FormatUint(bucket, 10), rest)
}

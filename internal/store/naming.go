package store

import (
	"net/url"
	"strings"
)

// NamePolicy derives persisted bucket, key and file names from profile,
// pool and filter names. Names are compared case-insensitively in memory,
// so every derived name is lowercased.
type NamePolicy struct {
	// BucketPrefix marks SQLite buckets holding a profile.
	BucketPrefix string
	// FileExt is appended to HCL profile file names.
	FileExt string
}

// DefaultNames is the naming used when none is configured.
var DefaultNames = NamePolicy{BucketPrefix: "profile:", FileExt: ".hcl"}

const (
	profileKey   = "profile"
	poolPrefix   = "pool/"
	filterPrefix = "filter/"
)

func escapeName(name string) string {
	return url.PathEscape(strings.ToLower(name))
}

// Bucket returns the bucket of a profile.
func (n NamePolicy) Bucket(profile string) string {
	return n.BucketPrefix + escapeName(profile)
}

// IsProfileBucket reports whether bucket was named by Bucket.
func (n NamePolicy) IsProfileBucket(bucket string) bool {
	return strings.HasPrefix(bucket, n.BucketPrefix)
}

// PoolKey returns the key of a pool record.
func (n NamePolicy) PoolKey(configID, pool string) string {
	return poolPrefix + escapeName(configID) + "/" + escapeName(pool)
}

// FilterPrefix returns the key prefix shared by the filters of a pool.
func (n NamePolicy) FilterPrefix(configID, pool string) string {
	return filterPrefix + escapeName(configID) + "/" + escapeName(pool) + "/"
}

// FilterKey returns the key of a top-level filter record.
func (n NamePolicy) FilterKey(configID, pool, filter string) string {
	return n.FilterPrefix(configID, pool) + escapeName(filter)
}

// FileName returns the HCL file name of a profile.
func (n NamePolicy) FileName(profile string) string {
	return escapeName(profile) + n.FileExt
}

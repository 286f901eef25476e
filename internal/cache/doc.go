// Package cache provides a small thread-safe cache with soft-limit
// eviction, used for compiled shader code.
package cache

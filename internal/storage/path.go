package storage

import (
	"path"
	"path/filepath"
)

// PathConfig holds configuration for storage path generation.
type PathConfig struct {
	// BasePath is the root directory (or key prefix) of the image store.
	BasePath string

	// ShardLevels is the number of directory levels for sharding.
	// Default: 2 (e.g., ab/cd/abcdef...png)
	ShardLevels int

	// ShardWidth is the number of characters per shard level.
	ShardWidth int
}

// DefaultPathConfig returns the default path configuration.
func DefaultPathConfig(basePath string) PathConfig {
	return PathConfig{
		BasePath:    basePath,
		ShardLevels: 2,
		ShardWidth:  2,
	}
}

// ComputePath generates the file path of an image reference, sharded by the
// leading characters of its hash.
//
// Example with default config:
//
//	ref: "abcdef12...png"
//	basePath: "/data/images"
//	result: "/data/images/ab/cd/abcdef12...png"
func ComputePath(config PathConfig, ref string) string {
	return filepath.Join(append([]string{config.BasePath}, shardParts(config, ref)...)...)
}

// ComputeKey is ComputePath for slash-separated object keys.
func ComputeKey(config PathConfig, ref string) string {
	return path.Join(append([]string{config.BasePath}, shardParts(config, ref)...)...)
}

// GetShardPath returns the directory holding an image reference.
func GetShardPath(config PathConfig, ref string) string {
	return filepath.Dir(ComputePath(config, ref))
}

func shardParts(config PathConfig, ref string) []string {
	minLength := config.ShardLevels * config.ShardWidth
	if len(ref) < minLength {
		return []string{ref}
	}

	parts := make([]string, 0, config.ShardLevels+1)
	offset := 0
	for i := 0; i < config.ShardLevels; i++ {
		parts = append(parts, ref[offset:offset+config.ShardWidth])
		offset += config.ShardWidth
	}
	return append(parts, ref)
}

package config

import (
	"errors"
	"fmt"

	"uwrangler/internal/geometry"
	"uwrangler/internal/uwerr"
)

// Validate ensures the configuration is usable. Violations are tagged as
// configuration errors and are fatal at startup.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return uwerr.Wrap(uwerr.ErrConfiguration, "config", "paths", "", err)
	}
	if err := c.validateConvert(); err != nil {
		return uwerr.Wrap(uwerr.ErrConfiguration, "config", "convert", "", err)
	}
	if err := c.validateCache(); err != nil {
		return uwerr.Wrap(uwerr.ErrConfiguration, "config", "cache", "", err)
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.SourceDir == "" {
		return errors.New("paths.source_dir must be set")
	}
	if c.Paths.CacheRoot == "" {
		return errors.New("paths.cache_root must be set")
	}
	if c.Paths.DBPath == "" {
		return errors.New("paths.db_path must be set")
	}
	if c.Paths.LockPath == "" {
		return errors.New("paths.lock_path must be set")
	}
	if c.Paths.SourceDir == c.Paths.CacheRoot {
		return errors.New("paths.source_dir and paths.cache_root must differ")
	}
	return nil
}

func (c *Config) validateConvert() error {
	if _, err := c.TargetGeometries(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.MaxBytes == 0 && c.Cache.MaxArtifacts == 0 {
		return errors.New("cache: at least one of max_bytes or max_artifacts must bound the store")
	}
	return nil
}

// TargetGeometries parses the configured geometry tags into the canonical set.
func (c *Config) TargetGeometries() ([]geometry.Geometry, error) {
	geoms, err := geometry.ParseSet(c.Convert.Geometries)
	if err != nil {
		return nil, fmt.Errorf("convert.geometries: %w", err)
	}
	if len(geoms) == 0 {
		return nil, errors.New("convert.geometries must list at least one target")
	}
	return geoms, nil
}

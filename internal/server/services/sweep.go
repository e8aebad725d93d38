package services

import (
	"context"

	"github.com/BlakeRain/parcel-sub000/internal/server/cache"
	"go.uber.org/multierr"
)

// CacheSummary counts the files in the cache directory by whether an upload
// still refers to them.
type CacheSummary struct {
	ValidFiles  int
	ValidBytes  int64
	OrphanFiles int
	OrphanBytes int64
}

// CacheCleanupResult reports what a cleanup removed.
type CacheCleanupResult struct {
	Removed      int
	RemovedBytes int64
	Failed       int
}

// classify splits the cache entries into valid and orphaned with a single
// GetExistingSlugs lookup.
func (s *UploadService) classify(ctx context.Context) (valid, orphans []cache.Entry, err error) {
	entries, err := s.store.Entries()
	if err != nil {
		return nil, nil, internalError(ctx, s.log, err, "unable to list cache directory", "dir", s.store.Dir())
	}
	if len(entries) == 0 {
		return nil, nil, nil
	}

	slugs := make([]string, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.Slug]; ok {
			continue
		}
		seen[e.Slug] = struct{}{}
		slugs = append(slugs, e.Slug)
	}

	existing, err := s.repomanager.Uploads(s.db).GetExistingSlugs(ctx, slugs)
	if err != nil {
		return nil, nil, internalError(ctx, s.log, err, "unable to look up cached slugs", "count", len(slugs))
	}

	for _, e := range entries {
		if _, ok := existing[e.Slug]; ok {
			valid = append(valid, e)
		} else {
			orphans = append(orphans, e)
		}
	}
	return valid, orphans, nil
}

// CacheSummary counts valid and orphaned cache files.
func (s *UploadService) CacheSummary(ctx context.Context) (*CacheSummary, error) {
	valid, orphans, err := s.classify(ctx)
	if err != nil {
		return nil, err
	}
	summary := &CacheSummary{ValidFiles: len(valid), OrphanFiles: len(orphans)}
	for _, e := range valid {
		summary.ValidBytes += e.Size
	}
	for _, e := range orphans {
		summary.OrphanBytes += e.Size
	}
	return summary, nil
}

// CacheCleanup removes orphaned cache files. Removal errors are collected;
// the counts cover what was removed before and after any failure.
func (s *UploadService) CacheCleanup(ctx context.Context) (*CacheCleanupResult, error) {
	_, orphans, err := s.classify(ctx)
	if err != nil {
		return nil, err
	}

	result := &CacheCleanupResult{}
	var errs error
	for _, e := range orphans {
		if rerr := s.store.RemoveFile(e.Name); rerr != nil {
			result.Failed++
			errs = multierr.Append(errs, rerr)
			continue
		}
		result.Removed++
		result.RemovedBytes += e.Size
	}

	if errs != nil {
		s.log.Error(ctx, "unable to remove some orphaned cache files", "failed", result.Failed, "error", errs)
		return result, errs
	}
	s.log.Info(ctx, "cache cleanup complete", "removed", result.Removed, "bytes", result.RemovedBytes)
	return result, nil
}

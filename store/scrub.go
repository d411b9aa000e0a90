package store

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

const defaultScrubConcurrency = 4

// VerifyAll re-hashes every entry under provider (or the whole cache when
// provider is empty) and reports the first corruption or read failure.
// Verification of independent entries runs with bounded concurrency.
func (s *Store) VerifyAll(ctx context.Context, provider string) error {
	entries, err := s.List(provider)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultScrubConcurrency)
	for _, entry := range entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.Verify(entry.Provider, entry.Digest); err != nil {
				return fmt.Errorf("verify %s/%s: %w", entry.Provider, entry.Digest, err)
			}
			return nil
		})
	}
	return g.Wait()
}

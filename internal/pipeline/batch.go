package pipeline

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"yt2md/internal/config"
	"yt2md/internal/tube"
)

// Discoverer lists a channel's recent uploads. *tube.Client is the real one.
type Discoverer interface {
	RecentVideos(ctx context.Context, channelID string, since time.Time, max int) ([]tube.VideoRef, error)
}

// Batch processes many videos with a bounded worker pool. Per-video
// failures are logged and skipped; only fatal provider errors and
// cancellation stop the whole run.
type Batch struct {
	Pipeline *Pipeline
	Discover Discoverer
	Workers  int
}

// Channel discovers a channel's uploads since the cutoff and processes
// them all.
func (b *Batch) Channel(ctx context.Context, ch config.Channel, since time.Time, max int) ([]Outcome, error) {
	refs, err := b.Discover.RecentVideos(ctx, ch.ID, since, max)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}

	log.Printf("[INFO]: channel %q: %d videos in window", ch.Name, len(ids))
	return b.Videos(ctx, ch, ids)
}

// Videos processes the given ids concurrently, bounded by Workers.
func (b *Batch) Videos(ctx context.Context, ch config.Channel, ids []string) ([]Outcome, error) {
	workers := b.Workers
	if workers < 1 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	outcomes := make([]Outcome, len(ids))
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			out, err := b.Pipeline.Process(ctx, id, ch)
			if err != nil {
				if FatalBatchError(err) || ctx.Err() != nil {
					return err
				}
				log.Printf("[ERROR]: processing %q: %v", id, err)
				out = Outcome{VideoID: id, Skipped: true}
			}
			outcomes[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

package dataset

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ReadShards streams every shard with up to numWorkers readers in flight and
// returns the pairs in shard order, then member order within a shard.
func ReadShards(parent context.Context, paths []string, numWorkers int) ([]Pair, error) {
	if len(paths) == 0 {
		return nil, errors.New("read shards: no shards discovered")
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	jobs := make(chan shardJob)
	cursors := make(chan shardCursor, numWorkers)

	go func() {
		defer close(jobs)
		for id, path := range paths {
			select {
			case <-ctx.Done():
				return
			case jobs <- shardJob{id: id, path: path}:
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, jobs, cursors)
		}()
	}
	go func() {
		wg.Wait()
		close(cursors)
	}()

	pairs, err := aggregate(ctx, cursors, len(paths))
	if err != nil {
		return nil, err
	}
	return pairs, nil
}

type shardJob struct {
	id   int
	path string
}

type shardCursor struct {
	id    int
	pairs <-chan Pair
	errCh <-chan error
}

func worker(ctx context.Context, jobs <-chan shardJob, cursors chan<- shardCursor) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			pairs, errCh := StreamShard(ctx, job.path, defaultPendingCap)
			select {
			case <-ctx.Done():
				return
			case cursors <- shardCursor{id: job.id, pairs: pairs, errCh: errCh}:
			}
		}
	}
}

// aggregate drains cursors strictly in id order so the result does not
// depend on which worker finished first.
func aggregate(ctx context.Context, cursors <-chan shardCursor, total int) ([]Pair, error) {
	pending := make(map[int]shardCursor)
	var out []Pair
	for next := 0; next < total; {
		cursor, ok := pending[next]
		if !ok {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case c, open := <-cursors:
				if !open {
					return nil, errors.Errorf("read shards: %d of %d shards read", next, total)
				}
				pending[c.id] = c
			}
			continue
		}
		for p := range cursor.pairs {
			out = append(out, p)
		}
		if err := <-cursor.errCh; err != nil {
			return nil, err
		}
		delete(pending, next)
		next++
	}
	return out, nil
}

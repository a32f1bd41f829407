package dataset

import (
	"context"
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"roadseg/internal/model"
)

// Options configures the batch generator.
type Options struct {
	Height     int
	Width      int
	NumClasses int
	Seed       int64
	Shuffle    bool
	NumWorkers int
}

// Generator turns a fixed list of pairs into decoded minibatches, one pass per call to Batches.
type Generator struct {
	pairs []Pair
	opts  Options
	rng   *rand.Rand
}

// NewGenerator validates opts and returns a generator over pairs.
func NewGenerator(pairs []Pair, opts Options) (*Generator, error) {
	if len(pairs) == 0 {
		return nil, errors.New("generator: no training pairs")
	}
	if opts.Height <= 0 || opts.Width <= 0 {
		return nil, errors.Errorf("generator: invalid image size %dx%d", opts.Height, opts.Width)
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	return &Generator{
		pairs: append([]Pair(nil), pairs...),
		opts:  opts,
		rng:   rand.New(rand.NewSource(opts.Seed)),
	}, nil
}

// Len is the number of examples in one pass.
func (g *Generator) Len() int { return len(g.pairs) }

// Batches streams one pass over the data in batches of at most batchSize.
// The next batch is decoded while the consumer works on the current one; the
// hand-off channel is unbuffered so at most one batch waits. Each call
// reshuffles with the generator's seeded RNG. Not safe for concurrent passes.
func (g *Generator) Batches(ctx context.Context, batchSize int) (<-chan model.Batch, <-chan error) {
	out := make(chan model.Batch)
	errCh := make(chan error, 1)

	order := append([]Pair(nil), g.pairs...)
	if g.opts.Shuffle {
		g.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	go func() {
		defer close(out)
		defer close(errCh)
		if batchSize <= 0 {
			errCh <- errors.Errorf("generator: batch size must be > 0 (got %d)", batchSize)
			return
		}
		for start := 0; start < len(order); start += batchSize {
			end := min(start+batchSize, len(order))
			batch, err := g.decodeBatch(ctx, order[start:end])
			if err != nil {
				errCh <- err
				return
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- batch:
			}
		}
	}()

	return out, errCh
}

// decodeBatch decodes pairs on up to NumWorkers goroutines, keeping their order.
func (g *Generator) decodeBatch(ctx context.Context, pairs []Pair) (model.Batch, error) {
	h, w, c := g.opts.Height, g.opts.Width, g.opts.NumClasses
	batch := model.Batch{
		Size:       len(pairs),
		Height:     h,
		Width:      w,
		NumClasses: c,
		Images:     make([]float32, len(pairs)*3*h*w),
		Labels:     make([]float32, len(pairs)*h*w*c),
	}

	idx := make(chan int)
	errs := make([]error, len(pairs))
	var wg sync.WaitGroup
	for i := 0; i < min(g.opts.NumWorkers, len(pairs)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idx {
				errs[i] = g.decodeInto(&batch, i, pairs[i])
			}
		}()
	}
	for i := range pairs {
		if ctx.Err() != nil {
			break
		}
		idx <- i
	}
	close(idx)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return model.Batch{}, err
	}
	for _, err := range errs {
		if err != nil {
			return model.Batch{}, err
		}
	}
	return batch, nil
}

func (g *Generator) decodeInto(batch *model.Batch, i int, p Pair) error {
	h, w, c := g.opts.Height, g.opts.Width, g.opts.NumClasses
	rawImage, rawMask, err := p.read()
	if err != nil {
		return err
	}
	img, err := DecodeImage(rawImage, h, w)
	if err != nil {
		return errors.Wrapf(err, "pair %s", p.Key)
	}
	mask, err := DecodeMask(rawMask, h, w, c)
	if err != nil {
		return errors.Wrapf(err, "pair %s", p.Key)
	}
	copy(batch.Images[i*3*h*w:], img)
	copy(batch.Labels[i*h*w*c:], mask)
	return nil
}

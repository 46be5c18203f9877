package dataloader

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/petsbench/memory"
	"github.com/tsawler/petsbench/tensor"
	"github.com/tsawler/petsbench/vision/dataset"
)

// Dataset interface defines the contract for datasets
type Dataset interface {
	Len() int
	Get(index int) (dataset.Sample, error)
}

// Config holds configuration for BatchLoader
type Config struct {
	BatchSize      int
	NumWorkers     int // Parallel workers; 0 builds batches on the caller's goroutine
	PrefetchFactor int // Batches buffered per worker (default 2)
	Shuffle        bool
	Seed           int64 // Seed for the per-epoch shuffle
	PinMemory      bool  // Draw batch buffers from Pool and recycle them on Release
	MaxCacheSize   int   // Preprocessed samples kept in memory across epochs; 0 disables
	Pool           *memory.BufferPool
}

// BatchProductionError reports a sample that could not be turned into part of a batch
type BatchProductionError struct {
	Batch int // batch index within the epoch
	Index int // dataset index of the failing sample
	Err   error
}

func (e *BatchProductionError) Error() string {
	return fmt.Sprintf("failed to produce batch %d (sample %d): %v", e.Batch, e.Index, e.Err)
}

func (e *BatchProductionError) Unwrap() error {
	return e.Err
}

// Batch is a stack of samples: Images is [N,C,H,W] Float32, Labels is [N] Int32
type Batch struct {
	Index   int
	Images  *tensor.Tensor
	Labels  *tensor.Tensor
	release func()
}

// Len returns the number of samples in the batch
func (b *Batch) Len() int {
	return b.Images.Shape[0]
}

// Release hands pinned buffers back to the pool. The batch must not be used afterwards.
func (b *Batch) Release() {
	if b.release != nil {
		b.release()
		b.release = nil
	}
}

// BatchLoader produces the batches of one epoch at a time, in order, covering
// every dataset index exactly once.
type BatchLoader struct {
	dataset Dataset
	config  Config
	indices []int
	rng     *rand.Rand
	cache   *CacheManager
	pool    *memory.BufferPool
}

// New creates a new batch loader
func New(ds Dataset, config Config) (*BatchLoader, error) {
	if ds == nil {
		return nil, fmt.Errorf("dataset cannot be nil")
	}
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", config.BatchSize)
	}
	if config.NumWorkers < 0 {
		return nil, fmt.Errorf("number of workers cannot be negative, got %d", config.NumWorkers)
	}
	if ds.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}

	if config.PrefetchFactor <= 0 {
		config.PrefetchFactor = 2
	}

	indices := make([]int, ds.Len())
	for i := range indices {
		indices[i] = i
	}

	var pool *memory.BufferPool
	if config.PinMemory {
		pool = config.Pool
		if pool == nil {
			pool = memory.NewBufferPool()
		}
	}

	return &BatchLoader{
		dataset: ds,
		config:  config,
		indices: indices,
		rng:     rand.New(rand.NewSource(config.Seed)),
		cache:   NewCacheManager(config.MaxCacheSize),
		pool:    pool,
	}, nil
}

// Len returns the number of batches in an epoch
func (bl *BatchLoader) Len() int {
	return (len(bl.indices) + bl.config.BatchSize - 1) / bl.config.BatchSize
}

// CacheStats returns the sample cache statistics
func (bl *BatchLoader) CacheStats() CacheStats {
	return bl.cache.Stats()
}

// Epoch starts producing the batches of a new epoch. The order is reshuffled
// first when shuffling is enabled. Callers must Close the iterator.
func (bl *BatchLoader) Epoch(ctx context.Context) *Iterator {
	if bl.config.Shuffle {
		bl.rng.Shuffle(len(bl.indices), func(i, j int) {
			bl.indices[i], bl.indices[j] = bl.indices[j], bl.indices[i]
		})
	}

	ctx, cancel := context.WithCancel(ctx)
	it := &Iterator{
		loader:     bl,
		order:      append([]int(nil), bl.indices...),
		numBatches: bl.Len(),
		ctx:        ctx,
		cancel:     cancel,
	}

	workers := bl.config.NumWorkers
	if workers > it.numBatches {
		workers = it.numBatches
	}
	it.queues = make([]chan result, workers)
	for w := 0; w < workers; w++ {
		it.queues[w] = make(chan result, bl.config.PrefetchFactor)
		it.wg.Add(1)
		go it.worker(w, workers)
	}

	return it
}

type result struct {
	batch *Batch
	err   error
}

// Iterator yields the batches of one epoch
type Iterator struct {
	loader     *BatchLoader
	order      []int
	numBatches int
	next       int
	err        error

	ctx    context.Context
	cancel context.CancelFunc
	queues []chan result
	wg     sync.WaitGroup
	once   sync.Once
}

// worker builds every batch b with b % workers == id, in increasing order
func (it *Iterator) worker(id, workers int) {
	defer it.wg.Done()

	for b := id; b < it.numBatches; b += workers {
		batch, err := it.loader.buildBatch(b, it.order)
		select {
		case it.queues[id] <- result{batch: batch, err: err}:
		case <-it.ctx.Done():
			if batch != nil {
				batch.Release()
			}
			return
		}
		if err != nil {
			return
		}
	}
}

// Next returns the next batch, or nil when the epoch is complete
func (it *Iterator) Next() (*Batch, error) {
	if it.err != nil {
		return nil, it.err
	}
	if it.next >= it.numBatches {
		return nil, nil
	}

	b := it.next
	var res result
	if len(it.queues) == 0 {
		res.batch, res.err = it.loader.buildBatch(b, it.order)
	} else {
		select {
		case res = <-it.queues[b%len(it.queues)]:
		case <-it.ctx.Done():
			res.err = it.ctx.Err()
		}
	}

	if res.err != nil {
		it.err = res.err
		return nil, res.err
	}

	it.next++
	return res.batch, nil
}

// Close stops the workers and releases any batch that was never consumed
func (it *Iterator) Close() {
	it.once.Do(func() {
		it.cancel()
		it.wg.Wait()
		for _, q := range it.queues {
		drain:
			for {
				select {
				case res := <-q:
					if res.batch != nil {
						res.batch.Release()
					}
				default:
					break drain
				}
			}
		}
	})
}

// sample loads one sample, going through the cache when it is enabled
func (bl *BatchLoader) sample(index int) (dataset.Sample, error) {
	if bl.config.MaxCacheSize > 0 {
		if s, ok := bl.cache.Get(index); ok {
			return s, nil
		}
	}

	s, err := bl.dataset.Get(index)
	if err != nil {
		return dataset.Sample{}, err
	}

	if bl.config.MaxCacheSize > 0 {
		bl.cache.Put(index, s)
	}
	return s, nil
}

// buildBatch loads and stacks the samples of batch b
func (bl *BatchLoader) buildBatch(b int, order []int) (*Batch, error) {
	start := b * bl.config.BatchSize
	end := start + bl.config.BatchSize
	if end > len(order) {
		end = len(order)
	}
	indices := order[start:end]
	n := len(indices)

	var (
		imageData []float32
		itemShape []int
		itemSize  int
		release   func()
	)
	labelData := make([]int32, n)

	fail := func(idx int, err error) (*Batch, error) {
		if release != nil {
			release()
		}
		return nil, &BatchProductionError{Batch: b, Index: idx, Err: err}
	}

	for i, idx := range indices {
		s, err := bl.sample(idx)
		if err != nil {
			return fail(idx, err)
		}

		data, err := s.Image.GetFloat32Data()
		if err != nil {
			return fail(idx, err)
		}

		if imageData == nil {
			itemShape = s.Image.Shape
			itemSize = s.Image.NumElems
			if bl.pool != nil {
				imageData = bl.pool.GetFloat32Buffer(n * itemSize)
				buf := imageData
				release = func() { bl.pool.PutFloat32Buffer(buf) }
			} else {
				imageData = make([]float32, n*itemSize)
			}
		} else if s.Image.NumElems != itemSize {
			return fail(idx, fmt.Errorf("sample shape %v does not match batch item shape %v", s.Image.Shape, itemShape))
		}

		copy(imageData[i*itemSize:(i+1)*itemSize], data)
		labelData[i] = int32(s.Label)
	}

	images, err := tensor.NewTensor(append([]int{n}, itemShape...), tensor.Float32, tensor.CPU, imageData)
	if err != nil {
		return fail(indices[0], err)
	}
	labels, err := tensor.NewTensor([]int{n}, tensor.Int32, tensor.CPU, labelData)
	if err != nil {
		return fail(indices[0], err)
	}

	return &Batch{
		Index:   b,
		Images:  images,
		Labels:  labels,
		release: release,
	}, nil
}

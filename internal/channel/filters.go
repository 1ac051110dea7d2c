package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
	"go.uber.org/multierr"

	"SimFed/internal/hla"
	"SimFed/internal/metrics"
	"SimFed/internal/plugin"
	"SimFed/internal/wire"
)

// =============================================================================
// dedup
// =============================================================================

// cleanupInterval is the interval between dedup cleanup runs.
const cleanupInterval = 1 * time.Second

// Dedup tracks recently seen frames to prevent duplicate processing.
// Every frame carries a channel-unique request id, so equal frames are true
// duplicates. Entries expire after a TTL.
type Dedup struct {
	seen map[[32]byte]int64 // seen maps frame hash to timestamp (unix nano)
	mu   sync.RWMutex       // mu protects the seen map
	ttl  int64              // ttl in nanoseconds
	stop chan struct{}      // stop signals the cleanup goroutine to stop
	wg   sync.WaitGroup     // wg waits for the cleanup goroutine
	once sync.Once
}

// NewDedup creates a deduplication tracker.
func NewDedup(ttl time.Duration) *Dedup {
	d := &Dedup{
		seen: make(map[[32]byte]int64),
		ttl:  int64(ttl),
		stop: make(chan struct{}),
	}

	d.startCleanup()

	return d
}

// Check returns true if the frame is new. New frames are recorded.
func (d *Dedup) Check(data []byte) bool {
	hash := blake3.Sum256(data)
	now := time.Now().UnixNano()

	d.mu.RLock()
	ts, exists := d.seen[hash]
	d.mu.RUnlock()

	if exists && now-ts < d.ttl {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// double-check after acquiring the write lock
	if ts, exists = d.seen[hash]; exists && now-ts < d.ttl {
		return false
	}

	d.seen[hash] = now

	return true
}

// Len returns the number of tracked frames.
func (d *Dedup) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.seen)
}

// Close stops the cleanup goroutine.
func (d *Dedup) Close() {
	d.once.Do(func() {
		close(d.stop)
		d.wg.Wait()
	})
}

func (d *Dedup) startCleanup() {
	d.wg.Add(1)

	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				d.cleanup()
			case <-d.stop:
				return
			}
		}
	}()
}

// cleanup removes expired entries.
func (d *Dedup) cleanup() {
	now := time.Now().UnixNano()

	d.mu.Lock()
	defer d.mu.Unlock()

	for hash, ts := range d.seen {
		if now-ts >= d.ttl {
			delete(d.seen, hash)
		}
	}
}

type dedupFilter struct {
	channel string
	dedup   *Dedup
}

func newDedupFilter(opts Options) (Filter, error) {
	return &dedupFilter{channel: opts.Name, dedup: NewDedup(opts.DedupTTL)}, nil
}

func (f *dedupFilter) Name() string { return "dedup" }

func (f *dedupFilter) Outgoing(frame []byte) ([]byte, error) { return frame, nil }

func (f *dedupFilter) Incoming(frame []byte) ([]byte, error) {
	if !f.dedup.Check(frame) {
		metrics.RecordDropped(f.channel, "duplicate")
		return nil, nil
	}

	return frame, nil
}

func (f *dedupFilter) Close() error {
	f.dedup.Close()
	return nil
}

// =============================================================================
// compress
// =============================================================================

// compressFilter zstd-compresses payloads above a threshold and flags the header.
type compressFilter struct {
	threshold int
	enc       *zstd.Encoder
	dec       *zstd.Decoder
}

func newCompressFilter(opts Options) (Filter, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(wire.MaxPayloadSize))
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}

	return &compressFilter{threshold: opts.CompressThreshold, enc: enc, dec: dec}, nil
}

func (f *compressFilter) Name() string { return "compress" }

func (f *compressFilter) Outgoing(frame []byte) ([]byte, error) {
	h, err := wire.ParseHeader(frame)
	if err != nil {
		return nil, err
	}

	payload := wire.Payload(frame)
	if h.Compressed() || len(payload) < f.threshold {
		return frame, nil
	}

	packed := f.enc.EncodeAll(payload, nil)
	if len(packed) >= len(payload) {
		return frame, nil
	}

	h.Flags |= wire.FlagCompressed

	return wire.Frame(h, packed), nil
}

func (f *compressFilter) Incoming(frame []byte) ([]byte, error) {
	h, err := wire.ParseHeader(frame)
	if err != nil {
		return nil, err
	}

	if !h.Compressed() {
		return frame, nil
	}

	payload, err := f.dec.DecodeAll(wire.Payload(frame), nil)
	if err != nil {
		return nil, hla.Wrap(hla.KindMalformedMessage, err, "decompress payload")
	}

	if len(payload) > wire.MaxPayloadSize {
		return nil, hla.Errorf(hla.KindMalformedMessage, "decompressed payload too large: %d", len(payload))
	}

	h.Flags &^= wire.FlagCompressed

	return wire.Frame(h, payload), nil
}

func (f *compressFilter) Close() error {
	f.dec.Close()
	return f.enc.Close()
}

// =============================================================================
// metrics
// =============================================================================

// metricsFilter counts frames per direction and message type.
type metricsFilter struct {
	channel string
}

func newMetricsFilter(opts Options) (Filter, error) {
	return &metricsFilter{channel: opts.Name}, nil
}

func (f *metricsFilter) Name() string { return "metrics" }

func (f *metricsFilter) Outgoing(frame []byte) ([]byte, error) {
	f.record("out", frame)
	return frame, nil
}

func (f *metricsFilter) Incoming(frame []byte) ([]byte, error) {
	f.record("in", frame)
	return frame, nil
}

func (f *metricsFilter) record(direction string, frame []byte) {
	h, err := wire.ParseHeader(frame)
	if err != nil {
		metrics.RecordFrame(f.channel, direction, "malformed")
		return
	}

	metrics.RecordFrame(f.channel, direction, h.Type.String())
}

// =============================================================================
// wasm
// =============================================================================

// wasmFilter asks every loaded plugin whether an incoming frame may pass.
// Outgoing frames are not inspected.
type wasmFilter struct {
	pool      *plugin.Pool
	instances []*plugin.Instance
}

func newWasmFilter(opts Options) (Filter, error) {
	if len(opts.PluginPaths) == 0 {
		return nil, fmt.Errorf("no plugin paths configured")
	}

	ctx := context.Background()

	pool, err := plugin.New(ctx)
	if err != nil {
		return nil, err
	}

	f := &wasmFilter{pool: pool}

	for _, path := range opts.PluginPaths {
		id, err := pool.LoadFile(ctx, path)
		if err != nil {
			return nil, multierr.Append(err, f.Close())
		}

		inst, err := pool.Instantiate(ctx, id, opts.PluginGasLimit)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("plugin %s:\n%w", path, err), f.Close())
		}

		f.instances = append(f.instances, inst)
	}

	return f, nil
}

func (f *wasmFilter) Name() string { return "wasm" }

func (f *wasmFilter) Outgoing(frame []byte) ([]byte, error) { return frame, nil }

func (f *wasmFilter) Incoming(frame []byte) ([]byte, error) {
	h, err := wire.ParseHeader(frame)
	if err != nil {
		return nil, err
	}

	for _, inst := range f.instances {
		ok, err := inst.Allow(context.Background(), h)
		if err != nil {
			return nil, err
		}

		if !ok {
			return nil, nil
		}
	}

	return frame, nil
}

func (f *wasmFilter) Close() error {
	return f.pool.Close(context.Background())
}

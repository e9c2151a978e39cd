// Package indexer coordinates incremental indexing runs: diffing the source
// tree against the vector index, batching embed requests through the shared
// embedding server, and checkpointing progress so interrupted runs resume
// without re-embedding.
package indexer

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"carto/internal/cache"
	"carto/internal/chunk"
	"carto/internal/config"
	"carto/internal/errors"
	"carto/internal/jobs"
	"carto/internal/logging"
	"carto/internal/persist"
	"carto/internal/remote"
	"carto/internal/source"
	"carto/internal/vecindex"
)

const defaultBatchSize = 16

// Status is a point-in-time view of indexing progress.
type Status struct {
	Running         bool          `json:"running"`
	JobID           string        `json:"jobId,omitempty"`
	TotalChunks     int           `json:"totalChunks"`
	ProcessedChunks int           `json:"processedChunks"`
	Percent         float64       `json:"percent"`
	ChunksPerSec    float64       `json:"chunksPerSec"`
	ETA             time.Duration `json:"eta"`
	IndexedVectors  int           `json:"indexedVectors"`
}

// Coordinator drives indexing runs over one source tree. Run is not
// reentrant; callers serialize runs (the watch loop delivers change batches
// sequentially).
type Coordinator struct {
	cfg      *config.Config
	rootPath string
	logger   *logging.Logger

	sources    *source.Cache
	extractor  *chunk.Extractor
	chunkCache *cache.PerFileCache[[]chunk.Chunk]
	epoch      *cache.Epoch
	results    *cache.ResultCache[[]vecindex.Match]

	index     *vecindex.Index
	snapshots *persist.Store
	jobs      *jobs.Store
	client    *remote.Client

	mu        sync.Mutex
	status    Status
	startedAt time.Time

	// Provider metadata from the last health check, stamped into snapshots.
	// Written and read only on the Run goroutine.
	provider   string
	dimensions int
}

// New creates a coordinator. The jobs store may be nil (no job history kept).
func New(cfg *config.Config, logger *logging.Logger, sources *source.Cache,
	index *vecindex.Index, snapshots *persist.Store, jobStore *jobs.Store,
	client *remote.Client) *Coordinator {

	epoch := &cache.Epoch{}
	return &Coordinator{
		cfg:        cfg,
		rootPath:   cfg.RootPath,
		logger:     logger,
		sources:    sources,
		extractor:  chunk.NewExtractor(),
		chunkCache: cache.NewPerFileCache[[]chunk.Chunk](),
		epoch:      epoch,
		results:    cache.NewResultCache[[]vecindex.Match](epoch, cfg.Cache.ResultCacheMaxEntries),
		index:      index,
		snapshots:  snapshots,
		jobs:       jobStore,
		client:     client,
	}
}

// Epoch exposes the invalidation epoch shared by the result cache.
func (c *Coordinator) Epoch() *cache.Epoch {
	return c.epoch
}

// Status returns current progress.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.status
	s.IndexedVectors = c.index.Len()
	if s.TotalChunks > 0 {
		s.Percent = float64(s.ProcessedChunks) / float64(s.TotalChunks) * 100
	}
	if s.Running && s.ProcessedChunks > 0 {
		elapsed := time.Since(c.startedAt).Seconds()
		if elapsed > 0 {
			s.ChunksPerSec = float64(s.ProcessedChunks) / elapsed
			remaining := s.TotalChunks - s.ProcessedChunks
			s.ETA = time.Duration(float64(remaining)/s.ChunksPerSec) * time.Second
		}
	}
	return s
}

// Run performs one incremental indexing pass: diff, embed in batches,
// checkpoint, persist. Cancellation is honored at batch boundaries; work
// embedded before the cancel is kept and checkpointed.
func (c *Coordinator) Run(ctx context.Context) error {
	p, err := c.plan(ctx)
	if err != nil {
		return err
	}

	// Removals need no server round-trip.
	for _, id := range p.Remove {
		c.index.Remove(id)
	}

	if len(p.Embed) == 0 {
		if len(p.Remove) > 0 {
			if err := c.persistIndex(); err != nil {
				return err
			}
		}
		c.syncFileHashes(p)
		ClearCheckpoint(c.rootPath)
		c.logger.Info("Index up to date", map[string]interface{}{
			"unchanged": p.Unchanged,
			"removed":   len(p.Remove),
		})
		return nil
	}

	c.logger.Info("Indexing run starting", map[string]interface{}{
		"embed":     len(p.Embed),
		"removed":   len(p.Remove),
		"unchanged": p.Unchanged,
	})

	job, reg, processedBase, err := c.openJob(ctx, p)
	if err != nil {
		return err
	}

	if err := c.waitForTurn(ctx, reg); err != nil {
		c.abortJob(job, reg.JobID, processedBase, "cancelled")
		return err
	}

	batchSize := c.batchSize(reg.RecommendedBatchSize)
	provider := c.providerName(ctx)

	c.mu.Lock()
	c.startedAt = time.Now()
	c.status = Status{
		Running:         true,
		JobID:           job.ID,
		TotalChunks:     processedBase + len(p.Embed),
		ProcessedChunks: processedBase,
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.status.Running = false
		c.mu.Unlock()
	}()

	done := 0
	sinceCheckpoint := 0

	for start := 0; start < len(p.Embed); start += batchSize {
		// Cancellation is checked between batches only; a batch in flight
		// is allowed to finish so its vectors are not wasted.
		if ctx.Err() != nil {
			c.abortJob(job, reg.JobID, processedBase+done, "cancelled")
			return ctx.Err()
		}

		end := start + batchSize
		if end > len(p.Embed) {
			end = len(p.Embed)
		}
		batch := p.Embed[start:end]

		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Text
		}

		vectors, err := retryWithBackoff(ctx, c.cfg.Indexing.Retry, func() ([][]float32, error) {
			return c.client.Embed(ctx, texts)
		})
		if err != nil {
			if ctx.Err() != nil {
				c.abortJob(job, reg.JobID, processedBase+done, "cancelled")
				return ctx.Err()
			}
			c.failJob(job, reg.JobID, processedBase+done, err)
			return err
		}

		now := time.Now().UTC()
		for i, ch := range batch {
			c.index.Upsert(vecindex.EmbeddingVector{
				ChunkID:    ch.ID,
				Vector:     vectors[i],
				Provider:   provider,
				Hash:       ch.Hash,
				EmbeddedAt: now,
			})
		}

		done += len(batch)
		sinceCheckpoint += len(batch)

		c.mu.Lock()
		c.status.ProcessedChunks = processedBase + done
		c.mu.Unlock()

		// Progress reports are absolute; a failed report is logged and the
		// next one covers for it.
		if err := c.client.ReportProgress(ctx, reg.JobID, processedBase+done); err != nil {
			c.logger.Warn("Progress report failed", map[string]interface{}{
				"jobId": reg.JobID,
				"error": err.Error(),
			})
		}

		if sinceCheckpoint >= c.cfg.Indexing.CheckpointInterval {
			sinceCheckpoint = 0
			c.checkpoint(job, reg.JobID, processedBase+done)
		}
	}

	return c.finishJob(ctx, job, reg.JobID, processedBase+done, p)
}

// openJob resolves the remote job for this run. A checkpoint whose remote
// job the server still recognizes is resumed; an unrecognized id means the
// server restarted, so the local checkpoint is authoritative and the
// remaining work is registered as a fresh job.
func (c *Coordinator) openJob(ctx context.Context, p *Plan) (*jobs.Job, *remote.Registration, int, error) {
	cp, err := LoadCheckpoint(c.rootPath)
	if err != nil {
		return nil, nil, 0, err
	}

	var reg *remote.Registration
	processedBase := 0

	if cp != nil && cp.RemoteJobID != "" {
		if _, err := c.client.GetJob(ctx, cp.RemoteJobID); err == nil {
			reg = &remote.Registration{JobID: cp.RemoteJobID}
			// Resuming skips registration, so the batch recommendation has to
			// come from the capabilities endpoint instead.
			if caps, err := c.client.Capabilities(ctx); err == nil {
				reg.RecommendedBatchSize = caps.RecommendedBatchSize
			}
			processedBase = cp.ProcessedChunks
			c.logger.Info("Resuming indexing job", map[string]interface{}{
				"jobId":     cp.RemoteJobID,
				"processed": cp.ProcessedChunks,
				"remaining": len(p.Embed),
			})
		} else if errors.HasCode(err, errors.JobNotFound) {
			c.logger.Info("Server no longer recognizes job, re-registering remaining work", map[string]interface{}{
				"staleJobId": cp.RemoteJobID,
				"remaining":  len(p.Embed),
			})
		} else {
			return nil, nil, 0, err
		}
	}

	if reg == nil {
		reg, err = retryWithBackoff(ctx, c.cfg.Indexing.Retry, func() (*remote.Registration, error) {
			return c.client.Register(ctx, len(p.Embed))
		})
		if err != nil {
			return nil, nil, 0, err
		}
	}

	job := &jobs.Job{
		ID:          uuid.NewString(),
		RemoteID:    reg.JobID,
		Status:      jobs.StatusRunning,
		TotalChunks: processedBase + len(p.Embed),
		BatchSize:   c.batchSize(reg.RecommendedBatchSize),
		CreatedAt:   time.Now().UTC(),
	}
	now := job.CreatedAt
	job.StartedAt = &now

	if c.jobs != nil {
		if err := c.jobs.CreateJob(job); err != nil {
			c.logger.Warn("Failed to record job", map[string]interface{}{
				"jobId": job.ID,
				"error": err.Error(),
			})
		}
	}

	return job, reg, processedBase, nil
}

func (c *Coordinator) batchSize(recommended int) int {
	size := recommended
	if size <= 0 {
		size = defaultBatchSize
	}
	if c.cfg.Embedding.MaxBatchSize > 0 && size > c.cfg.Embedding.MaxBatchSize {
		size = c.cfg.Embedding.MaxBatchSize
	}
	return size
}

// waitForTurn blocks until the server activates the job. The server runs one
// job at a time; embedding while queued would contend for the single GPU.
func (c *Coordinator) waitForTurn(ctx context.Context, reg *remote.Registration) error {
	if reg.QueuePosition <= 0 {
		return nil
	}

	c.logger.Info("Queued behind other indexing jobs", map[string]interface{}{
		"jobId":    reg.JobID,
		"position": reg.QueuePosition,
	})

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			st, err := c.client.GetJob(ctx, reg.JobID)
			if err != nil {
				if errors.HasCode(err, errors.JobNotFound) {
					// Server dropped the queue; proceed and let the first
					// embed surface any real problem.
					return nil
				}
				continue
			}
			if st.QueuePosition <= 0 {
				return nil
			}
		}
	}
}

// providerName stamps vectors with the serving model so a model change
// invalidates nothing silently: vectors carry their origin.
func (c *Coordinator) providerName(ctx context.Context) string {
	health, err := c.client.Health(ctx)
	if err != nil || health.Model == "" {
		return "unknown"
	}
	c.provider = health.Model
	c.dimensions = health.Dimensions
	return health.Model
}

// checkpoint persists the snapshot and the job bookkeeping. Failures are
// logged, not fatal: losing a checkpoint costs re-embedding at most one
// interval's worth of chunks.
func (c *Coordinator) checkpoint(job *jobs.Job, remoteID string, processed int) {
	if err := c.persistIndex(); err != nil {
		c.logger.Warn("Checkpoint snapshot failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	if err := SaveCheckpoint(c.rootPath, &Checkpoint{
		LocalJobID:      job.ID,
		RemoteJobID:     remoteID,
		TotalChunks:     job.TotalChunks,
		ProcessedChunks: processed,
	}); err != nil {
		c.logger.Warn("Checkpoint write failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	job.ProcessedChunks = processed
	if c.jobs != nil {
		_ = c.jobs.UpdateJob(job)
	}

	c.logger.Debug("Checkpoint saved", map[string]interface{}{
		"processed": processed,
		"total":     job.TotalChunks,
	})
}

func (c *Coordinator) finishJob(ctx context.Context, job *jobs.Job, remoteID string, processed int, p *Plan) error {
	if err := c.persistIndex(); err != nil {
		return err
	}
	c.syncFileHashes(p)
	ClearCheckpoint(c.rootPath)

	if err := c.client.Complete(ctx, remoteID); err != nil {
		// The server drops completed jobs anyway; a lost complete call only
		// delays its queue cleanup.
		c.logger.Warn("Failed to mark remote job complete", map[string]interface{}{
			"jobId": remoteID,
			"error": err.Error(),
		})
	}

	job.Status = jobs.StatusCompleted
	job.ProcessedChunks = processed
	now := time.Now().UTC()
	job.CompletedAt = &now
	if c.jobs != nil {
		_ = c.jobs.UpdateJob(job)
	}

	c.logger.Info("Indexing run complete", map[string]interface{}{
		"embedded": processed,
		"vectors":  c.index.Len(),
	})
	return nil
}

// abortJob checkpoints progress and marks the job cancelled. Embedded work
// is kept; the next run resumes from the checkpoint.
func (c *Coordinator) abortJob(job *jobs.Job, remoteID string, processed int, reason string) {
	c.checkpoint(job, remoteID, processed)

	cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.client.Cancel(cancelCtx, remoteID); err != nil {
		c.logger.Warn("Failed to cancel remote job", map[string]interface{}{
			"jobId": remoteID,
			"error": err.Error(),
		})
	}

	job.Status = jobs.StatusCancelled
	job.ProcessedChunks = processed
	now := time.Now().UTC()
	job.CompletedAt = &now
	job.Error = reason
	if c.jobs != nil {
		_ = c.jobs.UpdateJob(job)
	}
}

func (c *Coordinator) failJob(job *jobs.Job, remoteID string, processed int, cause error) {
	c.checkpoint(job, remoteID, processed)

	failCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.client.Fail(failCtx, remoteID, cause.Error()); err != nil {
		c.logger.Warn("Failed to mark remote job failed", map[string]interface{}{
			"jobId": remoteID,
			"error": err.Error(),
		})
	}

	job.Status = jobs.StatusFailed
	job.ProcessedChunks = processed
	now := time.Now().UTC()
	job.CompletedAt = &now
	job.Error = cause.Error()
	if c.jobs != nil {
		_ = c.jobs.UpdateJob(job)
	}
}

func (c *Coordinator) persistIndex() error {
	return c.snapshots.Save(&persist.Snapshot{
		SchemaVersion: persist.SchemaVersion,
		Provider:      c.provider,
		Dimensions:    c.dimensions,
		SavedAt:       time.Now().UTC(),
		Vectors:       c.index.Vectors(),
	})
}

// syncFileHashes records each scanned file's hash as last-indexed, and
// forgets files that no longer exist. Drives the cheap startup diff.
func (c *Coordinator) syncFileHashes(p *Plan) {
	if c.jobs == nil {
		return
	}

	now := time.Now().UTC()
	for path, hash := range p.FileHashes {
		_ = c.jobs.SaveFileHash(&jobs.FileHash{Path: path, Hash: hash, LastIndexed: now})
	}

	known, err := c.jobs.GetAllHashes()
	if err != nil {
		return
	}
	for path := range known {
		if _, ok := p.FileHashes[path]; !ok {
			_ = c.jobs.DeleteFileHash(path)
		}
	}
}

// OnChanges is the watch-mode entry point: recompute hashes for the changed
// paths, invalidate caches for those whose content actually moved, bump the
// epoch once for the whole batch, then run an incremental pass. A spurious
// event whose file hashes the same as before costs one hash and nothing else.
func (c *Coordinator) OnChanges(ctx context.Context, paths []string) error {
	changed := 0
	for _, path := range paths {
		if prev, ok := c.sources.CachedHash(path); ok {
			if cur, err := source.HashFile(path); err == nil && cur == prev {
				continue
			}
		}
		c.sources.Invalidate(path)
		c.chunkCache.Invalidate(path)
		changed++
	}

	if changed == 0 {
		c.logger.Debug("Change batch had no content changes", map[string]interface{}{
			"paths": len(paths),
		})
		return nil
	}

	c.epoch.Bump()
	return c.Run(ctx)
}

// MergeSnapshot reload-merges an externally written snapshot into the live
// index. Vectors embedded more recently win; ties keep the local copy.
func (c *Coordinator) MergeSnapshot() {
	snap, ok := c.snapshots.Load()
	if !ok {
		return
	}

	merged := c.index.Merge(snap.Vectors)
	if merged > 0 {
		c.epoch.Bump()
		c.logger.Info("Merged externally updated snapshot", map[string]interface{}{
			"merged": merged,
		})
	}
}

// Search embeds the query and returns the k nearest chunks. Results are
// served from the epoch-scoped result cache until the next invalidation.
func (c *Coordinator) Search(ctx context.Context, query string, k int) ([]vecindex.Match, error) {
	fp := c.results.Fingerprint("search", query, strconv.Itoa(k))
	return c.results.GetOrCompute(fp, func() ([]vecindex.Match, error) {
		vectors, err := c.client.Embed(ctx, []string{query})
		if err != nil {
			return nil, err
		}
		if len(vectors) == 0 {
			return nil, errors.Newf(errors.ProviderError, "no vector returned for query")
		}
		return c.index.Nearest(vectors[0], k), nil
	})
}

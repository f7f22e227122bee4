package grievance

import (
	"context"
	"strconv"
	"time"

	"grievance_server/core/domain"
	"grievance_server/core/port/out"
	"grievance_server/pkg/apperr"
	"grievance_server/pkg/metrics"

	"github.com/go-pkgz/pool"
	"github.com/google/uuid"
)

// batchItem is one accepted email on its way through a sender stream.
type batchItem struct {
	seq    int64
	source string
	stream string
	parsed *out.ParsedEmail
	result *domain.IngestResult
}

// streamWorker drains items routed to it by stream key, in submission order.
type streamWorker struct {
	svc    *Service
	source string
}

func (w *streamWorker) Do(ctx context.Context, item *batchItem) error {
	*item.result = w.svc.ingest(ctx, item, w.source)
	return nil
}

// ProcessBatch parses, deduplicates and ingests raws in order.
//
// Every accepted email gets the next Seq. Emails are then split into sender
// streams which run in parallel; within a stream processing is sequential in
// Seq order. A stream is keyed by sender, and senders joined by an in-batch
// In-Reply-To share one stream, so the result equals a single sequential
// pass.
func (s *Service) ProcessBatch(ctx context.Context, raws []out.RawEmail, source string) (*domain.BatchReport, error) {
	if s.reprocessing.Load() {
		return nil, apperr.ReprocessInProgress()
	}
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	start := time.Now()
	defer metrics.ObserveSince(metrics.BatchDuration.WithLabelValues("process"), start)

	report := &domain.BatchReport{
		BatchID: uuid.New().String(),
		Results: make([]domain.IngestResult, len(raws)),
	}
	log := s.log.With().Str("batch_id", report.BatchID).Str("source", source).Logger()

	items := make([]*batchItem, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	for i, raw := range raws {
		res := &report.Results[i]
		parsed, err := s.parser.Parse(raw.Name, raw.Data)
		if err != nil {
			*res = domain.IngestResult{Source: raw.Name, Outcome: domain.OutcomeParseError, Error: err.Error()}
			metrics.EmailsIngested.WithLabelValues(source, string(res.Outcome)).Inc()
			log.Warn().Err(err).Str("file", raw.Name).Msg("skipping unreadable email")
			continue
		}
		if parsed.Raw == nil {
			parsed.Raw = raw.Data
		}

		id := parsed.Email.EmailID
		if _, dup := seen[id]; dup || s.isKnown(id) {
			*res = duplicateResult(raw.Name, id)
			metrics.EmailsIngested.WithLabelValues(source, string(res.Outcome)).Inc()
			continue
		}
		if id != "" {
			seen[id] = struct{}{}
		}

		items = append(items, &batchItem{
			seq:    s.seq.Add(1),
			source: raw.Name,
			parsed: parsed,
			result: res,
		})
	}

	report.Streams = assignStreams(items)

	if len(items) > 0 {
		if err := s.runStreams(ctx, items, source); err != nil {
			return nil, apperr.Internal("batch workers failed").WithError(err)
		}
	}

	for _, r := range report.Results {
		switch r.Outcome {
		case domain.OutcomeStored:
			report.Stored++
		case domain.OutcomeDuplicate:
			report.Duplicates++
		default:
			report.Failed++
		}
	}
	report.Duration = time.Since(start)

	log.Info().
		Int("emails", len(raws)).
		Int("stored", report.Stored).
		Int("duplicates", report.Duplicates).
		Int("failed", report.Failed).
		Int("streams", report.Streams).
		Dur("duration", report.Duration).
		Msg("batch processed")
	return report, nil
}

func (s *Service) runStreams(ctx context.Context, items []*batchItem, source string) error {
	workers := s.workers
	if workers > len(items) {
		workers = len(items)
	}

	wg := pool.New[*batchItem](workers, &streamWorker{svc: s, source: source}).
		WithChunkFn(func(it *batchItem) string { return it.stream }).
		WithContinueOnError()
	if err := wg.Go(ctx); err != nil {
		return err
	}
	for _, it := range items {
		wg.Submit(it)
	}
	return wg.Close(ctx)
}

// assignStreams sets each item's stream key and returns the number of
// distinct streams. Items without a sender get a stream of their own unless
// an in-batch parent link pulls them into another.
func assignStreams(items []*batchItem) int {
	uf := newUnionFind()
	byID := make(map[string]*batchItem, len(items))

	for _, it := range items {
		key := domain.NormalizeSender(it.parsed.Email.Sender)
		if key == "" {
			key = "#" + strconv.FormatInt(it.seq, 10)
		}
		it.stream = key
		uf.add(key)
		if id := it.parsed.Email.EmailID; id != "" {
			byID[id] = it
		}
	}
	for _, it := range items {
		parentID := it.parsed.Email.ParentEmailID
		if parentID == "" {
			continue
		}
		if parent, ok := byID[parentID]; ok && parent.seq < it.seq {
			uf.union(it.stream, parent.stream)
		}
	}

	streams := make(map[string]struct{})
	for _, it := range items {
		it.stream = uf.find(it.stream)
		streams[it.stream] = struct{}{}
	}
	return len(streams)
}

// unionFind groups stream keys; the root is the smallest key so grouping is
// independent of union order.
type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string)}
}

func (u *unionFind) add(k string) {
	if _, ok := u.parent[k]; !ok {
		u.parent[k] = k
	}
}

func (u *unionFind) find(k string) string {
	root := k
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[k] != root {
		next := u.parent[k]
		u.parent[k] = root
		k = next
	}
	return root
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}

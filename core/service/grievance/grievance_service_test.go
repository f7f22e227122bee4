package grievance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"grievance_server/config"
	"grievance_server/core/domain"
	"grievance_server/core/port/out"
	"grievance_server/core/service/classification"
	"grievance_server/core/service/threading"
	"grievance_server/pkg/apperr"
)

// memRepo is an in-memory HistoryRepository.
type memRepo struct {
	mu      sync.Mutex
	records []*domain.GrievanceEmail
	failOn  string
}

func (r *memRepo) LoadAll(context.Context) ([]*domain.GrievanceEmail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]*domain.GrievanceEmail, len(r.records))
	for i, e := range r.records {
		list[i] = e.Clone()
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	return list, nil
}

func (r *memRepo) Append(_ context.Context, e *domain.GrievanceEmail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != "" && e.EmailID == r.failOn {
		return errors.New("disk full")
	}
	for _, x := range r.records {
		if e.EmailID != "" && x.EmailID == e.EmailID {
			return out.ErrDuplicateRecord
		}
	}
	r.records = append(r.records, e.Clone())
	return nil
}

func (r *memRepo) ReplaceAll(_ context.Context, emails []*domain.GrievanceEmail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = r.records[:0]
	for _, e := range emails {
		r.records = append(r.records, e.Clone())
	}
	return nil
}

func (r *memRepo) Exists(_ context.Context, id string) (bool, error) {
	_, err := r.Get(context.Background(), id)
	return err == nil, nil
}

func (r *memRepo) Get(_ context.Context, id string) (*domain.GrievanceEmail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.records {
		if e.EmailID == id {
			return e.Clone(), nil
		}
	}
	return nil, out.ErrRecordNotFound
}

func (r *memRepo) ListByCategory(_ context.Context, c domain.Category) ([]*domain.GrievanceEmail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []*domain.GrievanceEmail
	for _, e := range r.records {
		if e.Category == c {
			list = append(list, e.Clone())
		}
	}
	return list, nil
}

func (r *memRepo) CategoryCounts(context.Context) ([]domain.CategoryCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[domain.Category]int{}
	for _, e := range r.records {
		counts[e.Category]++
	}
	var list []domain.CategoryCount
	for c, n := range counts {
		list = append(list, domain.CategoryCount{Name: c, Count: n})
	}
	return list, nil
}

func (r *memRepo) MailTypeCounts(context.Context) (*domain.DashboardStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &domain.DashboardStats{}
	for _, e := range r.records {
		s.Add(e)
	}
	return s, nil
}

func (r *memRepo) NextSeq(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var max int64
	for _, e := range r.records {
		if e.Seq > max {
			max = e.Seq
		}
	}
	return max + 1, nil
}

func (r *memRepo) Close() error { return nil }

func (r *memRepo) snapshot() map[string]*domain.GrievanceEmail {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := make(map[string]*domain.GrievanceEmail, len(r.records))
	for _, e := range r.records {
		m[e.EmailID] = e.Clone()
	}
	return m
}

// lineParser reads "Key: value" headers followed by a blank line and a body.
type lineParser struct{}

func (lineParser) Parse(name string, raw []byte) (*out.ParsedEmail, error) {
	text := string(raw)
	if !strings.Contains(text, "\n\n") {
		return nil, fmt.Errorf("%s: no header separator", name)
	}
	head, body, _ := strings.Cut(text, "\n\n")
	e := &domain.GrievanceEmail{EMLFile: name}
	for _, line := range strings.Split(head, "\n") {
		k, v, _ := strings.Cut(line, ":")
		v = strings.TrimSpace(v)
		switch k {
		case "Id":
			e.EmailID = v
		case "Parent":
			e.ParentEmailID = v
		case "From":
			e.Sender = v
		case "Subject":
			e.Subject = v
		}
	}
	e.Content = e.Subject + "\n" + body
	return &out.ParsedEmail{Email: e}, nil
}

func rawEmail(name, id, parent, from, subject, body string) out.RawEmail {
	var b strings.Builder
	fmt.Fprintf(&b, "Id: %s\n", id)
	if parent != "" {
		fmt.Fprintf(&b, "Parent: %s\n", parent)
	}
	fmt.Fprintf(&b, "From: %s\nSubject: %s\n\n%s", from, subject, body)
	return out.RawEmail{Name: name, Data: []byte(b.String())}
}

// vowelEmbedder maps text to vowel counts, deterministic and cheap.
type vowelEmbedder struct{}

func (v vowelEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vs, _ := v.EmbedBatch(ctx, []string{text})
	return vs[0], nil
}

func (vowelEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, 5)
		for _, r := range strings.ToLower(t) {
			if idx := strings.IndexRune("aeiou", r); idx >= 0 {
				vec[idx]++
			}
		}
		vecs[i] = vec
	}
	return vecs, nil
}

type recordingGraph struct {
	mu       sync.Mutex
	upserts  int
	rebuilds int
}

func (g *recordingGraph) UpsertEmail(context.Context, *domain.GrievanceEmail) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.upserts++
	return nil
}

func (g *recordingGraph) Rebuild(context.Context, []*domain.GrievanceEmail) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rebuilds++
	return nil
}

func (g *recordingGraph) Thread(context.Context, string) ([]string, error) {
	return nil, errors.New("graph offline")
}

func newTestService(t *testing.T, repo *memRepo, workers int, embedder out.Embedder) *Service {
	t.Helper()
	table, err := config.LoadCategoryTable("")
	if err != nil {
		t.Fatal(err)
	}
	var sim *threading.SimilarityBackend
	if embedder != nil {
		sim = threading.NewSimilarityBackend(embedder)
	}
	svc := NewService(Deps{
		Repo:       repo,
		Parser:     lineParser{},
		Classifier: classification.NewCategoryClassifier(table),
		Resolver:   threading.NewResolver(threading.ResolverConfig{Threshold: 0.88, Window: 10}, nil, sim),
		Workers:    workers,
		Now:        func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) },
	})
	if err := svc.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return svc
}

func clerkBatch() []out.RawEmail {
	return []out.RawEmail{
		rawEmail("001.eml", "a1", "", "Principal <a@x.edu>", "Suspension of Clerk X", "The clerk was suspended without a show cause notice."),
		rawEmail("002.eml", "a2", "a1", "Principal <a@x.edu>", "Re: Suspension of Clerk X", "Still waiting for a reply."),
		rawEmail("003.eml", "b1", "", "Govt College Y <b@y.edu>", "Suspension of Clerk X", "We also report the suspension."),
		rawEmail("004.eml", "a3", "", "Principal <a@x.edu>", "Following up on suspension of the clerk", "As mentioned earlier, please act."),
	}
}

func TestProcessBatchClerkScenario(t *testing.T) {
	repo := &memRepo{}
	svc := newTestService(t, repo, 4, nil)

	report, err := svc.ProcessBatch(context.Background(), clerkBatch(), "dir")
	if err != nil {
		t.Fatal(err)
	}
	if report.Stored != 4 || report.Failed != 0 || report.Duplicates != 0 {
		t.Fatalf("report = %+v", report)
	}
	if report.Streams != 2 {
		t.Errorf("expected 2 sender streams, got %d", report.Streams)
	}

	got := repo.snapshot()
	tests := []struct {
		id     string
		typ    domain.MailType
		parent string
		count  int
		layer  domain.ThreadLayer
	}{
		{"a1", domain.MailTypeFresh, "", 0, domain.LayerFirstFromSender},
		{"a2", domain.MailTypeFollowUp, "a1", 1, domain.LayerStructural},
		{"b1", domain.MailTypeFresh, "", 0, domain.LayerFirstFromSender},
		{"a3", domain.MailTypeFollowUp, "a2", 2, domain.LayerExplicitReference},
	}
	for _, tt := range tests {
		e := got[tt.id]
		if e == nil {
			t.Fatalf("%s not stored", tt.id)
		}
		if e.MailType != tt.typ || e.ThreadParentID != tt.parent || e.FollowupCount != tt.count || e.ThreadLayer != tt.layer {
			t.Errorf("%s: got %s/%q/%d/%s", tt.id, e.MailType, e.ThreadParentID, e.FollowupCount, e.ThreadLayer)
		}
		if e.Category != "Suspension / Disciplinary" {
			t.Errorf("%s: category %q", tt.id, e.Category)
		}
	}
	if got["a1"].Seq >= got["a2"].Seq || got["a2"].Seq >= got["b1"].Seq {
		t.Error("seq must follow input order")
	}
}

func TestProcessBatchDuplicatesAndParseErrors(t *testing.T) {
	repo := &memRepo{}
	svc := newTestService(t, repo, 2, nil)
	ctx := context.Background()

	batch := append(clerkBatch(),
		rawEmail("005.eml", "a1", "", "Principal <a@x.edu>", "dup", "dup"),
		out.RawEmail{Name: "broken.eml", Data: []byte("no separator")},
	)
	report, err := svc.ProcessBatch(ctx, batch, "dir")
	if err != nil {
		t.Fatal(err)
	}
	if report.Stored != 4 || report.Duplicates != 1 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}
	if report.Results[5].Outcome != domain.OutcomeParseError || report.Results[5].Source != "broken.eml" {
		t.Errorf("parse error result = %+v", report.Results[5])
	}

	again, err := svc.ProcessBatch(ctx, clerkBatch(), "dir")
	if err != nil {
		t.Fatal(err)
	}
	if again.Stored != 0 || again.Duplicates != 4 {
		t.Fatalf("second run must skip everything: %+v", again)
	}
}

func TestProcessBatchStoreFailureIsReported(t *testing.T) {
	repo := &memRepo{failOn: "b1"}
	svc := newTestService(t, repo, 1, nil)

	report, err := svc.ProcessBatch(context.Background(), clerkBatch(), "dir")
	if err != nil {
		t.Fatal(err)
	}
	if report.Stored != 3 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}
	if report.Results[2].Outcome != domain.OutcomeError {
		t.Errorf("b1 result = %+v", report.Results[2])
	}
}

// mixedBatch interleaves several senders with cross-sender replies.
func mixedBatch() []out.RawEmail {
	senders := []string{"a@x.edu", "b@x.edu", "c@x.edu", "d@x.edu", "e@x.edu", "f@x.edu"}
	subjects := []string{"Salary arrears pending", "Re: salary arrears", "Transfer order", "Following up transfer", "Promotion case", "Resending promotion file"}
	var batch []out.RawEmail
	for i := 0; i < 60; i++ {
		id := fmt.Sprintf("m%02d", i)
		parent := ""
		if i%7 == 3 {
			parent = fmt.Sprintf("m%02d", i-3)
		}
		sender := senders[(i*5)%len(senders)]
		subject := subjects[i%len(subjects)]
		body := strings.Repeat("grievance about pay and posting ", 1+i%4)
		batch = append(batch, rawEmail(id+".eml", id, parent, sender, subject, body))
	}
	return batch
}

func TestParallelBatchMatchesSequential(t *testing.T) {
	ctx := context.Background()

	seqRepo := &memRepo{}
	if _, err := newTestService(t, seqRepo, 1, vowelEmbedder{}).ProcessBatch(ctx, mixedBatch(), "dir"); err != nil {
		t.Fatal(err)
	}
	for run := 0; run < 5; run++ {
		parRepo := &memRepo{}
		if _, err := newTestService(t, parRepo, 8, vowelEmbedder{}).ProcessBatch(ctx, mixedBatch(), "dir"); err != nil {
			t.Fatal(err)
		}
		want, got := seqRepo.snapshot(), parRepo.snapshot()
		if len(want) != len(got) {
			t.Fatalf("run %d: %d records vs %d", run, len(got), len(want))
		}
		for id, w := range want {
			g := got[id]
			if g.MailType != w.MailType || g.ThreadParentID != w.ThreadParentID || g.FollowupCount != w.FollowupCount || g.Seq != w.Seq {
				t.Fatalf("run %d: %s differs: parallel %s/%q/%d, sequential %s/%q/%d",
					run, id, g.MailType, g.ThreadParentID, g.FollowupCount, w.MailType, w.ThreadParentID, w.FollowupCount)
			}
		}
	}
}

func TestReprocessIsIdempotentAndRepairs(t *testing.T) {
	ctx := context.Background()
	repo := &memRepo{}
	graph := &recordingGraph{}
	svc := newTestService(t, repo, 4, vowelEmbedder{})
	svc.graph = graph

	if _, err := svc.ProcessBatch(ctx, mixedBatch(), "dir"); err != nil {
		t.Fatal(err)
	}
	want := repo.snapshot()

	report, err := svc.Reprocess(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Total != 60 || report.Changed != 0 || report.Before != report.After {
		t.Fatalf("reprocess of consistent history changed records: %+v", report)
	}

	// Corrupt stored threading, reload, and reprocess back.
	for _, e := range repo.records {
		e.MailType = domain.MailTypeFollowUp
		e.FollowupCount = 9
		e.ThreadParentID = "bogus"
	}
	if err := svc.Load(ctx); err != nil {
		t.Fatal(err)
	}
	report, err = svc.Reprocess(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Changed != 60 {
		t.Errorf("expected all records repaired, changed = %d", report.Changed)
	}
	for id, w := range repo.snapshot() {
		o := want[id]
		if o.MailType != w.MailType || o.ThreadParentID != w.ThreadParentID || o.FollowupCount != w.FollowupCount {
			t.Fatalf("%s not restored: %+v", id, w)
		}
	}
	if graph.rebuilds != 2 || graph.upserts != 60 {
		t.Errorf("graph: %d rebuilds, %d upserts", graph.rebuilds, graph.upserts)
	}
}

func TestIngestRefusedDuringReprocess(t *testing.T) {
	svc := newTestService(t, &memRepo{}, 1, nil)
	svc.reprocessing.Store(true)

	_, err := svc.ProcessBatch(context.Background(), clerkBatch(), "dir")
	if !apperr.HasCode(err, apperr.CodeReprocessInProgress) {
		t.Fatalf("expected reprocess-in-progress, got %v", err)
	}
	if _, err := svc.Reprocess(context.Background()); !apperr.HasCode(err, apperr.CodeReprocessInProgress) {
		t.Fatalf("expected reprocess-in-progress, got %v", err)
	}
}

func TestIngestSingle(t *testing.T) {
	svc := newTestService(t, &memRepo{}, 1, nil)
	ctx := context.Background()

	parsed, _ := lineParser{}.Parse("x.eml", clerkBatch()[0].Data)
	res, err := svc.Ingest(ctx, parsed)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != domain.OutcomeStored || res.Decision.Layer != domain.LayerFirstFromSender {
		t.Fatalf("result = %+v", res)
	}

	dup, _ := lineParser{}.Parse("x.eml", clerkBatch()[0].Data)
	res, err = svc.Ingest(ctx, dup)
	if err != nil || res.Outcome != domain.OutcomeDuplicate {
		t.Fatalf("duplicate: %+v %v", res, err)
	}

	if _, err := svc.Ingest(ctx, nil); !apperr.HasCode(err, apperr.CodeInvalidEmail) {
		t.Fatalf("nil message: %v", err)
	}
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, &memRepo{}, 2, nil)
	batch := append(clerkBatch(),
		rawEmail("005.eml", "c1", "", "Govt College Y <c@y.edu>", "Salary not paid", "salary arrears and pay fixation pending"),
		rawEmail("006.eml", "d1", "", "d@z.edu", "Hello", ""),
	)
	if _, err := svc.ProcessBatch(ctx, batch, "dir"); err != nil {
		t.Fatal(err)
	}

	cats, err := svc.Categories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(cats); i++ {
		if cats[i-1].Name >= cats[i].Name {
			t.Fatalf("categories not sorted by name: %v", cats)
		}
	}

	misc, err := svc.EmailsByCategory(ctx, domain.CategoryMiscellaneous)
	if err != nil || len(misc) != 1 || misc[0].EmailID != "d1" {
		t.Fatalf("misc = %v, %v", misc, err)
	}
	none, err := svc.EmailsByCategory(ctx, "Nope")
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("unknown category should be empty, got %v %v", none, err)
	}

	dash, err := svc.Dashboard(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if dash.Total != 6 || dash.FollowUp != 2 || dash.Fresh != 4 {
		t.Errorf("dashboard = %+v", dash)
	}

	senders, _ := svc.Senders(ctx)
	if len(senders) != 2 || senders[0].Name != "Principal" || senders[0].Count != 3 || senders[1].Name != "Govt College Y" {
		t.Errorf("senders = %+v", senders)
	}

	thread, err := svc.Thread(ctx, "a2")
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, e := range thread {
		ids = append(ids, e.EmailID)
	}
	if strings.Join(ids, ",") != "a1,a2,a3" {
		t.Errorf("thread = %v", ids)
	}
	if _, err := svc.Thread(ctx, "missing"); !apperr.HasCode(err, apperr.CodeNotFound) {
		t.Errorf("missing thread: %v", err)
	}

	e, err := svc.Email(ctx, "c1")
	if err != nil || e.Category != "Non-Suspension Service" {
		t.Errorf("email = %+v, %v", e, err)
	}
	if e.DisplayDate() != "2025-03-01" {
		t.Errorf("display date = %q", e.DisplayDate())
	}
}

func TestResolveIsDryRun(t *testing.T) {
	ctx := context.Background()
	repo := &memRepo{}
	svc := newTestService(t, repo, 1, nil)
	if _, err := svc.ProcessBatch(ctx, clerkBatch()[:1], "dir"); err != nil {
		t.Fatal(err)
	}

	d := svc.Resolve(ctx, &domain.GrievanceEmail{EmailID: "q", Sender: "Principal <a@x.edu>", Subject: "Re: clerk"})
	if d.MailType != domain.MailTypeFollowUp || d.ParentID != "a1" {
		t.Fatalf("decision = %+v", d)
	}
	if len(repo.snapshot()) != 1 {
		t.Fatal("resolve must not store anything")
	}

	cat, scores := svc.Classify("pending salary and salary arrears")
	if cat != "Non-Suspension Service" || scores[cat] < 2 {
		t.Errorf("classify = %s %v", cat, scores)
	}
}

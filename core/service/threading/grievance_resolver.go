package threading

import (
	"context"
	"fmt"

	"grievance_server/core/domain"
	"grievance_server/pkg/logger"
	"grievance_server/pkg/metrics"

	"github.com/rs/zerolog"
)

// Defaults for the similarity layer.
const (
	DefaultThreshold = 0.88
	DefaultWindow    = 10
)

// Layer is one step of the resolution chain. A nil decision means the layer
// has no opinion and the next layer is consulted.
type Layer interface {
	Name() domain.ThreadLayer
	Decide(ctx context.Context, email *domain.GrievanceEmail, history HistoryReader) (*domain.ThreadDecision, error)
}

// ResolverConfig tunes the similarity layer.
type ResolverConfig struct {
	Threshold float64 // links only when the best score is strictly greater
	Window    int     // most recent same-sender records compared
}

// Resolver evaluates its layers in order; the first opinion wins.
type Resolver struct {
	layers []Layer
	log    zerolog.Logger
}

// NewResolver builds the standard chain. A nil similarity backend drops the
// similarity layer, which is how the service runs when embeddings are
// unavailable.
func NewResolver(cfg ResolverConfig, detector *ReferenceDetector, similarity *SimilarityBackend) *Resolver {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if detector == nil {
		detector = NewReferenceDetector()
	}

	layers := []Layer{
		StructuralLayer{},
		FirstFromSenderLayer{},
		&ExplicitReferenceLayer{Detector: detector},
	}
	if similarity != nil {
		layers = append(layers, &SimilarityLayer{Backend: similarity, Threshold: cfg.Threshold, Window: cfg.Window})
	}
	layers = append(layers, DefaultLayer{})
	return NewResolverWithLayers(layers...)
}

// NewResolverWithLayers builds a resolver from an explicit chain.
func NewResolverWithLayers(layers ...Layer) *Resolver {
	return &Resolver{
		layers: layers,
		log:    logger.Component("thread_resolver"),
	}
}

// Layers lists the chain in evaluation order.
func (r *Resolver) Layers() []domain.ThreadLayer {
	names := make([]domain.ThreadLayer, len(r.layers))
	for i, l := range r.layers {
		names[i] = l.Name()
	}
	return names
}

// Resolve always returns a decision. Layer errors and panics are logged and
// treated as no opinion.
func (r *Resolver) Resolve(ctx context.Context, email *domain.GrievanceEmail, history HistoryReader) domain.ThreadDecision {
	for _, layer := range r.layers {
		d := r.try(ctx, layer, email, history)
		if d != nil {
			metrics.ThreadDecisions.WithLabelValues(string(d.Layer), string(d.MailType)).Inc()
			return *d
		}
	}
	d := domain.FreshDecision(domain.LayerDefault, "no layer decided")
	metrics.ThreadDecisions.WithLabelValues(string(d.Layer), string(d.MailType)).Inc()
	return d
}

func (r *Resolver) try(ctx context.Context, layer Layer, email *domain.GrievanceEmail, history HistoryReader) (d *domain.ThreadDecision) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.LayerPanics.WithLabelValues(string(layer.Name())).Inc()
			r.log.Error().
				Str("layer", string(layer.Name())).
				Str("email_id", email.EmailID).
				Interface("panic", rec).
				Msg("resolver layer panicked")
			d = nil
		}
	}()

	d, err := layer.Decide(ctx, email, history)
	if err != nil {
		r.log.Warn().
			Err(err).
			Str("layer", string(layer.Name())).
			Str("email_id", email.EmailID).
			Msg("resolver layer skipped")
		return nil
	}
	if d != nil && d.Layer == "" {
		d.Layer = layer.Name()
	}
	return d
}

// StructuralLayer follows the In-Reply-To header to a known record.
type StructuralLayer struct{}

func (StructuralLayer) Name() domain.ThreadLayer { return domain.LayerStructural }

func (StructuralLayer) Decide(_ context.Context, email *domain.GrievanceEmail, history HistoryReader) (*domain.ThreadDecision, error) {
	if email.ParentEmailID == "" || email.ParentEmailID == email.EmailID {
		return nil, nil
	}
	parent, ok := history.Lookup(email.ParentEmailID)
	if !ok {
		return nil, nil
	}
	d := domain.FollowUpDecision(parent, domain.LayerStructural, "in-reply-to "+parent.EmailID)
	return &d, nil
}

// FirstFromSenderLayer starts a thread for a sender with no earlier record.
type FirstFromSenderLayer struct{}

func (FirstFromSenderLayer) Name() domain.ThreadLayer { return domain.LayerFirstFromSender }

func (FirstFromSenderLayer) Decide(_ context.Context, email *domain.GrievanceEmail, history HistoryReader) (*domain.ThreadDecision, error) {
	if domain.NormalizeSender(email.Sender) == "" {
		d := domain.FreshDecision(domain.LayerFirstFromSender, "no sender")
		return &d, nil
	}
	if history.HasSender(email.Sender) {
		return nil, nil
	}
	d := domain.FreshDecision(domain.LayerFirstFromSender, "first email from sender")
	return &d, nil
}

// ExplicitReferenceLayer links a cued email to the sender's latest record.
type ExplicitReferenceLayer struct {
	Detector *ReferenceDetector
}

func (*ExplicitReferenceLayer) Name() domain.ThreadLayer { return domain.LayerExplicitReference }

func (l *ExplicitReferenceLayer) Decide(_ context.Context, email *domain.GrievanceEmail, history HistoryReader) (*domain.ThreadDecision, error) {
	cue, ok := l.Detector.MatchedCue(email.Subject, email.Content)
	if !ok {
		return nil, nil
	}
	parent := latestLinkable(history, email.Sender)
	if parent == nil {
		return nil, nil
	}
	d := domain.FollowUpDecision(parent, domain.LayerExplicitReference, "cue "+cue)
	return &d, nil
}

// latestLinkable returns the sender's newest record that has an email_id.
// Records without one can never be parents.
func latestLinkable(history HistoryReader, sender string) *domain.GrievanceEmail {
	for n := 1; ; n *= 2 {
		recent := history.Recent(sender, n)
		for i := len(recent) - 1; i >= 0; i-- {
			if recent[i].EmailID != "" {
				return recent[i]
			}
		}
		if len(recent) < n {
			return nil
		}
	}
}

// linkable drops records without an email_id.
func linkable(records []*domain.GrievanceEmail) []*domain.GrievanceEmail {
	out := records[:0:0]
	for _, r := range records {
		if r.EmailID != "" {
			out = append(out, r)
		}
	}
	return out
}

// SimilarityLayer links to the most similar of the sender's recent records
// when the score clears the threshold.
type SimilarityLayer struct {
	Backend   *SimilarityBackend
	Threshold float64
	Window    int
}

func (*SimilarityLayer) Name() domain.ThreadLayer { return domain.LayerSimilarity }

func (l *SimilarityLayer) Decide(ctx context.Context, email *domain.GrievanceEmail, history HistoryReader) (*domain.ThreadDecision, error) {
	candidates := linkable(history.Recent(email.Sender, l.Window))
	if len(candidates) == 0 {
		return nil, nil
	}
	match, err := l.Backend.SimilarParent(ctx, email.Content, candidates)
	if err != nil {
		metrics.SimilarityFailures.Inc()
		return nil, err
	}
	if match == nil {
		return nil, nil
	}
	metrics.SimilarityScores.Observe(match.Score)
	if match.Score <= l.Threshold {
		return nil, nil
	}
	d := domain.FollowUpDecision(match.Email, domain.LayerSimilarity, fmt.Sprintf("cosine %.3f", match.Score))
	d.Score = match.Score
	return &d, nil
}

// DefaultLayer always starts a new thread.
type DefaultLayer struct{}

func (DefaultLayer) Name() domain.ThreadLayer { return domain.LayerDefault }

func (DefaultLayer) Decide(context.Context, *domain.GrievanceEmail, HistoryReader) (*domain.ThreadDecision, error) {
	d := domain.FreshDecision(domain.LayerDefault, "no continuation signal")
	return &d, nil
}

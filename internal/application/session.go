package application

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ahrav/go-arbiter/internal/domain"
	"github.com/ahrav/go-arbiter/internal/ports"
)

// Session records reviewer decisions for one Document. Every operation is a
// read-modify-merge-write of the whole snapshot: the current snapshot is
// read, the change is merged into new immutable maps, and the result is
// saved before it replaces the in-memory copy. A failed save leaves the
// session unchanged. Session is safe for concurrent use; writes are
// serialized so there is a single logical writer per key.
type Session struct {
	doc      *Document
	store    ports.DecisionStore
	defaults map[string]string
	logger   *zap.Logger
	metrics  ports.MetricsCollector
	now      func() time.Time

	mu       sync.Mutex
	snapshot domain.SessionSnapshot
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the session logger.
func WithSessionLogger(l *zap.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSessionMetrics records confidence and decision counts.
func WithSessionMetrics(m ports.MetricsCollector) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// WithDefaultLabels supplies display names for slots the reviewer has not
// renamed.
func WithDefaultLabels(labels map[string]string) SessionOption {
	return func(s *Session) { s.defaults = labels }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// OpenSession loads the decisions persisted for doc, or starts empty.
// A corrupted snapshot is reported rather than silently discarded.
func OpenSession(ctx context.Context, doc *Document, store ports.DecisionStore, opts ...SessionOption) (*Session, error) {
	s := &Session{
		doc:    doc,
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	snap, ok, err := store.Load(ctx, doc.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to load decisions for %s: %w", doc.Key, err)
	}
	if !ok {
		snap = domain.NewSessionSnapshot()
	}
	s.snapshot = snap
	s.logger.Debug("session opened",
		zap.String("key", doc.Key),
		zap.Int("results", snap.Results.Len()),
		zap.Int("labels", snap.Labels.Len()),
	)
	return s, nil
}

// Key returns the storage key of the session.
func (s *Session) Key() string { return s.doc.Key }

// Document returns the document under review.
func (s *Session) Document() *Document { return s.doc }

// Snapshot returns the current decisions. The maps inside are immutable
// and safe to keep.
func (s *Session) Snapshot() domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Result returns the decision recorded for rowID.
func (s *Session) Result(rowID string) (domain.ComparisonResult, bool) {
	return s.Snapshot().Results.Get(rowID)
}

// Label resolves the display name of slot in row: a reviewer rename wins,
// then a configured default, then the label carried by the data.
func (s *Session) Label(row domain.ComparisonRow, slot string) string {
	return resolveLabel(s.Snapshot().Labels, s.defaults, row, slot)
}

func resolveLabel(labels domain.LabelMap, defaults map[string]string, row domain.ComparisonRow, slot string) string {
	if name, ok := labels.Get(slot); ok && name != "" {
		return name
	}
	if name := defaults[slot]; name != "" {
		return name
	}
	if out, ok := row.Option(slot); ok && out.Label != "" {
		return out.Label
	}
	return slot
}

// PickWinner records winnerID as the outcome of rowID. winnerID must be one
// of the row's slots, tie or undefined. A previous confidence and
// reasoning are kept; a first decision starts at DefaultConfidence.
func (s *Session) PickWinner(ctx context.Context, rowID, winnerID string) (domain.ComparisonResult, error) {
	row, err := s.row(rowID)
	if err != nil {
		return domain.ComparisonResult{}, err
	}

	var winnerLabel string
	switch winnerID {
	case domain.WinnerTie, domain.WinnerUndefined:
		winnerLabel = winnerID
	default:
		if _, ok := row.Option(winnerID); !ok {
			return domain.ComparisonResult{}, fmt.Errorf("%w: %q is not an option of row %s", domain.ErrUnknownSlot, winnerID, rowID)
		}
	}

	return s.updateResult(ctx, rowID, func(snap domain.SessionSnapshot, prev domain.ComparisonResult, exists bool) (domain.ComparisonResult, error) {
		result := domain.ComparisonResult{
			RowID:      rowID,
			WinnerID:   winnerID,
			Confidence: domain.DefaultConfidence,
		}
		if exists {
			result.Confidence = prev.Confidence
			result.Reasoning = prev.Reasoning
		}
		result.WinnerLabel = winnerLabel
		if result.WinnerLabel == "" {
			result.WinnerLabel = resolveLabel(snap.Labels, s.defaults, row, winnerID)
		}
		return result, nil
	})
}

// SetConfidence adjusts the confidence of an already decided row.
func (s *Session) SetConfidence(ctx context.Context, rowID string, level int) (domain.ComparisonResult, error) {
	if level < domain.MinConfidence || level > domain.MaxConfidence {
		return domain.ComparisonResult{}, fmt.Errorf("%w: %d not in %d..%d",
			domain.ErrInvalidConfidence, level, domain.MinConfidence, domain.MaxConfidence)
	}
	if _, err := s.row(rowID); err != nil {
		return domain.ComparisonResult{}, err
	}
	return s.updateResult(ctx, rowID, func(_ domain.SessionSnapshot, prev domain.ComparisonResult, exists bool) (domain.ComparisonResult, error) {
		if !exists {
			return prev, fmt.Errorf("%w: %s", domain.ErrNotDecided, rowID)
		}
		prev.Confidence = level
		return prev, nil
	})
}

// SetReasoning replaces the free-text reasoning of an already decided row.
func (s *Session) SetReasoning(ctx context.Context, rowID, text string) (domain.ComparisonResult, error) {
	if _, err := s.row(rowID); err != nil {
		return domain.ComparisonResult{}, err
	}
	return s.updateResult(ctx, rowID, func(_ domain.SessionSnapshot, prev domain.ComparisonResult, exists bool) (domain.ComparisonResult, error) {
		if !exists {
			return prev, fmt.Errorf("%w: %s", domain.ErrNotDecided, rowID)
		}
		prev.Reasoning = strings.TrimSpace(text)
		return prev, nil
	})
}

// RenameSlot sets the global display name of slot. An empty name removes
// the rename so the slot shows its default label again. Results already
// recorded keep the label they were decided under.
func (s *Session) RenameSlot(ctx context.Context, slot, name string) error {
	if !domain.IsSlotID(slot) {
		return fmt.Errorf("%w: %q", domain.ErrUnknownSlot, slot)
	}
	name = strings.TrimSpace(name)
	return s.update(ctx, func(snap domain.SessionSnapshot) (domain.SessionSnapshot, error) {
		if name == "" {
			snap.Labels = domain.Without(snap.Labels, slot)
		} else {
			snap.Labels = domain.Merge(snap.Labels, slot, name)
		}
		return snap, nil
	})
}

// SetFeedback records approval of one JSON-mode suggestion.
func (s *Session) SetFeedback(ctx context.Context, id string, approved bool, comment string) (domain.SuggestionFeedback, error) {
	if !s.doc.HasItem(id) {
		return domain.SuggestionFeedback{}, fmt.Errorf("%w: suggestion %q", domain.ErrRowNotFound, id)
	}
	fb := domain.SuggestionFeedback{ID: id, Approved: approved, Comment: strings.TrimSpace(comment)}
	err := s.update(ctx, func(snap domain.SessionSnapshot) (domain.SessionSnapshot, error) {
		snap.Feedbacks = domain.Merge(snap.Feedbacks, id, fb)
		return snap, nil
	})
	if err != nil {
		return domain.SuggestionFeedback{}, err
	}
	return fb, nil
}

// Reset deletes every persisted decision for the document.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Delete(ctx, s.doc.Key); err != nil {
		return fmt.Errorf("failed to reset decisions for %s: %w", s.doc.Key, err)
	}
	s.snapshot = domain.NewSessionSnapshot()
	s.logger.Info("decisions reset", zap.String("key", s.doc.Key))
	return nil
}

func (s *Session) row(rowID string) (domain.ComparisonRow, error) {
	if s.doc.Batch == nil {
		return domain.ComparisonRow{}, fmt.Errorf("%w: %s (document has no rows)", domain.ErrRowNotFound, rowID)
	}
	row, ok := s.doc.Batch.Row(rowID)
	if !ok {
		return domain.ComparisonRow{}, fmt.Errorf("%w: %s", domain.ErrRowNotFound, rowID)
	}
	return row, nil
}

type resultChange func(snap domain.SessionSnapshot, prev domain.ComparisonResult, exists bool) (domain.ComparisonResult, error)

func (s *Session) updateResult(ctx context.Context, rowID string, change resultChange) (domain.ComparisonResult, error) {
	var out domain.ComparisonResult
	err := s.update(ctx, func(snap domain.SessionSnapshot) (domain.SessionSnapshot, error) {
		prev, exists := snap.Results.Get(rowID)
		next, err := change(snap, prev, exists)
		if err != nil {
			return snap, err
		}
		next.Timestamp = s.now().UTC()
		snap.Results = domain.Merge(snap.Results, rowID, next)
		out = next
		return snap, nil
	})
	if err != nil {
		return domain.ComparisonResult{}, err
	}
	if s.metrics != nil {
		s.metrics.RecordHistogram("decision_confidence", float64(out.Confidence), nil)
	}
	return out, nil
}

// update applies change to the current snapshot and persists the result.
// The snapshot only advances when the save succeeds.
func (s *Session) update(ctx context.Context, change func(domain.SessionSnapshot) (domain.SessionSnapshot, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := change(s.snapshot)
	if err != nil {
		return err
	}
	next.Timestamp = s.now().UTC()
	next.Version = domain.SnapshotVersion

	if err := s.store.Save(ctx, s.doc.Key, next); err != nil {
		s.logger.Error("failed to persist decisions", zap.String("key", s.doc.Key), zap.Error(err))
		return fmt.Errorf("failed to save decisions for %s: %w", s.doc.Key, err)
	}
	s.snapshot = next
	return nil
}

// Sessions hands out one Session per storage key so that concurrent
// callers share a single writer.
type Sessions struct {
	store ports.DecisionStore
	opts  []SessionOption

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessions creates a session registry over store.
func NewSessions(store ports.DecisionStore, opts ...SessionOption) *Sessions {
	return &Sessions{store: store, opts: opts, sessions: make(map[string]*Session)}
}

// Open returns the session for doc, loading it on first use.
func (r *Sessions) Open(ctx context.Context, doc *Document) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[doc.Key]; ok {
		return s, nil
	}
	s, err := OpenSession(ctx, doc, r.store, r.opts...)
	if err != nil {
		return nil, err
	}
	r.sessions[doc.Key] = s
	return s, nil
}

package attempt

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// DefaultEmptyTextMarker fills free-response questions the test-taker never touched.
const DefaultEmptyTextMarker = "Để trống"

// AnswerCache holds the attempt's drafts in memory and mirrors every edit
// into the persisted record before acknowledging it.
type AnswerCache struct {
	attemptID   uuid.UUID
	store       Store
	def         *model.ExamDefinition
	emptyMarker string

	mu     sync.Mutex
	drafts map[uuid.UUID]model.AnswerDraft
	frozen bool
	sealed bool
}

// NewAnswerCache creates a cache seeded with previously persisted drafts.
func NewAnswerCache(attemptID uuid.UUID, store Store, def *model.ExamDefinition, seed map[uuid.UUID]model.AnswerDraft, emptyMarker string) *AnswerCache {
	if emptyMarker == "" {
		emptyMarker = DefaultEmptyTextMarker
	}
	drafts := make(map[uuid.UUID]model.AnswerDraft, len(seed))
	for k, v := range seed {
		drafts[k] = v
	}
	return &AnswerCache{
		attemptID:   attemptID,
		store:       store,
		def:         def,
		emptyMarker: emptyMarker,
		drafts:      drafts,
	}
}

// SetAnswer validates and caches the draft for questionID. The edit counts
// only once the persisted record has been rewritten; on a store error the
// in-memory copy is left as it was.
func (c *AnswerCache) SetAnswer(ctx context.Context, questionID uuid.UUID, draft model.AnswerDraft) error {
	draft.QuestionID = questionID
	if err := c.validate(draft); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.sealed:
		return ErrAlreadySubmitted
	case c.frozen:
		return ErrSubmissionPending
	}

	next := make(map[uuid.UUID]model.AnswerDraft, len(c.drafts)+1)
	for k, v := range c.drafts {
		next[k] = v
	}
	next[questionID] = draft

	if _, err := c.store.Update(ctx, c.attemptID, func(r *Record) error {
		r.Answers = next
		return nil
	}); err != nil {
		return fmt.Errorf("persist answer: %w", err)
	}

	c.drafts = next
	return nil
}

// Draft returns the cached draft for a question.
func (c *AnswerCache) Draft(questionID uuid.UUID) (model.AnswerDraft, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.drafts[questionID]
	return d, ok
}

// Drafts returns the cached drafts in canonical question order, without defaults.
func (c *AnswerCache) Drafts() []model.AnswerDraft {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.AnswerDraft, 0, len(c.drafts))
	for _, q := range c.def.Questions {
		if d, ok := c.drafts[q.ID]; ok {
			out = append(out, d)
		}
	}
	return out
}

// SubmissionPayload returns one draft per question in the order given,
// synthesising defaults for questions that were never answered.
func (c *AnswerCache) SubmissionPayload(questions []model.Question) []model.AnswerDraft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payloadLocked(questions)
}

// Freeze blocks further edits and returns the payload as of that instant.
func (c *AnswerCache) Freeze(questions []model.Question) []model.AnswerDraft {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
	return c.payloadLocked(questions)
}

// Thaw re-allows edits after a failed submission.
func (c *AnswerCache) Thaw() {
	c.mu.Lock()
	c.frozen = false
	c.mu.Unlock()
}

// Seal clears the drafts and rejects every further edit.
func (c *AnswerCache) Seal() {
	c.mu.Lock()
	c.sealed = true
	c.frozen = false
	c.drafts = make(map[uuid.UUID]model.AnswerDraft)
	c.mu.Unlock()
}

func (c *AnswerCache) payloadLocked(questions []model.Question) []model.AnswerDraft {
	out := make([]model.AnswerDraft, 0, len(questions))
	for _, q := range questions {
		if d, ok := c.drafts[q.ID]; ok {
			out = append(out, d)
			continue
		}
		out = append(out, c.defaultDraft(q))
	}
	return out
}

func (c *AnswerCache) defaultDraft(q model.Question) model.AnswerDraft {
	d := model.AnswerDraft{QuestionID: q.ID}
	if q.Type == model.QuestionTypeFreeResponse {
		marker := c.emptyMarker
		d.TextAnswer = &marker
	}
	return d
}

func (c *AnswerCache) validate(d model.AnswerDraft) error {
	q, ok := c.def.Question(d.QuestionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, d.QuestionID)
	}

	switch q.Type {
	case model.QuestionTypeSingleChoice:
		if d.TextAnswer != nil {
			return fmt.Errorf("%w: single-choice question takes an option", ErrInvalidAnswer)
		}
		if d.SelectedOptionID != nil && !q.HasOption(*d.SelectedOptionID) {
			return fmt.Errorf("%w: option %s", ErrInvalidAnswer, *d.SelectedOptionID)
		}
	case model.QuestionTypeFreeResponse:
		if d.SelectedOptionID != nil {
			return fmt.Errorf("%w: free-response question takes text", ErrInvalidAnswer)
		}
		if d.TextAnswer == nil {
			return fmt.Errorf("%w: text answer required", ErrInvalidAnswer)
		}
	default:
		return fmt.Errorf("%w: unsupported question type %q", ErrInvalidAnswer, q.Type)
	}
	return nil
}

package collab

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/devsynth/hybridmemory/internal/core"
)

// qualityThreshold is the quality-score bar a review must clear to approve,
// per spec §4.7 step 4.
const qualityThreshold = 0.7

// ReviewerFunc produces a reviewer's decision for a work product. criteria
// carries the acceptance criteria requested at assignment time (the
// reviewer fills in pass/fail per key); metrics carries the requested
// metric names (the reviewer fills in a score per key).
type ReviewerFunc func(ctx context.Context, workProduct any, criteria map[string]bool, metricNames []string) (ReviewDecision, error)

// PeerReviewSession runs the five-step peer-review cycle (assign, collect,
// aggregate, finalize, revision loop) over a Service's transaction
// coordinator, grounded on application/collaboration/peer_review.py.
type PeerReviewSession struct {
	svc               *Service
	maxRevisionCycles int
	reviewers         map[string]ReviewerFunc
	critics           map[string]bool
}

// NewPeerReviewSession builds a session; maxRevisionCycles <= 0 defaults to
// the spec's default of 3.
func NewPeerReviewSession(svc *Service, maxRevisionCycles int) *PeerReviewSession {
	if maxRevisionCycles <= 0 {
		maxRevisionCycles = 3
	}
	return &PeerReviewSession{svc: svc, maxRevisionCycles: maxRevisionCycles, reviewers: make(map[string]ReviewerFunc), critics: make(map[string]bool)}
}

// RegisterReviewer wires a reviewer's decision function; critic marks the
// reviewer as critic-like, triggering a dialectical thesis/antithesis/
// synthesis response during collection (spec §4.7 step 2).
func (p *PeerReviewSession) RegisterReviewer(name string, critic bool, fn ReviewerFunc) {
	p.reviewers[name] = fn
	p.critics[name] = critic
}

func simulatedDecision(reviewer string, criteria map[string]bool, metricNames []string) ReviewDecision {
	passed := make(map[string]bool, len(criteria))
	for k := range criteria {
		passed[k] = true
	}
	metrics := make(map[string]float64, len(metricNames))
	for _, name := range metricNames {
		metrics[name] = 1.0
	}
	return ReviewDecision{Reviewer: reviewer, Approved: true, Feedback: []string{"simulated review: looks fine"}, Criteria: passed, Metrics: metrics}
}

func dialecticalResponse(workProduct any) (thesis, antithesis, synthesis string) {
	text := fmt.Sprintf("%v", workProduct)
	thesis = text
	antithesis = "counterpoint: " + text
	synthesis = "synthesis: reconciling " + text + " with its counterpoint"
	return
}

// AssignReviews creates the PeerReviewRecord and (conceptually) emits a
// REVIEW_REQUEST message per reviewer carrying the work product, criteria,
// and requested metric names.
func (p *PeerReviewSession) AssignReviews(ctx context.Context, author string, workProduct any, reviewers []string,
	criteria map[string]bool, metricNames []string) (*PeerReviewRecord, error) {

	record := &PeerReviewRecord{
		ID:          uuid.NewString(),
		WorkProduct: workProduct,
		Author:      author,
		Reviewers:   append([]string(nil), reviewers...),
		Decisions:   make(map[string]ReviewDecision),
		Status:      ReviewPending,
		CreatedAt:   time.Now(),
	}

	for _, reviewer := range reviewers {
		if _, err := p.svc.SendMessage(ctx, author, reviewer, MessageReviewRequest,
			map[string]any{"work_product": workProduct, "criteria": criteria, "metrics": metricNames}, ""); err != nil {
			return nil, err
		}
	}
	record.lastCriteria = criteria
	record.lastMetricNames = metricNames
	return record, p.persist(ctx, record)
}

// CollectReviews invokes each reviewer's function (or a simulated decision
// when unregistered), building a dialectical response for critic reviewers.
func (p *PeerReviewSession) CollectReviews(ctx context.Context, record *PeerReviewRecord) error {
	for _, reviewer := range record.Reviewers {
		var decision ReviewDecision
		if fn, ok := p.reviewers[reviewer]; ok {
			d, err := fn(ctx, record.WorkProduct, record.lastCriteria, record.lastMetricNames)
			if err != nil {
				return core.NewError("collab.CollectReviews", core.KindCollaboration, core.CodeCollaborationError, err)
			}
			decision = d
		} else {
			decision = simulatedDecision(reviewer, record.lastCriteria, record.lastMetricNames)
		}
		decision.Reviewer = reviewer
		if p.critics[reviewer] {
			decision.Thesis, decision.Antithesis, decision.Synthesis = dialecticalResponse(record.WorkProduct)
		}
		record.Decisions[reviewer] = decision
	}
	return p.persist(ctx, record)
}

// AggregateFeedback collapses per-reviewer decisions into a single report:
// textual feedback, per-criterion majority vote, averaged metric scores, and
// quality score (average of per-metric means; zero if no metrics).
func (p *PeerReviewSession) AggregateFeedback(record *PeerReviewRecord) {
	criteriaVotes := make(map[string][]bool)
	metricSums := make(map[string]float64)
	metricCounts := make(map[string]int)
	var feedback []string

	names := make([]string, 0, len(record.Decisions))
	for name := range record.Decisions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		d := record.Decisions[name]
		feedback = append(feedback, d.Feedback...)
		for k, v := range d.Criteria {
			criteriaVotes[k] = append(criteriaVotes[k], v)
		}
		for k, v := range d.Metrics {
			metricSums[k] += v
			metricCounts[k]++
		}
	}

	record.Feedback = feedback

	allPassed := true
	criteriaKeys := make([]string, 0, len(criteriaVotes))
	for k := range criteriaVotes {
		criteriaKeys = append(criteriaKeys, k)
	}
	sort.Strings(criteriaKeys)
	for _, k := range criteriaKeys {
		votes := criteriaVotes[k]
		passCount := 0
		for _, v := range votes {
			if v {
				passCount++
			}
		}
		if passCount*2 < len(votes) {
			allPassed = false
		}
	}
	record.allCriteriaPassed = allPassed

	if len(metricSums) == 0 {
		record.QualityScore = 0
		return
	}
	var total float64
	for k, sum := range metricSums {
		total += sum / float64(metricCounts[k])
	}
	record.QualityScore = total / float64(len(metricSums))
}

// Finalize applies spec §4.7 step 4's status rule and returns the resulting
// status (also set on record.Status).
func (p *PeerReviewSession) Finalize(record *PeerReviewRecord, approved bool) ReviewStatus {
	switch {
	case approved && record.allCriteriaPassed && record.QualityScore >= qualityThreshold:
		record.Status = ReviewApproved
	case !record.allCriteriaPassed:
		record.Status = ReviewRejected
	case record.QualityScore < qualityThreshold:
		if record.PreviousReviewID == "" {
			record.Status = ReviewRevisionSuggested
		} else {
			record.Status = ReviewRejected
		}
	default:
		record.Status = ReviewRejected
	}
	return record.Status
}

func (p *PeerReviewSession) persist(ctx context.Context, record *PeerReviewRecord) error {
	return p.svc.persist(ctx, record.ID, core.MemoryPeerReview, record.ToMap())
}

// SubmitRevision creates a new PeerReviewRecord linked to the current one as
// previous_review, carrying forward the reviewer list, for the next
// iteration of the revision loop.
func (p *PeerReviewSession) SubmitRevision(ctx context.Context, record *PeerReviewRecord, newWork any) (*PeerReviewRecord, error) {
	next := &PeerReviewRecord{
		ID:               uuid.NewString(),
		WorkProduct:      newWork,
		Author:           record.Author,
		Reviewers:        append([]string(nil), record.Reviewers...),
		Decisions:        make(map[string]ReviewDecision),
		Status:           ReviewPending,
		PreviousReviewID: record.ID,
		RevisionCycle:    record.RevisionCycle + 1,
		CreatedAt:        time.Now(),
		lastCriteria:     record.lastCriteria,
		lastMetricNames:  record.lastMetricNames,
	}
	if err := p.persist(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// RunCycle drives assign -> collect -> aggregate -> finalize, and when not
// approved, loops through submit_revision up to maxRevisionCycles (spec
// Testable Property 10).
func (p *PeerReviewSession) RunCycle(ctx context.Context, author string, workProduct any, reviewers []string,
	criteria map[string]bool, metricNames []string) (*PeerReviewRecord, error) {

	record, err := p.AssignReviews(ctx, author, workProduct, reviewers, criteria, metricNames)
	if err != nil {
		return nil, err
	}

	for {
		if err := p.CollectReviews(ctx, record); err != nil {
			return record, err
		}
		p.AggregateFeedback(record)
		status := p.Finalize(record, true)
		if err := p.persist(ctx, record); err != nil {
			return record, err
		}
		if status == ReviewApproved {
			return record, nil
		}
		if record.RevisionCycle >= p.maxRevisionCycles {
			return record, nil
		}
		record, err = p.SubmitRevision(ctx, record, workProduct)
		if err != nil {
			return record, err
		}
	}
}

package leads

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type ReviewInput struct {
	AssignmentID string `json:"assignment_id" validate:"required"`
	ContractorID string `json:"contractor_id" validate:"required"`
	Rating       int    `json:"rating" validate:"min=1,max=5"`
	Comment      string `json:"comment" validate:"max=2000"`
}

type ReviewResult struct {
	Review      Review          `json:"review"`
	Rating      decimal.Decimal `json:"rating"`
	ReviewCount int             `json:"review_count"`
}

// RecordReview stores a review and recomputes the contractor's rating in
// the same transaction. A review is verified when the assignment belongs to
// the contractor and the job is completed.
func (e *Engine) RecordReview(ctx context.Context, in ReviewInput) (ReviewResult, error) {
	in.Comment = strings.TrimSpace(in.Comment)
	if err := e.checkStruct(in); err != nil {
		return ReviewResult{}, err
	}

	var res ReviewResult
	err := e.store.WithTx(ctx, func(tx Store) error {
		a, err := tx.GetAssignment(ctx, in.AssignmentID)
		if err != nil {
			return transient("get assignment", err)
		}
		if a == nil {
			return notFound("assignment", in.AssignmentID)
		}
		if a.ContractorID != in.ContractorID {
			return fmt.Errorf("assignment %s belongs to another contractor: %w", a.ID, ErrForbidden)
		}

		r := Review{
			ID:           e.newID(),
			ContractorID: in.ContractorID,
			AssignmentID: a.ID,
			Rating:       in.Rating,
			Verified:     a.Status == StatusCompleted,
			Comment:      in.Comment,
			CreatedAt:    e.now(),
		}
		if err := tx.CreateReview(ctx, r); err != nil {
			return err
		}

		reviews, err := tx.ListReviewsByContractor(ctx, in.ContractorID)
		if err != nil {
			return transient("list reviews", err)
		}
		rating, count := AggregateRating(reviews)
		if err := tx.UpdateRating(ctx, in.ContractorID, rating, count); err != nil {
			return transient("update rating", err)
		}
		res = ReviewResult{Review: r, Rating: rating, ReviewCount: count}
		return nil
	})
	if err != nil {
		return ReviewResult{}, err
	}

	e.log.Info().
		Str("contractor_id", in.ContractorID).
		Str("rating", res.Rating.StringFixed(2)).
		Int("review_count", res.ReviewCount).
		Bool("verified", res.Review.Verified).
		Msg("review recorded")
	return res, nil
}

// AggregateRating is the mean of verified ratings rounded to two places and
// the number of verified reviews. Unverified reviews do not count.
func AggregateRating(reviews []Review) (decimal.Decimal, int) {
	sum, n := int64(0), 0
	for _, r := range reviews {
		if !r.Verified {
			continue
		}
		sum += int64(r.Rating)
		n++
	}
	if n == 0 {
		return decimal.Zero, 0
	}
	return decimal.NewFromInt(sum).Div(decimal.NewFromInt(int64(n))).Round(2), n
}

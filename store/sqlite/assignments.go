package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leadflow/lead-engine/leads"
)

// =============================================================================
// ASSIGNMENTS
// =============================================================================

const assignmentColumns = `id, lead_id, contractor_id, status, created_at, responded_at,
	quote_amount, quote_notes, project_completed_at, reminder_sent_at,
	followup_sent_at, review_requested_at`

// CreateAssignment returns leads.ErrDuplicateAssignment when the (lead,
// contractor) pair already exists.
func (s *Store) CreateAssignment(ctx context.Context, a leads.Assignment) error {
	var amount sql.NullString
	if a.QuoteAmount != nil {
		amount = sql.NullString{String: a.QuoteAmount.String(), Valid: true}
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO assignments (`+assignmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.LeadID, a.ContractorID, string(a.Status), formatTime(a.CreatedAt),
		nullTime(a.RespondedAt), amount, a.QuoteNotes, nullTime(a.ProjectCompletedAt),
		nullTime(a.ReminderSentAt), nullTime(a.FollowUpSentAt), nullTime(a.ReviewRequestedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return leads.ErrDuplicateAssignment
		}
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

func scanAssignment(row rowScanner) (leads.Assignment, error) {
	var (
		a                                         leads.Assignment
		status, createdAt                         string
		respondedAt, amount, completedAt          sql.NullString
		reminderAt, followUpAt, reviewRequestedAt sql.NullString
	)
	err := row.Scan(&a.ID, &a.LeadID, &a.ContractorID, &status, &createdAt, &respondedAt,
		&amount, &a.QuoteNotes, &completedAt, &reminderAt, &followUpAt, &reviewRequestedAt)
	if err != nil {
		return leads.Assignment{}, err
	}
	a.Status = leads.AssignmentStatus(status)
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return leads.Assignment{}, fmt.Errorf("assignment %s: %w", a.ID, err)
	}
	if amount.Valid {
		d, err := decimal.NewFromString(amount.String)
		if err != nil {
			return leads.Assignment{}, fmt.Errorf("assignment %s quote amount: %w", a.ID, err)
		}
		a.QuoteAmount = &d
	}
	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{respondedAt, &a.RespondedAt},
		{completedAt, &a.ProjectCompletedAt},
		{reminderAt, &a.ReminderSentAt},
		{followUpAt, &a.FollowUpSentAt},
		{reviewRequestedAt, &a.ReviewRequestedAt},
	} {
		t, err := parseNullTime(f.src)
		if err != nil {
			return leads.Assignment{}, fmt.Errorf("assignment %s: %w", a.ID, err)
		}
		*f.dst = t
	}
	return a, nil
}

func (s *Store) queryAssignments(ctx context.Context, query string, args ...any) ([]leads.Assignment, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leads.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) getAssignment(ctx context.Context, where string, args ...any) (*leads.Assignment, error) {
	a, err := scanAssignment(s.q.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetAssignment(ctx context.Context, id string) (*leads.Assignment, error) {
	return s.getAssignment(ctx, `id = ?`, id)
}

func (s *Store) FindAssignment(ctx context.Context, leadID, contractorID string) (*leads.Assignment, error) {
	return s.getAssignment(ctx, `lead_id = ? AND contractor_id = ?`, leadID, contractorID)
}

func (s *Store) ListAssignmentsByLead(ctx context.Context, leadID string) ([]leads.Assignment, error) {
	return s.queryAssignments(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE lead_id = ? ORDER BY created_at, id`, leadID)
}

func (s *Store) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, page leads.Page) ([]leads.Assignment, error) {
	after, args := keyset("created_at", page)
	return s.queryAssignments(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE status = ? AND created_at < ?`+after+`
		ORDER BY created_at, id LIMIT ?`,
		withPage([]any{string(leads.StatusPending), formatTime(cutoff)}, args, page)...)
}

func (s *Store) ListReminderDue(ctx context.Context, from, to time.Time, page leads.Page) ([]leads.Assignment, error) {
	after, args := keyset("created_at", page)
	return s.queryAssignments(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE status = ? AND created_at >= ? AND created_at < ? AND reminder_sent_at IS NULL`+after+`
		ORDER BY created_at, id LIMIT ?`,
		withPage([]any{string(leads.StatusPending), formatTime(from), formatTime(to)}, args, page)...)
}

func (s *Store) ListFollowUpDue(ctx context.Context, cutoff time.Time, page leads.Page) ([]leads.Assignment, error) {
	after, args := keyset("responded_at", page)
	return s.queryAssignments(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE status = ? AND responded_at < ? AND project_completed_at IS NULL
			AND followup_sent_at IS NULL`+after+`
		ORDER BY responded_at, id LIMIT ?`,
		withPage([]any{string(leads.StatusAccepted), formatTime(cutoff)}, args, page)...)
}

// keyset returns the "after the cursor" condition for a (col, id) ordering.
func keyset(col string, page leads.Page) (string, []any) {
	if page.AfterID == "" {
		return "", nil
	}
	at := formatTime(page.AfterAt)
	return ` AND (` + col + ` > ? OR (` + col + ` = ? AND id > ?))`, []any{at, at, page.AfterID}
}

func withPage(args, after []any, page leads.Page) []any {
	return append(append(args, after...), limitOrAll(page.Limit))
}

func (s *Store) AssignmentStats(ctx context.Context) (leads.AssignmentStats, error) {
	stats := leads.AssignmentStats{ByStatus: map[leads.AssignmentStatus]int{}}

	rows, err := s.q.QueryContext(ctx, `SELECT status, COUNT(*) FROM assignments GROUP BY status`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return stats, err
		}
		stats.ByStatus[leads.AssignmentStatus(status)] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	err = s.q.QueryRowContext(ctx, `
		SELECT COUNT(reminder_sent_at), COUNT(followup_sent_at), COUNT(review_requested_at)
		FROM assignments`,
	).Scan(&stats.RemindersSent, &stats.FollowUpsSent, &stats.ReviewRequests)
	return stats, err
}

// =============================================================================
// CONDITIONAL TRANSITIONS
// =============================================================================

func (s *Store) ExpireAssignment(ctx context.Context, id string, createdBefore time.Time) (bool, error) {
	return changed(s.q.ExecContext(ctx, `
		UPDATE assignments SET status = ?
		WHERE id = ? AND status = ? AND created_at < ?`,
		string(leads.StatusExpired), id, string(leads.StatusPending), formatTime(createdBefore),
	))
}

func (s *Store) AcceptAssignment(ctx context.Context, id, contractorID string, q leads.Quote, at time.Time) (bool, error) {
	return changed(s.q.ExecContext(ctx, `
		UPDATE assignments SET status = ?, quote_amount = ?, quote_notes = ?, responded_at = ?
		WHERE id = ? AND contractor_id = ? AND status = ?`,
		string(leads.StatusAccepted), q.Amount.String(), q.Notes, formatTime(at),
		id, contractorID, string(leads.StatusPending),
	))
}

func (s *Store) CompleteAssignment(ctx context.Context, id, contractorID string, at time.Time) (bool, error) {
	return changed(s.q.ExecContext(ctx, `
		UPDATE assignments SET status = ?, project_completed_at = ?
		WHERE id = ? AND contractor_id = ? AND status = ?`,
		string(leads.StatusCompleted), formatTime(at), id, contractorID, string(leads.StatusAccepted),
	))
}

func (s *Store) ReopenAssignment(ctx context.Context, id, contractorID string) (bool, error) {
	return changed(s.q.ExecContext(ctx, `
		UPDATE assignments SET status = ?, project_completed_at = NULL
		WHERE id = ? AND contractor_id = ? AND status = ?`,
		string(leads.StatusAccepted), id, contractorID, string(leads.StatusCompleted),
	))
}

func (s *Store) ClaimReviewRequest(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.claim(ctx, "review_requested_at", id, leads.StatusCompleted, at)
}

func (s *Store) ClaimReminder(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.claim(ctx, "reminder_sent_at", id, leads.StatusPending, at)
}

func (s *Store) ClaimFollowUp(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.claim(ctx, "followup_sent_at", id, leads.StatusAccepted, at)
}

// claim sets a nudge timestamp once, while the assignment is in status.
// column is one of the fixed names above, never user input.
func (s *Store) claim(ctx context.Context, column, id string, status leads.AssignmentStatus, at time.Time) (bool, error) {
	return changed(s.q.ExecContext(ctx, `
		UPDATE assignments SET `+column+` = ?
		WHERE id = ? AND status = ? AND `+column+` IS NULL`,
		formatTime(at), id, string(status),
	))
}

// =============================================================================
// REVIEWS
// =============================================================================

func (s *Store) CreateReview(ctx context.Context, r leads.Review) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO reviews (id, contractor_id, assignment_id, rating, verified, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ContractorID, r.AssignmentID, r.Rating, r.Verified, r.Comment, formatTime(r.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return leads.ErrDuplicateReview
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

func (s *Store) ListReviewsByContractor(ctx context.Context, contractorID string) ([]leads.Review, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, contractor_id, assignment_id, rating, verified, comment, created_at
		FROM reviews WHERE contractor_id = ? ORDER BY created_at, id`, contractorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leads.Review
	for rows.Next() {
		var (
			r         leads.Review
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.ContractorID, &r.AssignmentID, &r.Rating, &r.Verified, &r.Comment, &createdAt); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("review %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

package models

// BlogStatus is the lifecycle state of a Blog.
type BlogStatus string

const (
	BlogDraftWriter    BlogStatus = "draft_writer"
	BlogDraftCreated   BlogStatus = "draft_created"
	BlogReview         BlogStatus = "review"
	BlogApprovedSchool BlogStatus = "approved_school"
	BlogRejected       BlogStatus = "rejected"
	BlogPublishedWP    BlogStatus = "published_wp"
)

// SubmissionStatus is the coarser projection of the blog lifecycle kept on a Submission.
type SubmissionStatus string

const (
	SubmissionSubmitted    SubmissionStatus = "submitted_school"
	SubmissionDraftCreated SubmissionStatus = "draft_created"
	SubmissionReview       SubmissionStatus = "review"
	SubmissionPublishedWP  SubmissionStatus = "published_wp"
)

var blogTransitions = map[BlogStatus][]BlogStatus{
	BlogDraftWriter:    {BlogDraftCreated},
	BlogDraftCreated:   {BlogReview},
	BlogReview:         {BlogApprovedSchool, BlogRejected, BlogPublishedWP},
	BlogApprovedSchool: {BlogPublishedWP},
}

var submissionOrder = map[SubmissionStatus]int{
	SubmissionSubmitted:    0,
	SubmissionDraftCreated: 1,
	SubmissionReview:       2,
	SubmissionPublishedWP:  3,
}

// Valid reports whether s is a known blog status.
func (s BlogStatus) Valid() bool {
	switch s {
	case BlogDraftWriter, BlogDraftCreated, BlogReview, BlogApprovedSchool, BlogRejected, BlogPublishedWP:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s BlogStatus) Terminal() bool {
	return s == BlogPublishedWP || s == BlogRejected
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s BlogStatus) CanTransitionTo(next BlogStatus) bool {
	for _, allowed := range blogTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Publishable reports whether a blog in status s may be published.
func (s BlogStatus) Publishable() bool {
	return s.CanTransitionTo(BlogPublishedWP)
}

// Valid reports whether s is a known submission status.
func (s SubmissionStatus) Valid() bool {
	_, ok := submissionOrder[s]
	return ok
}

// Advances reports whether next is strictly later in the submission projection.
// Administrative correction bypasses this check.
func (s SubmissionStatus) Advances(next SubmissionStatus) bool {
	cur, ok := submissionOrder[s]
	if !ok {
		return false
	}
	n, ok := submissionOrder[next]
	return ok && n > cur
}

// SubmissionProjection maps a blog status onto the submission lifecycle.
// The second result is false for states that leave the submission untouched.
func SubmissionProjection(s BlogStatus) (SubmissionStatus, bool) {
	switch s {
	case BlogDraftCreated:
		return SubmissionDraftCreated, true
	case BlogReview:
		return SubmissionReview, true
	case BlogPublishedWP:
		return SubmissionPublishedWP, true
	}
	return "", false
}

package service

import (
	"context"
	"log/slog"
	"strings"

	"schooldesk/internal/models"
	"schooldesk/internal/notifications"
	"schooldesk/internal/observability"
	"schooldesk/internal/repository"
	"schooldesk/internal/validation"
)

type SubmissionService struct {
	submissions repository.SubmissionRepository
	schools     repository.SchoolRepository
	users       repository.UserRepository
	notifier    *notifications.Notifier
}

// CreateSubmissionInput is a school's story idea. SchoolID is only read for admins;
// school users always submit for their own school.
type CreateSubmissionInput struct {
	SchoolID    uint     `json:"school_id"`
	Title       string   `json:"title" validate:"required,max=300"`
	Description string   `json:"description" validate:"max=20000"`
	Category    string   `json:"category" validate:"required,category"`
	Attachments []string `json:"attachments" validate:"max=20,dive,required,max=500"`
}

type ListSubmissionsInput struct {
	SchoolID   uint
	Status     models.SubmissionStatus
	AssigneeID uint
	Limit      int
	Offset     int
}

func NewSubmissionService(
	submissions repository.SubmissionRepository,
	schools repository.SchoolRepository,
	users repository.UserRepository,
	notifier *notifications.Notifier,
) *SubmissionService {
	return &SubmissionService{
		submissions: submissions,
		schools:     schools,
		users:       users,
		notifier:    notifier,
	}
}

func (s *SubmissionService) CreateSubmission(ctx context.Context, actor *models.User, in CreateSubmissionInput) (*models.Submission, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	var schoolID uint
	switch actor.Role {
	case models.RoleSchool:
		if actor.SchoolID == nil {
			return nil, models.NewForbiddenError("school user is not attached to a school")
		}
		if in.SchoolID != 0 && in.SchoolID != *actor.SchoolID {
			return nil, models.NewForbiddenError("cannot submit for another school")
		}
		schoolID = *actor.SchoolID
	case models.RoleAdmin:
		if in.SchoolID == 0 {
			return nil, models.NewValidationError("school_id is required")
		}
		schoolID = in.SchoolID
	default:
		return nil, models.NewForbiddenError("only schools and admins can create submissions")
	}

	if _, err := activeSchool(ctx, s.schools, schoolID); err != nil {
		return nil, err
	}

	sub := &models.Submission{
		SchoolID:    schoolID,
		Title:       in.Title,
		Description: strings.TrimSpace(in.Description),
		Category:    models.Category(in.Category),
		Attachments: in.Attachments,
		Status:      models.SubmissionSubmitted,
		CreatedBy:   actor.ID,
	}
	if sub.Attachments == nil {
		sub.Attachments = []string{}
	}
	if err := s.submissions.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.publish(ctx, sub, notifications.EventSubmissionCreated)
	return sub, nil
}

func (s *SubmissionService) ListSubmissions(ctx context.Context, actor *models.User, in ListSubmissionsInput) ([]models.Submission, int64, error) {
	if err := requireActor(actor); err != nil {
		return nil, 0, err
	}
	if in.Status != "" && !in.Status.Valid() {
		return nil, 0, models.NewValidationError("unknown submission status")
	}
	filter := repository.SubmissionFilter{SchoolID: in.SchoolID, Status: in.Status, AssigneeID: in.AssigneeID}
	if !actor.IsStaff() {
		if actor.SchoolID == nil {
			return nil, 0, models.NewForbiddenError("school user is not attached to a school")
		}
		filter.SchoolID = *actor.SchoolID
	}
	return s.submissions.List(ctx, filter, in.Limit, in.Offset)
}

func (s *SubmissionService) GetSubmission(ctx context.Context, actor *models.User, id uint) (*models.Submission, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	sub, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireSchoolAccess(actor, sub.SchoolID); err != nil {
		return nil, err
	}
	return sub, nil
}

// AssignSubmission sets the writer responsible for drafting.
func (s *SubmissionService) AssignSubmission(ctx context.Context, actor *models.User, id, writerID uint) (*models.Submission, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	writer, err := s.users.GetByID(ctx, writerID)
	if err != nil {
		return nil, err
	}
	if !writer.IsStaff() {
		return nil, models.NewValidationError("assignee must be a writer or admin")
	}
	if err := s.submissions.Assign(ctx, id, writerID); err != nil {
		return nil, err
	}
	return s.submissions.GetByID(ctx, id)
}

// CorrectSubmissionStatus is the administrative escape hatch; it may move a
// submission backwards.
func (s *SubmissionService) CorrectSubmissionStatus(ctx context.Context, actor *models.User, id uint, status models.SubmissionStatus) (*models.Submission, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, models.NewValidationError("unknown submission status")
	}
	sub, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.submissions.SetStatus(ctx, id, status); err != nil {
		return nil, err
	}
	observability.GlobalLogger.InfoContext(ctx, "submission status corrected",
		slog.Uint64("submission_id", uint64(id)),
		slog.String("from", string(sub.Status)),
		slog.String("to", string(status)),
		slog.Uint64("admin_id", uint64(actor.ID)),
	)
	sub.Status = status
	s.publish(ctx, sub, notifications.EventBlogStatusChanged)
	return sub, nil
}

func (s *SubmissionService) publish(ctx context.Context, sub *models.Submission, eventType string) {
	err := s.notifier.PublishSchool(ctx, sub.SchoolID, notifications.Event{
		Type:         eventType,
		SubmissionID: sub.ID,
		Status:       string(sub.Status),
	})
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to publish submission event", slog.String("error", err.Error()))
	}
}

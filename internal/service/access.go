// Package service implements the pipeline's use cases on top of the repositories,
// the ledger and the external collaborators. Every operation takes the acting
// user, already loaded from the database.
package service

import (
	"context"

	"schooldesk/internal/models"
	"schooldesk/internal/repository"
)

// Pagination defaults shared by list operations.
const (
	DefaultPageSize = 20
)

func requireActor(actor *models.User) error {
	if actor == nil || actor.ID == 0 {
		return models.NewUnauthorizedError("authentication required")
	}
	return nil
}

func requireAdmin(actor *models.User) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !actor.IsAdmin() {
		return models.NewForbiddenError("admin access required")
	}
	return nil
}

func requireStaff(actor *models.User) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !actor.IsStaff() {
		return models.NewForbiddenError("writer or admin access required")
	}
	return nil
}

// requireSchoolAccess allows staff and users of schoolID.
func requireSchoolAccess(actor *models.User, schoolID uint) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if actor.IsStaff() || actor.BelongsTo(schoolID) {
		return nil
	}
	return models.NewForbiddenError("you do not have access to this school")
}

// activeSchool loads a school and rejects inactive ones.
func activeSchool(ctx context.Context, schools repository.SchoolRepository, id uint) (*models.School, error) {
	school, err := schools.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !school.IsActive {
		return nil, models.NewForbiddenError("school is inactive")
	}
	return school, nil
}

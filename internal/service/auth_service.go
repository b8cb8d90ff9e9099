package service

import (
	"context"
	"strings"
	"time"

	"schooldesk/internal/middleware"
	"schooldesk/internal/models"
	"schooldesk/internal/repository"
	"schooldesk/internal/validation"

	"golang.org/x/crypto/bcrypt"
)

type AuthService struct {
	users     repository.UserRepository
	schools   repository.SchoolRepository
	jwtSecret string
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResult struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type CreateUserInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Name     string `json:"name" validate:"required,max=120"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required,role"`
	SchoolID *uint  `json:"school_id"`
}

func NewAuthService(users repository.UserRepository, schools repository.SchoolRepository, jwtSecret string) *AuthService {
	return &AuthService{users: users, schools: schools, jwtSecret: jwtSecret}
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, models.NewUnauthorizedError("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(in.Password)); err != nil {
		return nil, models.NewUnauthorizedError("invalid credentials")
	}
	token, err := middleware.IssueToken(s.jwtSecret, user, time.Now())
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return &LoginResult{Token: token, User: user}, nil
}

// CurrentUser loads the actor behind a verified token.
func (s *AuthService) CurrentUser(ctx context.Context, userID uint) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if models.ErrorCode(err) == models.CodeNotFound {
			return nil, models.NewUnauthorizedError("user no longer exists")
		}
		return nil, err
	}
	return user, nil
}

// CreateUser registers a user. actor may be nil only for bootstrap tooling.
func (s *AuthService) CreateUser(ctx context.Context, actor *models.User, in CreateUserInput) (*models.User, error) {
	if actor != nil {
		if err := requireAdmin(actor); err != nil {
			return nil, err
		}
	}
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	in.Role = strings.ToLower(strings.TrimSpace(in.Role))
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if err := validation.ValidateEmail(in.Email); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	role := models.Role(in.Role)
	user := &models.User{Email: in.Email, Name: in.Name, Role: role}
	switch role {
	case models.RoleSchool:
		if in.SchoolID == nil || *in.SchoolID == 0 {
			return nil, models.NewValidationError("school users need a school_id")
		}
		if _, err := s.schools.GetByID(ctx, *in.SchoolID); err != nil {
			return nil, err
		}
		sid := *in.SchoolID
		user.SchoolID = &sid
	default:
		if in.SchoolID != nil && *in.SchoolID != 0 {
			return nil, models.NewValidationError("only school users can be attached to a school")
		}
	}

	existing, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, models.NewValidationError("email is already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	user.Password = string(hash)
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AuthService) ListUsers(ctx context.Context, actor *models.User, role string, limit, offset int) ([]models.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	r := models.Role(strings.ToLower(role))
	if role != "" && !r.Valid() {
		return nil, models.NewValidationError("unknown role")
	}
	return s.users.List(ctx, r, limit, offset)
}

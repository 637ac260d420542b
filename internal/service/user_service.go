package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/openscholar/journal-api/internal/models"
	appErrors "github.com/openscholar/journal-api/pkg/errors"
)

type userAdminRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	UpdateRole(ctx context.Context, id string, role models.UserRole) error
}

// UserService covers the admin-facing account operations.
type UserService struct {
	users  userAdminRepository
	audit  auditStore
	logger *zap.Logger
}

// NewUserService constructs a UserService instance.
func NewUserService(users userAdminRepository, audit auditStore, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{users: users, audit: audit, logger: logger}
}

// List returns accounts matching the filter together with pagination info.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.UserInfo, *models.Pagination, error) {
	users, total, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}

	infos := make([]models.UserInfo, 0, len(users))
	for i := range users {
		infos = append(infos, users[i].PublicView())
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	return infos, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns the public view of a single account.
func (s *UserService) Get(ctx context.Context, id string) (*models.UserInfo, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	info := user.PublicView()
	return &info, nil
}

// UpdateRole changes the role assigned to an account. Admins cannot demote
// themselves, which keeps at least the acting admin in place.
func (s *UserService) UpdateRole(ctx context.Context, actor models.Principal, targetID string, role models.UserRole) error {
	switch role {
	case models.RoleAdmin, models.RoleAuthor, models.RoleStudent, models.RoleInvestigator:
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}
	if actor.SubjectID == targetID {
		return appErrors.Clone(appErrors.ErrForbidden, "cannot change your own role")
	}

	user, err := s.users.FindByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if user.Role == role {
		return nil
	}

	if err := s.users.UpdateRole(ctx, targetID, role); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update role")
	}

	if s.audit != nil {
		details, _ := json.Marshal(map[string]string{"from": string(user.Role), "to": string(role)})
		entry := &models.AuditLog{
			UserID:     &actor.SubjectID,
			Action:     models.AuditActionUserUpdate,
			Resource:   "user",
			ResourceID: &targetID,
			Details:    details,
		}
		if err := s.audit.Create(ctx, entry); err != nil {
			s.logger.Warn("failed to record role change", zap.Error(err))
		}
	}
	return nil
}

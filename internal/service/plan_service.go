package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/digkill/PhotoForge/internal/models"
	"github.com/digkill/PhotoForge/internal/repository"
)

type PlanService struct {
	repo *repository.PlanRepository
}

type CreatePlanInput struct {
	VariantID   string
	Title       string
	Description string
	Credits     int
	IsActive    *bool
}

type UpdatePlanInput struct {
	VariantID   *string
	Title       *string
	Description *string
	Credits     *int
	IsActive    *bool
}

func NewPlanService(repo *repository.PlanRepository) *PlanService {
	return &PlanService{repo: repo}
}

func (s *PlanService) List(ctx context.Context) ([]models.Plan, error) {
	return s.repo.List(ctx)
}

func (s *PlanService) Create(ctx context.Context, input CreatePlanInput) (*models.Plan, error) {
	input.VariantID = strings.TrimSpace(input.VariantID)
	if input.VariantID == "" {
		return nil, fmt.Errorf("%w: variant_id is required", ErrInvalidPayload)
	}
	if input.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidPayload)
	}
	if input.Credits <= 0 {
		return nil, fmt.Errorf("%w: credits must be positive", ErrInvalidPayload)
	}
	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}
	plan := models.Plan{
		VariantID:   input.VariantID,
		Title:       input.Title,
		Description: input.Description,
		Credits:     input.Credits,
		IsActive:    isActive,
	}
	return s.repo.Create(ctx, &plan)
}

func (s *PlanService) Update(ctx context.Context, id int64, input UpdatePlanInput) (*models.Plan, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("plan %d: %w", id, ErrNotFound)
	}
	if input.VariantID != nil && strings.TrimSpace(*input.VariantID) != "" {
		existing.VariantID = strings.TrimSpace(*input.VariantID)
	}
	if input.Title != nil {
		existing.Title = *input.Title
	}
	if input.Description != nil {
		existing.Description = *input.Description
	}
	if input.Credits != nil && *input.Credits > 0 {
		existing.Credits = *input.Credits
	}
	if input.IsActive != nil {
		existing.IsActive = *input.IsActive
	}
	return s.repo.Update(ctx, existing)
}

func (s *PlanService) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func (s *PlanService) GetByID(ctx context.Context, id int64) (*models.Plan, error) {
	return s.repo.GetByID(ctx, id)
}

// CreditsForVariant returns the credits granted by the active plan sold as variantID, or 0.
func (s *PlanService) CreditsForVariant(ctx context.Context, variantID string) (int, error) {
	if variantID == "" {
		return 0, nil
	}
	plan, err := s.repo.GetActiveByVariant(ctx, variantID)
	if err != nil {
		return 0, err
	}
	if plan == nil {
		return 0, nil
	}
	return plan.Credits, nil
}

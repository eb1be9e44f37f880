package service

import (
	"context"
	"errors"
	"time"

	"assessment_backend/internal/model"
	"assessment_backend/internal/repository"
	"assessment_backend/internal/util"

	"gorm.io/gorm"
)

type AttemptService struct {
	AssessmentRepo *repository.AssessmentRepository
	AttemptRepo    *repository.AttemptRepository
}

func NewAttemptService(assessmentRepo *repository.AssessmentRepository, attemptRepo *repository.AttemptRepository) *AttemptService {
	return &AttemptService{AssessmentRepo: assessmentRepo, AttemptRepo: attemptRepo}
}

// StartAttempt 同一学生对同一试卷已有进行中的作答时直接返回该作答
func (s *AttemptService) StartAttempt(ctx context.Context, studentID, assessmentID uint) (*model.Attempt, error) {
	a, err := s.AssessmentRepo.FindByID(assessmentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrAssessmentNotFound
	}
	if err != nil {
		return nil, err
	}
	if a.Status != model.AssessmentPublished {
		return nil, util.ErrAssessmentNotPublished
	}

	existing, err := s.AttemptRepo.FindInProgress(studentID, assessmentID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	attempt := &model.Attempt{
		AssessmentID: assessmentID,
		StudentID:    studentID,
		Status:       model.AttemptInProgress,
		StartedAt:    time.Now(),
	}
	if err := s.AttemptRepo.Create(attempt); err != nil {
		return nil, err
	}
	return attempt, nil
}

// GetAttemptResult 学生查看自己的作答，试卷所有者和管理员可查看任意作答
func (s *AttemptService) GetAttemptResult(ctx context.Context, actor Actor, attemptID uint) (*AttemptResult, error) {
	attempt, err := s.AttemptRepo.FindByID(attemptID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}

	if attempt.StudentID != actor.ID {
		a, err := s.AssessmentRepo.FindByID(attempt.AssessmentID)
		if err != nil {
			return nil, err
		}
		if err := authorize(actor, a, "view this attempt"); err != nil {
			return nil, err
		}
	}

	answers, err := s.AttemptRepo.ListAnswers(attemptID)
	if err != nil {
		return nil, err
	}
	return newAttemptResult(attempt, answers), nil
}

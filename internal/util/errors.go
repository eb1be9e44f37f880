package util

import "errors"

var (
	ErrUserNotFound            = errors.New("用户不存在")
	ErrEmailRegistered         = errors.New("该邮箱已被注册")
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrPermissionDenied        = errors.New("permission denied")
	ErrAssessmentNotFound      = errors.New("assessment not found")
	ErrAssessmentNotPublished  = errors.New("assessment not published")
	ErrAssessmentLocked        = errors.New("assessment already has attempts, questions are immutable")
	ErrQuestionNotFound        = errors.New("question not found")
	ErrAttemptNotFound         = errors.New("attempt not found")
	ErrAttemptAlreadySubmitted = errors.New("attempt already submitted")
	ErrAttemptNotCompleted     = errors.New("attempt not completed")
	ErrAttemptBusy             = errors.New("attempt is being graded")
	ErrAnswerNotFound          = errors.New("answer not found")
	ErrNotPendingReview        = errors.New("answer is not pending manual review")
	ErrDocumentNotFound        = errors.New("document not found")
	ErrUnsupportedDocument     = errors.New("unsupported document type")
	ErrNoProviders             = errors.New("no AI provider configured")
)

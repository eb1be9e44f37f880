package grading

import (
	"errors"
	"fmt"
)

// ValidationError 请求参数不合法，在评分前拒绝
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// RubricParseError correct_answer / 评分细则不是合法的结构化数据
type RubricParseError struct {
	QuestionID uint
	Err        error
}

func (e *RubricParseError) Error() string {
	return fmt.Sprintf("question %d: invalid correct answer: %v", e.QuestionID, e.Err)
}

func (e *RubricParseError) Unwrap() error { return e.Err }

// EvaluationTimeout AI 等价判断超时或重试后仍失败
type EvaluationTimeout struct {
	QuestionID uint
	Err        error
}

func (e *EvaluationTimeout) Error() string {
	return fmt.Sprintf("question %d: equivalence check failed: %v", e.QuestionID, e.Err)
}

func (e *EvaluationTimeout) Unwrap() error { return e.Err }

// AuthorizationError 非试卷所有者（且非管理员）尝试修改评分
type AuthorizationError struct {
	UserID uint
	Action string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %d is not allowed to %s", e.UserID, e.Action)
}

// PersistenceError 保存评分结果失败，整次评分作废
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsAuthorization(err error) bool {
	var a *AuthorizationError
	return errors.As(err, &a)
}

func IsPersistence(err error) bool {
	var p *PersistenceError
	return errors.As(err, &p)
}

package util

import (
	"sync"

	"assessment_backend/internal/grading"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// RegisterValidators 注册自定义 binding 规则，需在路由注册前调用
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("question_type", func(fl validator.FieldLevel) bool {
			return grading.QuestionType(fl.Field().String()).Valid()
		})
	})
}

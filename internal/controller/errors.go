package controller

import (
	"errors"
	"net/http"
	"strconv"

	"assessment_backend/internal/grading"
	"assessment_backend/internal/service"
	"assessment_backend/internal/util"
	"assessment_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	notFoundErrors = []error{
		util.ErrUserNotFound,
		util.ErrAssessmentNotFound,
		util.ErrQuestionNotFound,
		util.ErrAttemptNotFound,
		util.ErrAnswerNotFound,
		util.ErrDocumentNotFound,
	}
	conflictErrors = []error{
		util.ErrEmailRegistered,
		util.ErrAssessmentNotPublished,
		util.ErrAssessmentLocked,
		util.ErrAttemptAlreadySubmitted,
		util.ErrAttemptNotCompleted,
		util.ErrAttemptBusy,
		util.ErrNotPendingReview,
	}
)

// respondError 把服务层错误映射为 HTTP 状态码
func respondError(ctx *gin.Context, err error) {
	var (
		ve *grading.ValidationError
		ae *grading.AuthorizationError
		pe *grading.PersistenceError
	)
	switch {
	case errors.As(err, &ve):
		util.BadRequest(ctx, ve.Error())
		return
	case errors.As(err, &ae):
		util.Forbidden(ctx)
		return
	case errors.As(err, &pe):
		logger.Log.Error("Grading persistence failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		util.Error(ctx, http.StatusInternalServerError, "grading could not be saved, please retry")
		return
	case errors.Is(err, util.ErrInvalidCredentials):
		util.Error(ctx, http.StatusUnauthorized, err.Error())
		return
	case errors.Is(err, util.ErrUnsupportedDocument):
		util.Error(ctx, http.StatusUnsupportedMediaType, err.Error())
		return
	case errors.Is(err, util.ErrNoProviders):
		util.Error(ctx, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, service.ErrMalformedReply):
		util.Error(ctx, http.StatusBadGateway, "AI provider returned an unusable reply")
		return
	}
	for _, e := range notFoundErrors {
		if errors.Is(err, e) {
			util.Error(ctx, http.StatusNotFound, e.Error())
			return
		}
	}
	for _, e := range conflictErrors {
		if errors.Is(err, e) {
			util.Error(ctx, http.StatusConflict, e.Error())
			return
		}
	}
	util.LogInternalError(ctx, err)
}

// actorFrom 从 JWT claims 中取当前用户
func actorFrom(ctx *gin.Context) (service.Actor, bool) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return service.Actor{}, false
	}
	return service.Actor{ID: claims.UserID, Role: claims.Role}, true
}

func paramID(ctx *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(ctx.Param(name), 10, 32)
	if err != nil || id == 0 {
		util.BadRequest(ctx, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

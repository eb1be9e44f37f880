package controller

import (
	"assessment_backend/internal/service"
	"assessment_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type GradingController struct {
	Service *service.GradingService
}

func NewGradingController(svc *service.GradingService) *GradingController {
	return &GradingController{Service: svc}
}

type SubmitAttemptRequest struct {
	Answers []service.SubmittedAnswer `json:"answers"`
}

// @Summary 提交作答并自动评分
// @Tags 评分
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "作答ID"
// @Param body body SubmitAttemptRequest true "答案列表"
// @Success 200 {object} util.Response{data=service.AttemptResult}
// @Failure 400 {object} util.Response "请求参数错误"
// @Failure 403 {object} util.Response "不是本人的作答"
// @Failure 409 {object} util.Response "作答已提交或正在评分"
// @Failure 500 {object} util.Response "评分结果保存失败，可重试"
// @Router /attempts/{id}/submit [post]
func (c *GradingController) SubmitAttempt(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	var req SubmitAttemptRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	res, err := c.Service.SubmitAttempt(ctx.Request.Context(), actor.ID, id, req.Answers)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// @Summary 待人工评分的答案
// @Tags 评分
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "试卷ID"
// @Success 200 {object} util.Response{data=[]model.Answer}
// @Router /assessments/{id}/manual-grading [get]
func (c *GradingController) ListManualGrading(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}

	answers, err := c.Service.ListManualGrading(ctx.Request.Context(), actor, id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, answers)
}

// @Summary 人工评分
// @Tags 评分
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body service.ReviewRequest true "评分"
// @Success 200 {object} util.Response{data=service.GradeChange}
// @Router /grading/review [post]
func (c *GradingController) ReviewAnswer(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	var req service.ReviewRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	change, err := c.Service.ReviewAnswer(ctx.Request.Context(), actor, req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, change)
}

// @Summary 人工改分
// @Description 必须填写改分原因，只修改这一道题并重新汇总试卷成绩
// @Tags 评分
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body service.OverrideRequest true "改分"
// @Success 200 {object} util.Response{data=service.GradeChange}
// @Failure 400 {object} util.Response "缺少原因或分值越界"
// @Failure 403 {object} util.Response "非试卷所有者"
// @Router /grading/override [post]
func (c *GradingController) Override(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	var req service.OverrideRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	change, err := c.Service.Override(ctx.Request.Context(), actor, req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, change)
}

// @Summary 重新评分
// @Tags 评分
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "作答ID"
// @Success 200 {object} util.Response{data=service.AttemptResult}
// @Router /attempts/{id}/regrade [post]
func (c *GradingController) RegradeAttempt(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}

	res, err := c.Service.RegradeAttempt(ctx.Request.Context(), actor, id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

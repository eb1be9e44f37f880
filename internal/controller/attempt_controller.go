package controller

import (
	"assessment_backend/internal/service"
	"assessment_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AttemptController struct {
	Service *service.AttemptService
}

func NewAttemptController(svc *service.AttemptService) *AttemptController {
	return &AttemptController{Service: svc}
}

// @Summary 开始作答
// @Tags 作答
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "试卷ID"
// @Success 201 {object} util.Response{data=model.Attempt}
// @Failure 409 {object} util.Response "试卷未发布"
// @Router /assessments/{id}/attempts [post]
func (c *AttemptController) Start(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}

	attempt, err := c.Service.StartAttempt(ctx.Request.Context(), actor.ID, id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, attempt)
}

// @Summary 作答结果
// @Tags 作答
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "作答ID"
// @Success 200 {object} util.Response{data=service.AttemptResult}
// @Router /attempts/{id} [get]
func (c *AttemptController) Get(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}

	res, err := c.Service.GetAttemptResult(ctx.Request.Context(), actor, id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

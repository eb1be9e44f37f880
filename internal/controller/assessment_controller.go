package controller

import (
	"strconv"

	"assessment_backend/internal/service"
	"assessment_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AssessmentController struct {
	Service    *service.AssessmentService
	Generation *service.GenerationService
}

func NewAssessmentController(svc *service.AssessmentService, generation *service.GenerationService) *AssessmentController {
	return &AssessmentController{Service: svc, Generation: generation}
}

type AddQuestionsRequest struct {
	Questions []service.QuestionInput `json:"questions" binding:"required,min=1,dive"`
}

// @Summary 创建试卷
// @Tags 试卷
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body service.CreateAssessmentRequest true "试卷信息与出题块"
// @Success 201 {object} util.Response{data=model.Assessment}
// @Router /assessments [post]
func (c *AssessmentController) Create(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	var req service.CreateAssessmentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	a, err := c.Service.Create(ctx.Request.Context(), actor, req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, a)
}

// @Summary 试卷列表
// @Description 学生看到已发布的试卷，教师看到自己创建的试卷
// @Tags 试卷
// @Produce json
// @Security ApiKeyAuth
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /assessments [get]
func (c *AssessmentController) List(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))

	list, total, err := c.Service.List(actor, page, limit)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{List: list, Total: total, Page: page, Limit: limit})
}

// @Summary 试卷详情
// @Tags 试卷
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "试卷ID"
// @Success 200 {object} util.Response{data=model.Assessment}
// @Router /assessments/{id} [get]
func (c *AssessmentController) Get(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}

	a, err := c.Service.Get(actor, id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, a)
}

// @Summary 添加题目
// @Description 标准答案在入库前解析校验，已有作答的试卷不能再添加题目
// @Tags 试卷
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "试卷ID"
// @Param body body AddQuestionsRequest true "题目"
// @Success 201 {object} util.Response{data=[]model.Question}
// @Failure 409 {object} util.Response "试卷已有作答"
// @Router /assessments/{id}/questions [post]
func (c *AssessmentController) AddQuestions(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	var req AddQuestionsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	questions, err := c.Service.AddQuestions(ctx.Request.Context(), actor, id, req.Questions)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, questions)
}

// @Summary 题目列表
// @Tags 试卷
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "试卷ID"
// @Success 200 {object} util.Response{data=[]model.Question}
// @Router /assessments/{id}/questions [get]
func (c *AssessmentController) ListQuestions(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}

	questions, err := c.Service.ListQuestions(actor, id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, questions)
}

// @Summary 发布试卷
// @Tags 试卷
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "试卷ID"
// @Success 200 {object} util.Response{data=model.Assessment}
// @Router /assessments/{id}/publish [post]
func (c *AssessmentController) Publish(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}

	a, err := c.Service.Publish(ctx.Request.Context(), actor, id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, a)
}

// @Summary AI 生成题目
// @Description 按出题块调用 AI 生成题目，可结合已上传文档
// @Tags 试卷
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "试卷ID"
// @Success 201 {object} util.Response{data=[]model.Question}
// @Failure 503 {object} util.Response "未配置 AI provider"
// @Router /assessments/{id}/generate [post]
func (c *AssessmentController) Generate(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}

	questions, err := c.Generation.GenerateQuestions(ctx.Request.Context(), actor, id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, questions)
}

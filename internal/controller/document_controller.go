package controller

import (
	"fmt"
	"io"

	"assessment_backend/internal/service"
	"assessment_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type DocumentController struct {
	Service *service.DocumentService
}

func NewDocumentController(svc *service.DocumentService) *DocumentController {
	return &DocumentController{Service: svc}
}

// @Summary 上传参考文档
// @Description 支持 PDF、DOCX、TXT、Markdown 和图片，上传后提取文本并生成向量
// @Tags 文档
// @Accept multipart/form-data
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "试卷ID"
// @Param file formData file true "文档"
// @Success 201 {object} util.Response{data=model.Document}
// @Failure 415 {object} util.Response "不支持的文件类型"
// @Router /assessments/{id}/documents [post]
func (c *DocumentController) Upload(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}

	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		util.BadRequest(ctx, "file is required")
		return
	}
	if fileHeader.Size > util.MaxDocumentSize {
		util.BadRequest(ctx, fmt.Sprintf("file exceeds %d MB", util.MaxDocumentSize>>20))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, util.MaxDocumentSize+1))
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	doc, err := c.Service.Upload(ctx.Request.Context(), actor, id, fileHeader.Filename, data)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, doc)
}

// @Summary 文档列表
// @Tags 文档
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "试卷ID"
// @Success 200 {object} util.Response{data=[]model.Document}
// @Router /assessments/{id}/documents [get]
func (c *DocumentController) List(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}

	docs, err := c.Service.List(actor, id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, docs)
}

// @Summary 删除文档
// @Tags 文档
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "文档ID"
// @Success 200 {object} util.Response
// @Router /documents/{id} [delete]
func (c *DocumentController) Delete(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}

	if err := c.Service.Delete(ctx.Request.Context(), actor, id); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

package controller

import (
	"strconv"

	"speakedu_backend/internal/service"
	"speakedu_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type ContentController struct {
	ContentService *service.ContentService
}

func NewContentController(contentService *service.ContentService) *ContentController {
	return &ContentController{ContentService: contentService}
}

// CreateDefinition godoc
// @Summary 创建朗读素材
// @Description 在素材库中创建一份共享朗读内容
// @Tags 素材库
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body service.DefinitionInput true "素材内容"
// @Success 201 {object} util.Response{data=model.ContentDefinition} "创建成功"
// @Failure 400 {object} util.Response "请求参数错误"
// @Router /api/teacher/definitions [post]
func (c *ContentController) CreateDefinition(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	var in service.DefinitionInput
	if err := ctx.ShouldBindJSON(&in); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	def, err := c.ContentService.CreateDefinition(user.UserID, in)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	util.Created(ctx, def)
}

// ListDefinitions godoc
// @Summary 素材列表
// @Tags 素材库
// @Produce  json
// @Security ApiKeyAuth
// @Param   page query int false "页码"
// @Param   limit query int false "每页条数"
// @Success 200 {object} util.Response{data=util.PageResponse} "成功"
// @Router /api/teacher/definitions [get]
func (c *ContentController) ListDefinitions(ctx *gin.Context) {
	page, limit := pagination(ctx)
	defs, total, err := c.ContentService.ListDefinitions(page, limit, false)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{List: defs, Total: total, Page: page, Limit: limit})
}

// GetDefinition godoc
// @Summary 素材详情
// @Tags 素材库
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "素材ID"
// @Success 200 {object} util.Response{data=model.ContentDefinition} "成功"
// @Failure 404 {object} util.Response "素材不存在"
// @Router /api/teacher/definitions/{id} [get]
func (c *ContentController) GetDefinition(ctx *gin.Context) {
	id, err := paramUint(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid id")
		return
	}
	def, err := c.ContentService.GetDefinition(id)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	util.Success(ctx, def)
}

// UpdateDefinition godoc
// @Summary 编辑素材
// @Description 只改素材库原件，已派发作业持有的快照不受影响
// @Tags 素材库
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "素材ID"
// @Param   body body service.DefinitionInput true "素材内容"
// @Success 200 {object} util.Response{data=model.ContentDefinition} "成功"
// @Failure 403 {object} util.Response "无权限"
// @Router /api/teacher/definitions/{id} [put]
func (c *ContentController) UpdateDefinition(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	id, err := paramUint(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid id")
		return
	}
	var in service.DefinitionInput
	if err := ctx.ShouldBindJSON(&in); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	def, err := c.ContentService.UpdateDefinition(user.UserID, id, in)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	util.Success(ctx, def)
}

// DeleteDefinition godoc
// @Summary 删除素材
// @Description 已派发快照不受影响，后续派发将整体失败
// @Tags 素材库
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "素材ID"
// @Success 200 {object} util.Response "成功"
// @Failure 403 {object} util.Response "无权限"
// @Router /api/teacher/definitions/{id} [delete]
func (c *ContentController) DeleteDefinition(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	id, err := paramUint(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid id")
		return
	}
	if err := c.ContentService.DeleteDefinition(user.UserID, id); err != nil {
		respondDomainError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

func pagination(ctx *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(ctx.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

func paramUint(ctx *gin.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	return uint(v), err
}

package controller

import (
	"strconv"

	"speakedu_backend/internal/model"
	"speakedu_backend/internal/service"
	"speakedu_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// GradingController 教师端接口：派发、撤销、批阅、定稿
type GradingController struct {
	AssignmentService *service.AssignmentService
	GradingService    *service.GradingService
	ProgressRepo      revisionLister
}

type revisionLister interface {
	ListRevisions(itemProgressID uint) ([]model.ItemScoreRevision, error)
}

func NewGradingController(assignmentService *service.AssignmentService,
	gradingService *service.GradingService, progressRepo revisionLister) *GradingController {
	return &GradingController{
		AssignmentService: assignmentService,
		GradingService:    gradingService,
		ProgressRepo:      progressRepo,
	}
}

// Dispatch godoc
// @Summary 派发作业
// @Description 为每个学生创建作业实例并物化素材快照；素材缺失时整体失败
// @Tags 批阅
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body service.DispatchRequest true "派发请求"
// @Success 201 {object} util.Response{data=object} "创建成功"
// @Failure 404 {object} util.Response "素材或学生不存在"
// @Router /api/teacher/assignments/dispatch [post]
func (c *GradingController) Dispatch(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	var req service.DispatchRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	created, err := c.AssignmentService.Dispatch(user.UserID, req)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	util.Created(ctx, gin.H{"assignments": created})
}

// Unassign godoc
// @Summary 撤销派发
// @Description 未开始的直接删除；进行中的需 confirm=true；已提交过的拒绝撤销
// @Tags 批阅
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "作业ID"
// @Param   confirm query bool false "确认撤销进行中的作业"
// @Success 200 {object} util.Response "成功"
// @Failure 409 {object} util.Response "需要确认或作业受保护"
// @Router /api/teacher/assignments/{id} [delete]
func (c *GradingController) Unassign(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	id, err := paramUint(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid id")
		return
	}
	confirm, _ := strconv.ParseBool(ctx.DefaultQuery("confirm", "false"))

	if err := c.AssignmentService.Unassign(user.UserID, id, confirm); err != nil {
		respondDomainError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// ListAssignments godoc
// @Summary 我派发的作业
// @Tags 批阅
// @Produce  json
// @Security ApiKeyAuth
// @Param   status query string false "按状态过滤"
// @Param   page query int false "页码"
// @Param   limit query int false "每页条数"
// @Success 200 {object} util.Response{data=util.PageResponse} "成功"
// @Router /api/teacher/assignments [get]
func (c *GradingController) ListAssignments(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	page, limit := pagination(ctx)
	status := model.AssignmentStatus(ctx.Query("status"))
	if status != "" && !status.Valid() {
		util.BadRequest(ctx, "invalid status")
		return
	}
	list, total, err := c.AssignmentService.ListForTeacher(user.UserID, status, page, limit)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{List: list, Total: total, Page: page, Limit: limit})
}

// ListPending godoc
// @Summary 待批阅队列
// @Description 已提交/已重交的作业，先交先批
// @Tags 批阅
// @Produce  json
// @Security ApiKeyAuth
// @Param   page query int false "页码"
// @Param   limit query int false "每页条数"
// @Success 200 {object} util.Response{data=util.PageResponse} "成功"
// @Router /api/teacher/assignments/pending [get]
func (c *GradingController) ListPending(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	page, limit := pagination(ctx)
	list, total, err := c.GradingService.ListPending(user.UserID, page, limit)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{List: list, Total: total, Page: page, Limit: limit})
}

// GetSubmission godoc
// @Summary 提交详情
// @Description 批阅视角的作业详情：快照内容、录音、评分、进度
// @Tags 批阅
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "作业ID"
// @Success 200 {object} util.Response{data=service.AssignmentDetail} "成功"
// @Router /api/teacher/assignments/{id} [get]
func (c *GradingController) GetSubmission(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	id, err := paramUint(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid id")
		return
	}
	detail, err := c.AssignmentService.Detail(user.UserID, id, true)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	util.Success(ctx, detail)
}

// ReviewUnit godoc
// @Summary 批阅单元
// @Description 写入通过/不通过结论与评语，单元得分取条目评分均值
// @Tags 批阅
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   progressId path int true "单元进度ID"
// @Param   body body service.ReviewRequest true "批阅结论"
// @Success 200 {object} util.Response{data=model.ContentProgress} "成功"
// @Failure 409 {object} util.Response "作业不在可批阅状态"
// @Router /api/teacher/progress/{progressId}/review [post]
func (c *GradingController) ReviewUnit(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	progressID, err := paramUint(ctx, "progressId")
	if err != nil {
		util.BadRequest(ctx, "invalid progressId")
		return
	}
	var req service.ReviewRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	cp, err := c.GradingService.Review(user.UserID, progressID, req)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	util.Success(ctx, cp)
}

// Finalize godoc
// @Summary 定稿
// @Description 全部单元批阅后定稿：有不通过则退回学生，否则评为已批改
// @Tags 批阅
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "作业ID"
// @Param   body body service.FinalizeRequest true "定稿参数"
// @Success 200 {object} util.Response{data=model.AssignmentInstance} "成功"
// @Failure 400 {object} util.Response "仍有单元未批阅"
// @Router /api/teacher/assignments/{id}/finalize [post]
func (c *GradingController) Finalize(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	id, err := paramUint(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid id")
		return
	}
	var req service.FinalizeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	inst, err := c.GradingService.Finalize(ctx.Request.Context(), user.UserID, id, req)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	util.Success(ctx, inst)
}

// ListRevisions godoc
// @Summary 条目评分修订历史
// @Description 被后来结果取代的历史评分，审计用
// @Tags 批阅
// @Produce  json
// @Security ApiKeyAuth
// @Param   itemId path int true "条目进度ID"
// @Success 200 {object} util.Response{data=object} "成功"
// @Router /api/teacher/items/{itemId}/revisions [get]
func (c *GradingController) ListRevisions(ctx *gin.Context) {
	itemID, err := paramUint(ctx, "itemId")
	if err != nil {
		util.BadRequest(ctx, "invalid itemId")
		return
	}
	revs, err := c.ProgressRepo.ListRevisions(itemID)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"revisions": revs})
}

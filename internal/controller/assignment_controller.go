package controller

import (
	"io"
	"strconv"

	"speakedu_backend/internal/service"
	"speakedu_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// AssignmentController 学生端作业接口：练习、录音、提交
type AssignmentController struct {
	AssignmentService *service.AssignmentService
	RecordingService  *service.RecordingService
	AnalysisService   *service.AnalysisService
}

func NewAssignmentController(assignmentService *service.AssignmentService,
	recordingService *service.RecordingService, analysisService *service.AnalysisService) *AssignmentController {
	return &AssignmentController{
		AssignmentService: assignmentService,
		RecordingService:  recordingService,
		AnalysisService:   analysisService,
	}
}

// ListAssignments godoc
// @Summary 我的作业列表
// @Tags 作业
// @Produce  json
// @Security ApiKeyAuth
// @Param   page query int false "页码"
// @Param   limit query int false "每页条数"
// @Success 200 {object} util.Response{data=util.PageResponse} "成功"
// @Router /api/assignments [get]
func (c *AssignmentController) ListAssignments(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	page, limit := pagination(ctx)
	list, total, err := c.AssignmentService.ListForStudent(user.UserID, page, limit)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{List: list, Total: total, Page: page, Limit: limit})
}

// GetAssignment godoc
// @Summary 作业详情
// @Description 含工作副本内容、单元/条目进度与提交阻塞信号
// @Tags 作业
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "作业ID"
// @Success 200 {object} util.Response{data=service.AssignmentDetail} "成功"
// @Failure 404 {object} util.Response "作业不存在"
// @Router /api/assignments/{id} [get]
func (c *AssignmentController) GetAssignment(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	id, err := paramUint(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid id")
		return
	}
	detail, err := c.AssignmentService.Detail(user.UserID, id, false)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	util.Success(ctx, detail)
}

// UploadRecording godoc
// @Summary 上传条目录音
// @Description 接收一条朗读录音；analyzeNow=true 时同步等待评分结果，否则后台分析。
// @Description 重复上传相同内容且已评分时为幂等 no-op。
// @Tags 作业
// @Accept  multipart/form-data
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "作业ID"
// @Param   unitItemId formData int true "条目ID"
// @Param   file formData file true "音频文件"
// @Param   declaredRawBytes formData int false "客户端声明的原始字节数"
// @Param   analyzeNow formData bool false "是否同步分析"
// @Success 200 {object} util.Response{data=model.ItemProgress} "成功"
// @Failure 400 {object} util.Response "录音不可用"
// @Failure 409 {object} util.Response "状态不允许录音"
// @Router /api/assignments/{id}/recordings [post]
func (c *AssignmentController) UploadRecording(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	id, err := paramUint(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid id")
		return
	}

	unitItemID, err := strconv.ParseUint(ctx.PostForm("unitItemId"), 10, 64)
	if err != nil {
		util.BadRequest(ctx, "invalid unitItemId")
		return
	}
	declared, _ := strconv.ParseInt(ctx.PostForm("declaredRawBytes"), 10, 64)
	analyzeNow, _ := strconv.ParseBool(ctx.PostForm("analyzeNow"))

	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		util.BadRequest(ctx, "missing audio file")
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	defer f.Close()
	payload, err := io.ReadAll(f)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	item, err := c.RecordingService.SubmitRecording(ctx.Request.Context(), user.UserID, service.RecordingUpload{
		AssignmentID:     id,
		UnitItemID:       uint(unitItemID),
		DeclaredRawBytes: declared,
		Payload:          payload,
		ContentType:      fileHeader.Header.Get("Content-Type"),
		AnalyzeNow:       analyzeNow,
	})
	if err != nil {
		// 录音可能已落库但同步分析失败，条目状态里携带失败信息
		respondDomainError(ctx, err)
		return
	}
	util.Success(ctx, item)
}

// GetItemStatus godoc
// @Summary 条目分析状态
// @Description 回看条目时查询：分析中/已评分/失败可重试/已录未分析
// @Tags 作业
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "作业ID"
// @Param   itemId path int true "条目进度ID"
// @Success 200 {object} util.Response{data=service.ItemState} "成功"
// @Router /api/assignments/{id}/items/{itemId}/status [get]
func (c *AssignmentController) GetItemStatus(ctx *gin.Context) {
	id, err := paramUint(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid id")
		return
	}
	itemID, err := paramUint(ctx, "itemId")
	if err != nil {
		util.BadRequest(ctx, "invalid itemId")
		return
	}

	state, err := c.AnalysisService.ForAssignment(id).Revisit(itemID)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	util.Success(ctx, state)
}

// Submit godoc
// @Summary 提交作业
// @Description 先结算全部在途/失败的分析任务，全部就绪才推进状态；
// @Description 有条目无法评分时整体失败并返回阻塞条目列表。
// @Tags 作业
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "作业ID"
// @Success 200 {object} util.Response{data=model.AssignmentInstance} "成功"
// @Failure 409 {object} util.Response "提交被阻塞或状态冲突"
// @Router /api/assignments/{id}/submit [post]
func (c *AssignmentController) Submit(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	id, err := paramUint(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid id")
		return
	}
	inst, err := c.AssignmentService.Submit(ctx.Request.Context(), user.UserID, id)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	util.Success(ctx, inst)
}

// Resubmit godoc
// @Summary 重交被退回的作业
// @Description 只结算失败单元的条目，通过单元保持不变
// @Tags 作业
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "作业ID"
// @Success 200 {object} util.Response{data=model.AssignmentInstance} "成功"
// @Failure 409 {object} util.Response "提交被阻塞或状态冲突"
// @Router /api/assignments/{id}/resubmit [post]
func (c *AssignmentController) Resubmit(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	id, err := paramUint(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid id")
		return
	}
	inst, err := c.AssignmentService.Resubmit(ctx.Request.Context(), user.UserID, id)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	util.Success(ctx, inst)
}

// DiscardSession godoc
// @Summary 放弃当前练习会话
// @Description 在途分析任务不再被等待，已落库的录音与评分保留
// @Tags 作业
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "作业ID"
// @Success 200 {object} util.Response "成功"
// @Router /api/assignments/{id}/discard [post]
func (c *AssignmentController) DiscardSession(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	id, err := paramUint(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid id")
		return
	}
	if err := c.AssignmentService.DiscardSession(user.UserID, id); err != nil {
		respondDomainError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// GetProjection godoc
// @Summary 作业状态投影
// @Description 供看板/提醒等外围系统消费的只读快照，短时缓存
// @Tags 作业
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "作业ID"
// @Success 200 {object} util.Response{data=service.StatusProjection} "成功"
// @Router /api/assignments/{id}/projection [get]
func (c *AssignmentController) GetProjection(ctx *gin.Context) {
	id, err := paramUint(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid id")
		return
	}
	p, err := c.AssignmentService.Projection(ctx.Request.Context(), id)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	util.Success(ctx, p)
}

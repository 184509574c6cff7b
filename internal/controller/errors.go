package controller

import (
	"errors"
	"net/http"

	"speakedu_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// respondDomainError 领域错误到 HTTP 的统一映射
func respondDomainError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrAssignmentNotFound),
		errors.Is(err, util.ErrUnitNotFound),
		errors.Is(err, util.ErrItemNotFound),
		errors.Is(err, util.ErrSourceNotFound),
		errors.Is(err, util.ErrUserNotFound):
		util.NotFound(ctx)
	case errors.Is(err, util.ErrPermissionDenied):
		util.Forbidden(ctx)
	case errors.Is(err, util.ErrRecordingTooSmall),
		errors.Is(err, util.ErrRecordingTooLarge),
		errors.Is(err, util.ErrUnitNotReturned),
		errors.Is(err, util.ErrReviewIncomplete):
		util.BadRequest(ctx, err.Error())
	case errors.Is(err, util.ErrConfirmRequired),
		errors.Is(err, util.ErrWorkProtected),
		errors.Is(err, util.ErrSessionDiscarded),
		util.IsStateConflict(err):
		util.Conflict(ctx, err.Error())
	default:
		if ids, ok := util.BlockedItems(err); ok {
			ctx.JSON(http.StatusConflict, util.Response{
				Code:    http.StatusConflict,
				Message: err.Error(),
				Data:    gin.H{"blockedItems": ids},
			})
			return
		}
		var se *util.ScoringError
		if errors.As(err, &se) {
			util.Error(ctx, http.StatusBadGateway, err.Error())
			return
		}
		util.LogInternalError(ctx, err)
	}
}

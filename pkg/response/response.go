package response

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"

	"WaBroadcast/pkg/errors"
)

// ErrorResponse 统一的错误响应格式
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Details map[string]interface{} `json:"details,omitempty"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
}

// SuccessResponse 统一的成功响应格式
type SuccessResponse struct {
	Data interface{}            `json:"data"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

// StatusFor 根据错误码映射 HTTP 状态码
func StatusFor(err error) int {
	def, ok := errors.As(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch def.Code {
	case errors.InvalidRequest.Code, errors.InvalidSettings.Code, errors.InvalidLead.Code:
		return http.StatusBadRequest // 400
	case errors.Unauthorized.Code:
		return http.StatusUnauthorized // 401
	case errors.Forbidden.Code:
		return http.StatusForbidden // 403
	case errors.CampaignNotFound.Code, errors.BroadcastNotFound.Code,
		errors.LeadNotFound.Code, errors.TemplateNotFound.Code:
		return http.StatusNotFound // 404
	case errors.InvalidTransition.Code, errors.Conflict.Code:
		return http.StatusConflict // 409
	case errors.SettingsLocked.Code:
		return http.StatusLocked // 423
	case errors.TooManyRequests.Code:
		return http.StatusTooManyRequests // 429
	case errors.ServiceUnavailable.Code:
		return http.StatusServiceUnavailable // 503
	default:
		return http.StatusInternalServerError // 500
	}
}

func detailOf(err error) ErrorDetail {
	if def, ok := errors.As(err); ok {
		msg := def.Message
		// Wrap 附加的上下文对调用方有用，保留完整信息
		if err.Error() != def.Message {
			msg = err.Error()
		}
		return ErrorDetail{Code: def.Code, Message: msg}
	}
	// 非业务错误不向外暴露内部信息
	return ErrorDetail{Code: errors.InternalError.Code, Message: errors.InternalError.Message}
}

// Error 返回错误响应
func Error(ctx context.Context, c *app.RequestContext, err error) {
	c.JSON(StatusFor(err), ErrorResponse{Error: detailOf(err)})
}

func ErrorWithDetails(ctx context.Context, c *app.RequestContext, err error, details map[string]interface{}) {
	detail := detailOf(err)
	detail.Details = details
	c.JSON(StatusFor(err), ErrorResponse{Error: detail})
}

func Success(ctx context.Context, c *app.RequestContext, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data: data,
	})
}

func SuccessWithMeta(ctx context.Context, c *app.RequestContext, data interface{}, meta map[string]interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data: data,
		Meta: meta,
	})
}

func BindError(ctx context.Context, c *app.RequestContext, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    errors.InvalidRequest.Code,
			Message: err.Error(),
		},
	})
}

// NoContent 返回 204 No Content
func NoContent(ctx context.Context, c *app.RequestContext) {
	c.Status(http.StatusNoContent)
}

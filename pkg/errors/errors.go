package errors

import stderrors "errors"

func (d Definition) Error() string {
	return d.Message
}

// Definition 表示业务错误码及默认信息。
type Definition struct {
	Code    string
	Message string
}

// 通用错误。
var (
	InvalidRequest     = Definition{Code: "INVALID_REQUEST", Message: "Invalid request"}
	Unauthorized       = Definition{Code: "UNAUTHORIZED", Message: "Unauthorized"}
	Forbidden          = Definition{Code: "FORBIDDEN", Message: "Forbidden"}
	TooManyRequests    = Definition{Code: "TOO_MANY_REQUESTS", Message: "Too many requests"}
	InternalError      = Definition{Code: "INTERNAL_ERROR", Message: "Internal server error"}
	ServiceUnavailable = Definition{Code: "SERVICE_UNAVAILABLE", Message: "Service unavailable"}
)

// 广播控制错误。
var (
	InvalidTransition = Definition{Code: "INVALID_TRANSITION", Message: "Operation not allowed in current broadcast status"}
	SettingsLocked    = Definition{Code: "SETTINGS_LOCKED", Message: "Broadcast settings are locked while running, pause first"}
	InvalidSettings   = Definition{Code: "INVALID_SETTINGS", Message: "Invalid broadcast settings"}
	Conflict          = Definition{Code: "CONFLICT", Message: "Broadcast was modified concurrently, retry with fresh state"}
	CampaignNotFound  = Definition{Code: "CAMPAIGN_NOT_FOUND", Message: "Campaign not found"}
	BroadcastNotFound = Definition{Code: "BROADCAST_NOT_FOUND", Message: "Broadcast not found"}
	LeadNotFound      = Definition{Code: "LEAD_NOT_FOUND", Message: "Lead not found"}
)

// 投递错误，只记录在线索上，不向调用方抛出。
var (
	SendFailure      = Definition{Code: "SEND_FAILURE", Message: "Message sender reported a failure"}
	TemplateNotFound = Definition{Code: "TEMPLATE_NOT_FOUND", Message: "Template not found"}
	RenderError      = Definition{Code: "RENDER_ERROR", Message: "Template render failed"}
	AbandonedClaim   = Definition{Code: "ABANDONED_CLAIM", Message: "Lead claim abandoned"}
	InvalidLead      = Definition{Code: "INVALID_LEAD", Message: "Invalid lead"}
)

// Lookup 提供错误码查询能力。
var Lookup = map[string]Definition{
	InvalidRequest.Code:     InvalidRequest,
	Unauthorized.Code:       Unauthorized,
	Forbidden.Code:          Forbidden,
	TooManyRequests.Code:    TooManyRequests,
	InternalError.Code:      InternalError,
	ServiceUnavailable.Code: ServiceUnavailable,
	InvalidTransition.Code:  InvalidTransition,
	SettingsLocked.Code:     SettingsLocked,
	InvalidSettings.Code:    InvalidSettings,
	Conflict.Code:           Conflict,
	CampaignNotFound.Code:   CampaignNotFound,
	BroadcastNotFound.Code:  BroadcastNotFound,
	LeadNotFound.Code:       LeadNotFound,
	SendFailure.Code:        SendFailure,
	TemplateNotFound.Code:   TemplateNotFound,
	RenderError.Code:        RenderError,
	AbandonedClaim.Code:     AbandonedClaim,
	InvalidLead.Code:        InvalidLead,
}

// Get 根据错误码返回 Definition，若不存在则返回空 Definition。
func Get(code string) Definition {
	if def, ok := Lookup[code]; ok {
		return def
	}
	return Definition{Code: code, Message: "Unexpected error"}
}

// As 从错误链中取出 Definition
func As(err error) (Definition, bool) {
	var def Definition
	if stderrors.As(err, &def) {
		return def, true
	}
	var ptr *Definition
	if stderrors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	return Definition{}, false
}

// Wrap 给 Definition 附加上下文信息，errors.Is 仍可匹配原 Definition
func Wrap(def Definition, detail string) error {
	return &detailed{def: def, detail: detail}
}

type detailed struct {
	def    Definition
	detail string
}

func (d *detailed) Error() string {
	return d.def.Message + ": " + d.detail
}

func (d *detailed) Unwrap() error {
	return d.def
}

// SkipMessageError 消费者遇到该错误时直接 ack，不再重试
type SkipMessageError struct {
	Reason string
}

func (e *SkipMessageError) Error() string {
	return "skip message: " + e.Reason
}

func NewSkipMessageError(reason string) error {
	return &SkipMessageError{Reason: reason}
}

func IsSkipMessageError(err error) bool {
	var skip *SkipMessageError
	return stderrors.As(err, &skip)
}

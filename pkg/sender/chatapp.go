package sender

import (
	"context"
	"encoding/json"
	"fmt"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	openapiutil "github.com/alibabacloud-go/openapi-util/service"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
	credential "github.com/aliyun/credentials-go/credentials"
	"go.uber.org/zap"

	"WaBroadcast/internal/model"
	"WaBroadcast/pkg/logger"
)

type ChatAppOptions struct {
	Endpoint    string
	CustSpaceID string
	From        string
	TimeoutMs   int
}

// ChatAppClient 通过阿里云 ChatApp（cams）发送 WhatsApp 消息
type ChatAppClient struct {
	client *openapi.Client
	opts   ChatAppOptions
}

// NewChatAppClient 凭据从 ALIBABA_CLOUD_ACCESS_KEY_ID / ALIBABA_CLOUD_ACCESS_KEY_SECRET 获取
func NewChatAppClient(opts ChatAppOptions) (*ChatAppClient, error) {
	if opts.CustSpaceID == "" || opts.From == "" {
		return nil, fmt.Errorf("chatapp cust space id and from number are required")
	}

	cred, err := credential.NewCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create aliyun credential: %w", err)
	}

	client, err := openapi.NewClient(&openapi.Config{
		Credential: cred,
		Endpoint:   tea.String(opts.Endpoint),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chatapp client: %w", err)
	}

	return &ChatAppClient{client: client, opts: opts}, nil
}

func (c *ChatAppClient) apiInfo() *openapi.Params {
	return &openapi.Params{
		Action:      tea.String("SendChatappMessage"),
		Version:     tea.String("2020-06-06"),
		Protocol:    tea.String("HTTPS"),
		Method:      tea.String("POST"),
		AuthType:    tea.String("AK"),
		Style:       tea.String("RPC"),
		Pathname:    tea.String("/"),
		ReqBodyType: tea.String("formData"),
		BodyType:    tea.String("json"),
	}
}

// buildContent 有媒体时发送带说明文字的媒体消息，否则发送文本
func buildContent(payload model.TemplatePayload) (messageType string, content string, err error) {
	body := map[string]string{}
	switch {
	case payload.MediaURL != "" && payload.MediaType != "":
		messageType = payload.MediaType
		body["link"] = payload.MediaURL
		body["caption"] = payload.Body
	default:
		messageType = "text"
		body["text"] = payload.Body
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", "", err
	}
	return messageType, string(b), nil
}

func (c *ChatAppClient) Send(ctx context.Context, phone string, payload model.TemplatePayload) (*SendResult, error) {
	messageType, content, err := buildContent(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to build chatapp content: %w", err)
	}

	body := map[string]interface{}{
		"ChannelType": tea.String("whatsapp"),
		"Type":        tea.String("message"),
		"MessageType": tea.String(messageType),
		"CustSpaceId": tea.String(c.opts.CustSpaceID),
		"From":        tea.String(c.opts.From),
		"To":          tea.String(phone),
		"Content":     tea.String(content),
		"Language":    tea.String(payload.Language),
	}

	runtime := &util.RuntimeOptions{}
	if c.opts.TimeoutMs > 0 {
		runtime.ReadTimeout = tea.Int(c.opts.TimeoutMs)
		runtime.ConnectTimeout = tea.Int(c.opts.TimeoutMs)
	}
	request := &openapi.OpenApiRequest{
		Body: openapiutil.Query(body),
	}

	// SDK 不接收 context，取消只能在调用前判断
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := c.client.CallApi(c.apiInfo(), request, runtime)
	if err != nil {
		logger.Logger.Warn("ChatApp call failed", zap.Int64("template_id", payload.TemplateID), zap.Error(err))
		return nil, fmt.Errorf("chatapp call failed: %w", err)
	}

	if sc, ok := resp["statusCode"].(int); ok && sc != 200 {
		return nil, fmt.Errorf("chatapp http status %d", sc)
	}

	var parsed struct {
		Code      string `json:"Code"`
		Message   string `json:"Message"`
		MessageID string `json:"MessageId"`
		RequestID string `json:"RequestId"`
	}
	raw, _ := json.Marshal(resp["body"])
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode chatapp response: %w", err)
	}
	if parsed.Code != "OK" {
		return nil, fmt.Errorf("chatapp send failed: %s - %s", parsed.Code, parsed.Message)
	}

	return &SendResult{
		ProviderMessageID: parsed.MessageID,
		RequestID:         parsed.RequestID,
		Provider:          "aliyun",
	}, nil
}

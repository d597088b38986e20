// Package sender 消息发送客户端。调度器只依赖 Client 接口，具体通道由配置选择。
package sender

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"WaBroadcast/config"
	"WaBroadcast/internal/model"
	"WaBroadcast/pkg/logger"
)

// Client 每次领取最多调用一次 Send。返回错误表示本次尝试失败，可重试与否由调用方按次数判断。
type Client interface {
	Send(ctx context.Context, phone string, payload model.TemplatePayload) (*SendResult, error)
}

// SendResult 发送成功的回执
type SendResult struct {
	ProviderMessageID string
	RequestID         string
	Provider          string
}

var (
	client     Client
	clientOnce sync.Once
	clientErr  error
)

// Init 按 SENDER_PROVIDER 初始化发送客户端
func Init() error {
	clientOnce.Do(func() {
		cfg := config.Cfg

		switch cfg.SenderProvider {
		case "aliyun":
			client, clientErr = NewChatAppClient(ChatAppOptions{
				Endpoint:    cfg.ChatAppEndpoint,
				CustSpaceID: cfg.ChatAppCustSpaceID,
				From:        cfg.ChatAppFromNumber,
				TimeoutMs:   cfg.ChatAppTimeoutMilli,
			})
		case "mock":
			client = NewMockClient()
		default:
			clientErr = fmt.Errorf("unsupported sender provider: %s", cfg.SenderProvider)
		}

		if clientErr != nil {
			logger.Logger.Error("Failed to initialize sender client", zap.Error(clientErr))
			return
		}

		logger.Logger.Info("Sender client initialized successfully",
			zap.String("provider", cfg.SenderProvider),
		)
	})

	return clientErr
}

func GetClient() Client {
	if client == nil {
		panic("sender client not initialized, call sender.Init() first")
	}
	return client
}

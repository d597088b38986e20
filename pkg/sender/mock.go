package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"WaBroadcast/internal/model"
)

type MockCall struct {
	Phone   string
	Payload model.TemplatePayload
}

// MockClient 记录调用并按脚本返回失败，实现 Client 接口
type MockClient struct {
	mu    sync.Mutex
	Calls []MockCall

	// FailNext 大于 0 时接下来的若干次调用失败
	FailNext int
	// FailPhones 对指定号码的调用失败次数
	FailPhones map[string]int
	// FailAll 所有调用都失败
	FailAll bool
	// OnSend 在返回结果前调用，测试用来模拟发送过程中的并发操作
	OnSend func(ctx context.Context, phone string)
}

func NewMockClient() *MockClient {
	return &MockClient{
		Calls:      make([]MockCall, 0),
		FailPhones: make(map[string]int),
	}
}

func (m *MockClient) Send(ctx context.Context, phone string, payload model.TemplatePayload) (*SendResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Phone: phone, Payload: payload})
	n := len(m.Calls)

	fail := m.FailAll
	if m.FailNext > 0 {
		m.FailNext--
		fail = true
	}
	if left := m.FailPhones[phone]; left > 0 {
		m.FailPhones[phone] = left - 1
		fail = true
	}
	hook := m.OnSend
	m.mu.Unlock()

	if hook != nil {
		hook(ctx, phone)
	}

	if fail {
		return nil, errors.New("mock send failure")
	}
	return &SendResult{
		ProviderMessageID: fmt.Sprintf("mock-%d", n),
		RequestID:         "mock-request-id",
		Provider:          "mock",
	}, nil
}

// CallCount 线程安全地读取调用次数
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// PhonesSent 按调用顺序返回号码
func (m *MockClient) PhonesSent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Calls))
	for _, c := range m.Calls {
		out = append(out, c.Phone)
	}
	return out
}

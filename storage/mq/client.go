package mq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"WaBroadcast/config"
)

var (
	conn    *amqp.Connection
	once    sync.Once
	initErr error
)

// Init 建立连接并声明分发队列
func Init() error {
	once.Do(func() {
		conn, initErr = amqp.Dial(config.Cfg.GetRabbitMQURL())
		if initErr != nil {
			initErr = fmt.Errorf("dial rabbitmq: %w", initErr)
			return
		}
		initErr = DeclareQueue(config.Cfg.DispatchQueue)
	})
	return initErr
}

func Connection() *amqp.Connection {
	return conn
}

// DeclareQueue 声明持久化队列，已存在时无副作用
func DeclareQueue(name string) error {
	if conn == nil {
		return fmt.Errorf("RabbitMQ connection is nil")
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		name,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}

func Close(ctx context.Context) error {
	pubMutex.Lock()
	if publisherCh != nil {
		_ = publisherCh.Close()
		publisherCh = nil
	}
	pubMutex.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

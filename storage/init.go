package storage

import (
	"WaBroadcast/config"
	"WaBroadcast/storage/database"
	"WaBroadcast/storage/mq"
	"WaBroadcast/storage/redis"
)

// Init 统一初始化存储层。RabbitMQ 只在 queue 分发模式下连接。
func Init() error {
	if err := database.Init(); err != nil {
		return err
	}

	if err := redis.Init(); err != nil {
		return err
	}

	if config.Cfg.DispatchMode == "queue" {
		if err := mq.Init(); err != nil {
			return err
		}
	}

	return nil
}

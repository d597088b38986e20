package token

import (
	"errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/hertz-contrib/jwt"

	"WaBroadcast/config"
)

const (
	IdentityKey = "agent_id"
)

var (
	ErrGeneratorNotInitialized = errors.New("token generator not initialized")
	ErrInvalidToken            = errors.New("invalid token")
	ErrAgentIDNotFound         = errors.New("agent id not found in token")
)

// 这个实例会被 middleware 和 token 包共同使用
var sharedGenerator *jwt.HertzJWTMiddleware

func Init() error {
	if config.Cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is empty")
	}

	var err error
	sharedGenerator, err = jwt.New(&jwt.HertzJWTMiddleware{
		Key:         []byte(config.Cfg.JWTSecret),
		Timeout:     time.Duration(config.Cfg.JWTExpireMinutes) * time.Minute,
		MaxRefresh:  time.Duration(config.Cfg.JWTRefreshDays) * 24 * time.Hour,
		IdentityKey: IdentityKey,
		TimeFunc:    time.Now,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token generator: %w", err)
	}
	return nil
}

// GetGenerator 获取共享的 token 生成器（供 middleware 使用）
func GetGenerator() *jwt.HertzJWTMiddleware {
	return sharedGenerator
}

// GenerateAgentToken 为坐席签发 access token
func GenerateAgentToken(agentID string) (accessToken string, expiresAt time.Time, err error) {
	if sharedGenerator == nil {
		return "", time.Time{}, ErrGeneratorNotInitialized
	}

	now := sharedGenerator.TimeFunc()
	expiresAt = now.Add(sharedGenerator.Timeout)
	claims := jwtv5.MapClaims{
		IdentityKey: agentID,
		"iat":       now.Unix(),
		"exp":       expiresAt.Unix(),
		// hertz-contrib/jwt 的刷新逻辑读取 orig_iat
		"orig_iat": now.Unix(),
	}

	accessToken, err = jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(sharedGenerator.Key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
	}
	return accessToken, expiresAt, nil
}

// ParseAgentToken 校验 token 并返回坐席 ID
func ParseAgentToken(tokenString string) (string, error) {
	if sharedGenerator == nil {
		return "", ErrGeneratorNotInitialized
	}

	tok, err := jwtv5.Parse(tokenString, func(t *jwtv5.Token) (interface{}, error) {
		return sharedGenerator.Key, nil
	}, jwtv5.WithValidMethods([]string{jwtv5.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !tok.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	agentID, ok := claims[IdentityKey].(string)
	if !ok || agentID == "" {
		return "", ErrAgentIDNotFound
	}
	return agentID, nil
}

package middleware

import (
	"context"
	"fmt"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/jwt"

	pkgerrors "WaBroadcast/pkg/errors"
	"WaBroadcast/pkg/response"
	"WaBroadcast/pkg/token"
)

const (
	IdentityKey = token.IdentityKey
)

var (
	authMiddleware *jwt.HertzJWTMiddleware
)

func initAuthMiddleware() error {
	sharedGenerator := token.GetGenerator()
	if sharedGenerator == nil {
		return fmt.Errorf("token generator not initialized, call token.Init() first")
	}

	authMiddleware = &jwt.HertzJWTMiddleware{
		Realm:       "WaBroadcast API",
		Key:         sharedGenerator.Key,
		Timeout:     sharedGenerator.Timeout,
		MaxRefresh:  sharedGenerator.MaxRefresh,
		IdentityKey: sharedGenerator.IdentityKey,
		TimeFunc:    sharedGenerator.TimeFunc,

		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if agentID, ok := data.(string); ok {
				return jwt.MapClaims{IdentityKey: agentID}
			}
			return jwt.MapClaims{}
		},

		IdentityHandler: func(ctx context.Context, c *app.RequestContext) interface{} {
			claims := jwt.ExtractClaims(ctx, c)
			agentID, ok := claims[IdentityKey].(string)
			if !ok || agentID == "" {
				return nil
			}
			return agentID
		},

		Authorizator: func(data interface{}, ctx context.Context, c *app.RequestContext) bool {
			agentID, ok := data.(string)
			return ok && agentID != ""
		},

		Unauthorized: func(ctx context.Context, c *app.RequestContext, code int, message string) {
			response.Error(ctx, c, pkgerrors.Wrap(pkgerrors.Unauthorized, message))
		},

		TokenLookup:   "header: Authorization",
		TokenHeadName: "Bearer",
	}

	return authMiddleware.MiddlewareInit()
}

func AuthMiddleware() app.HandlerFunc {
	if authMiddleware == nil {
		panic("AuthMiddleware not initialized, call Init() first")
	}
	return authMiddleware.MiddlewareFunc()
}

// RefreshHandler 用未过期（或仍在刷新窗口内）的 token 换新 token
func RefreshHandler() app.HandlerFunc {
	if authMiddleware == nil {
		panic("AuthMiddleware not initialized, call Init() first")
	}
	return authMiddleware.RefreshHandler
}

// GetAgentID 从请求上下文中获取坐席 ID
func GetAgentID(ctx context.Context, c *app.RequestContext) (string, bool) {
	agentID, exists := c.Get(IdentityKey)
	if !exists {
		return "", false
	}

	id, ok := agentID.(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

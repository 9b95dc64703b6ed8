package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"viplinks/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

const contextSellerID = "seller_id"

// SellerClaims 卖家令牌，Subject 为卖家 ID
type SellerClaims struct {
	jwt.RegisteredClaims
}

// GenerateSellerToken 签发 HS256 卖家令牌
func GenerateSellerToken(secret, sellerID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("未配置 JWT 密钥")
	}
	now := time.Now()
	claims := &SellerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sellerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// JWTAuthMiddleware 校验 Bearer 令牌，把卖家 ID 放进上下文
func JWTAuthMiddleware(secret string) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		if secret == "" {
			response.Abort(c, http.StatusInternalServerError, response.CodeServerError, "未配置 JWT 密钥")
			return
		}

		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, "缺少 Authorization 头")
			return
		}

		var claims SellerClaims
		token, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, "令牌无效或已过期")
			return
		}
		if strings.TrimSpace(claims.Subject) == "" {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, "令牌缺少卖家 ID")
			return
		}

		c.Set(contextSellerID, claims.Subject)
		c.Next()
	}
}

func sellerID(c *gin.Context) string {
	return c.GetString(contextSellerID)
}

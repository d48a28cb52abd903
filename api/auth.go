package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"livebid/api/openapi"
	"livebid/auction"
)

const (
	accessTokenCookie = "access_token"
	userIDKey         = "livebid.userID"
)

var ErrMissingToken = errors.New("missing access token")

// extractToken 依序從 Authorization header、cookie、query 取得 token
// 瀏覽器的 websocket 與 EventSource 無法自訂 header，因此接受 cookie 與 query
func extractToken(c *gin.Context) (string, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return "", ErrMissingToken
		}
		return token, nil
	}
	if cookie, err := c.Cookie(accessTokenCookie); err == nil && cookie != "" {
		return cookie, nil
	}
	if token := c.Query(accessTokenCookie); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}

// authenticate 驗證 access token 並把使用者 ID 放進 gin.Context
func (impl *ServerImpl) authenticate() gin.HandlerFunc {
	var opts []jwt.ParserOption
	if impl.config.Auth.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(impl.config.Auth.Issuer))
	}
	if impl.config.Auth.Audience != "" {
		opts = append(opts, jwt.WithAudience(impl.config.Auth.Audience))
	}
	return func(c *gin.Context) {
		raw, err := extractToken(c)
		if err != nil {
			JSONError(c, http.StatusUnauthorized, err, "unauthorized")
			c.Abort()
			return
		}
		token, err := openapi.ParseAndValidateJWT(raw, impl.config.Auth.PrivateKey, opts...)
		if err != nil {
			impl.logger.Debug("Fail to parse and validate JWT", slog.Any("error", err))
			JSONError(c, http.StatusUnauthorized, err, "unauthorized")
			c.Abort()
			return
		}
		// system 保留給截止掃描與營運操作
		if token.Subject == auction.SystemActor {
			JSONError(c, http.StatusUnauthorized, errors.New("reserved subject"), "unauthorized")
			c.Abort()
			return
		}
		c.Set(userIDKey, token.Subject)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}

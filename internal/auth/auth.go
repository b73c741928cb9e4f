package auth

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"geminichat/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// 两种 token：access 用于调用 API，refresh 只能换取新的 token 对。
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWrongKind    = errors.New("wrong token kind")
)

type Claims struct {
	UserID uint   `json:"uid"`
	Kind   string `json:"knd"`
	jwt.RegisteredClaims
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// GenerateToken 签发指定类型的 JWT，共享同一个 HS256 密钥。
func GenerateToken(userID uint, kind, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken 校验签名和过期时间，并要求 token 类型与期望一致；
// 比如把 access token 当 refresh token 用会返回 ErrWrongKind。
func ParseToken(tokenStr, secret, kind string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind != kind {
		return nil, ErrWrongKind
	}
	return claims, nil
}

// UserLookup 按 ID 取用户，找不到时返回错误。
type UserLookup func(id uint) (*models.User, error)

// Authenticate 是独立于传输层的鉴权函数：access token + 用户查询能力 → 用户或错误。
func Authenticate(tokenStr, secret string, lookup UserLookup) (*models.User, error) {
	claims, err := ParseToken(tokenStr, secret, KindAccess)
	if err != nil {
		return nil, err
	}
	user, err := lookup(claims.UserID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return user, nil
}

// Middleware 把 Authenticate 包装成 gin 中间件，把用户写入请求上下文。
func Middleware(secret string, lookup UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		user, err := Authenticate(tokenStr, secret, lookup)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("user", user)
		c.Next()
	}
}

// CurrentUser 取出中间件写入的用户，未经过鉴权的路由返回 nil。
func CurrentUser(c *gin.Context) *models.User {
	if v, ok := c.Get("user"); ok {
		if u, ok2 := v.(*models.User); ok2 {
			return u
		}
	}
	return nil
}

package server

import (
	"errors"
	"net/http"
	"time"

	"geminichat/internal/auth"
	"geminichat/internal/config"
	"geminichat/internal/metrics"
	"geminichat/internal/models"
	"geminichat/internal/mw"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件和 REST API 端点。
func SetupRouter(cfg config.Config, db *gorm.DB, h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	// 控制单个 IP+路由的速率，业务级限流（登录、验证码、日配额）在 service 层。
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")

	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/send-otp", h.SendOTP)
	api.POST("/auth/verify-otp", h.VerifyOTP)
	api.POST("/auth/reset-password", h.ResetPassword)
	api.POST("/auth/refresh", h.RefreshToken)

	// Stripe 回调不走 Bearer 认证，靠签名验证。
	api.POST("/subscriptions/webhook", h.StripeWebhook)

	lookup := func(id uint) (*models.User, error) {
		var user models.User
		if err := db.First(&user, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, auth.ErrInvalidToken
			}
			return nil, err
		}
		return &user, nil
	}

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.Middleware(cfg.JWTSecret, lookup))

	authed.GET("/users/profile", h.Profile)
	authed.PUT("/users/profile", h.UpdateProfile)
	authed.GET("/users/usage-stats", h.UsageStats)

	authed.POST("/chatrooms", h.CreateChatroom)
	authed.GET("/chatrooms", h.ListChatrooms)
	authed.GET("/chatrooms/:id", h.GetChatroom)
	authed.PUT("/chatrooms/:id", h.UpdateChatroom)
	authed.DELETE("/chatrooms/:id", h.DeleteChatroom)
	authed.POST("/chatrooms/:id/messages", h.SendMessage)
	authed.GET("/chatrooms/:id/messages", h.ListMessages)

	authed.GET("/subscriptions", h.GetSubscription)
	authed.POST("/subscriptions/checkout-session", h.CreateCheckoutSession)
	authed.POST("/subscriptions/cancel", h.CancelSubscription)

	return r
}

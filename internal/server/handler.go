package server

import (
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"geminichat/internal/auth"
	"geminichat/internal/models"
	"geminichat/internal/ratelimit"
	"geminichat/internal/service"
	"geminichat/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层和后台 worker。
type Handler struct {
	userSvc    *service.UserService
	chatSvc    *service.ChatroomService
	billingSvc *service.BillingService
	proc       *worker.Processor
}

func NewHandler(userSvc *service.UserService, chatSvc *service.ChatroomService, billingSvc *service.BillingService, proc *worker.Processor) *Handler {
	return &Handler{userSvc: userSvc, chatSvc: chatSvc, billingSvc: billingSvc, proc: proc}
}

var mobileRe = regexp.MustCompile(`^\+?[0-9]{9,15}$`)

type userResponse struct {
	ID                 uint      `json:"id"`
	MobileNumber       string    `json:"mobile_number"`
	SubscriptionTier   string    `json:"subscription_tier"`
	SubscriptionStatus string    `json:"subscription_status"`
	DailyUsageCount    int       `json:"daily_usage_count"`
	CreatedAt          time.Time `json:"created_at"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:                 u.ID,
		MobileNumber:       u.MobileNumber,
		SubscriptionTier:   u.SubscriptionTier,
		SubscriptionStatus: u.SubscriptionStatus,
		DailyUsageCount:    u.DailyUsageCount,
		CreatedAt:          u.CreatedAt,
	}
}

type chatroomResponse struct {
	ID           uint      `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
}

func toChatroomResponse(r *models.Chatroom) chatroomResponse {
	return chatroomResponse{ID: r.ID, Title: r.Title, MessageCount: r.MessageCount, LastActivity: r.LastActivity, CreatedAt: r.CreatedAt}
}

type messageResponse struct {
	ID               uint      `json:"id"`
	ChatroomID       uint      `json:"chatroom_id"`
	Content          string    `json:"content"`
	IsUserMessage    bool      `json:"is_user_message"`
	AIResponse       string    `json:"ai_response,omitempty"`
	ProcessingStatus string    `json:"processing_status"`
	CreatedAt        time.Time `json:"created_at"`
}

func toMessageResponse(m *models.Message) messageResponse {
	return messageResponse{
		ID:               m.ID,
		ChatroomID:       m.ChatroomID,
		Content:          m.Content,
		IsUserMessage:    m.IsUserMessage,
		AIResponse:       m.AIResponse,
		ProcessingStatus: m.ProcessingStatus,
		CreatedAt:        m.CreatedAt,
	}
}

// Register 处理注册请求，手机号重复返回 409。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		MobileNumber string `json:"mobile_number"`
		Password     string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if !mobileRe.MatchString(req.MobileNumber) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mobile number", "field": "mobile_number"})
		return
	}
	if len(req.Password) < 6 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 6 characters", "field": "password"})
		return
	}
	user, err := h.userSvc.Register(req.MobileNumber, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrMobileTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "user with this mobile number already exists"})
			return
		}
		log.Error().Err(err).Str("mobile", req.MobileNumber).Msg("register")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusCreated, toUserResponse(user))
}

// Login 处理登录请求，按手机号限流。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		MobileNumber string `json:"mobile_number"`
		Password     string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.MobileNumber == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	pair, err := h.userSvc.Login(c.Request.Context(), req.MobileNumber, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ratelimit.ErrRateLimited):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many login attempts, please try again later"})
		case errors.Is(err, service.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		default:
			log.Error().Err(err).Str("mobile", req.MobileNumber).Msg("login")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		}
		return
	}
	c.JSON(http.StatusOK, pair)
}

// SendOTP 下发找回密码的验证码，按手机号限流。
func (h *Handler) SendOTP(c *gin.Context) {
	var req struct {
		MobileNumber string `json:"mobile_number"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !mobileRe.MatchString(req.MobileNumber) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.userSvc.SendOTP(c.Request.Context(), req.MobileNumber); err != nil {
		if errors.Is(err, ratelimit.ErrRateLimited) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many otp requests, please try again later"})
			return
		}
		log.Error().Err(err).Str("mobile", req.MobileNumber).Msg("send otp")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send otp"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "otp sent successfully"})
}

// VerifyOTP 校验验证码并返回用户 ID，验证码一次有效。
func (h *Handler) VerifyOTP(c *gin.Context) {
	var req struct {
		MobileNumber string `json:"mobile_number"`
		OTP          string `json:"otp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.MobileNumber == "" || req.OTP == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	user, err := h.userSvc.VerifyOTP(c.Request.Context(), req.MobileNumber, req.OTP)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidOTP):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired otp"})
		case errors.Is(err, service.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		default:
			log.Error().Err(err).Str("mobile", req.MobileNumber).Msg("verify otp")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify otp"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "otp verified successfully", "user_id": user.ID})
}

// ResetPassword 在验证码通过后重置密码。
func (h *Handler) ResetPassword(c *gin.Context) {
	var req struct {
		MobileNumber string `json:"mobile_number"`
		OTP          string `json:"otp"`
		NewPassword  string `json:"new_password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.MobileNumber == "" || req.OTP == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.NewPassword) < 6 || len(req.NewPassword) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 6 characters", "field": "new_password"})
		return
	}
	err := h.userSvc.ResetPassword(c.Request.Context(), req.MobileNumber, req.OTP, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidOTP):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired otp"})
		case errors.Is(err, service.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		default:
			log.Error().Err(err).Str("mobile", req.MobileNumber).Msg("reset password")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset password"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password reset successfully"})
}

// RefreshToken 用 refresh token 换取新 token 对。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	pair, err := h.userSvc.Refresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Profile 返回当前用户资料。
func (h *Handler) Profile(c *gin.Context) {
	user := auth.CurrentUser(c)
	c.JSON(http.StatusOK, toUserResponse(user))
}

// UpdateProfile 更新手机号，重复的手机号返回 409。
func (h *Handler) UpdateProfile(c *gin.Context) {
	user := auth.CurrentUser(c)
	var req struct {
		MobileNumber string `json:"mobile_number"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !mobileRe.MatchString(req.MobileNumber) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mobile number", "field": "mobile_number"})
		return
	}
	if err := h.userSvc.UpdateMobile(user, req.MobileNumber); err != nil {
		if errors.Is(err, service.ErrMobileTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "mobile number already in use"})
			return
		}
		log.Error().Err(err).Uint("user_id", user.ID).Msg("update profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

// UsageStats 返回当日用量和订阅信息。
func (h *Handler) UsageStats(c *gin.Context) {
	user := auth.CurrentUser(c)
	c.JSON(http.StatusOK, gin.H{
		"daily_usage_count":   user.DailyUsageCount,
		"subscription_tier":   user.SubscriptionTier,
		"subscription_status": user.SubscriptionStatus,
		"last_usage_reset":    user.LastUsageReset,
	})
}

// CreateChatroom 创建聊天室。
func (h *Handler) CreateChatroom(c *gin.Context) {
	user := auth.CurrentUser(c)
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Title == "" || len(req.Title) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid title", "field": "title"})
		return
	}
	room, err := h.chatSvc.Create(user.ID, req.Title)
	if err != nil {
		log.Error().Err(err).Uint("user_id", user.ID).Msg("create chatroom")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create chatroom"})
		return
	}
	c.JSON(http.StatusCreated, toChatroomResponse(room))
}

// ListChatrooms 分页返回当前用户的聊天室。
func (h *Handler) ListChatrooms(c *gin.Context) {
	user := auth.CurrentUser(c)
	skip, limit := pageParams(c, 20)
	rooms, total, err := h.chatSvc.List(user.ID, skip, limit)
	if err != nil {
		log.Error().Err(err).Uint("user_id", user.ID).Msg("list chatrooms")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list chatrooms"})
		return
	}
	out := make([]chatroomResponse, 0, len(rooms))
	for i := range rooms {
		out = append(out, toChatroomResponse(&rooms[i]))
	}
	c.JSON(http.StatusOK, gin.H{"chatrooms": out, "total": total})
}

// GetChatroom 返回单个聊天室及其消息。
func (h *Handler) GetChatroom(c *gin.Context) {
	user := auth.CurrentUser(c)
	roomID, ok := idParam(c)
	if !ok {
		return
	}
	room, err := h.chatSvc.Get(user.ID, roomID)
	if err != nil {
		h.chatroomError(c, err, user.ID, roomID, "get chatroom")
		return
	}
	msgs, err := h.chatSvc.ListMessages(user.ID, roomID, 0, 50)
	if err != nil {
		h.chatroomError(c, err, user.ID, roomID, "get chatroom messages")
		return
	}
	outMsgs := make([]messageResponse, 0, len(msgs))
	for i := range msgs {
		outMsgs = append(outMsgs, toMessageResponse(&msgs[i]))
	}
	resp := gin.H{
		"id":            room.ID,
		"title":         room.Title,
		"message_count": room.MessageCount,
		"last_activity": room.LastActivity,
		"created_at":    room.CreatedAt,
		"messages":      outMsgs,
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateChatroom 更新聊天室标题。
func (h *Handler) UpdateChatroom(c *gin.Context) {
	user := auth.CurrentUser(c)
	roomID, ok := idParam(c)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Title == "" || len(req.Title) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid title", "field": "title"})
		return
	}
	room, err := h.chatSvc.UpdateTitle(user.ID, roomID, req.Title)
	if err != nil {
		h.chatroomError(c, err, user.ID, roomID, "update chatroom")
		return
	}
	c.JSON(http.StatusOK, toChatroomResponse(room))
}

// DeleteChatroom 删除聊天室及其全部消息。
func (h *Handler) DeleteChatroom(c *gin.Context) {
	user := auth.CurrentUser(c)
	roomID, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.chatSvc.Delete(user.ID, roomID); err != nil {
		h.chatroomError(c, err, user.ID, roomID, "delete chatroom")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "chatroom deleted successfully"})
}

// SendMessage 写入消息并把 ID 交给后台 worker，响应里的消息处于 pending 状态。
func (h *Handler) SendMessage(c *gin.Context) {
	user := auth.CurrentUser(c)
	roomID, ok := idParam(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == "" || len(req.Content) > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid content", "field": "content"})
		return
	}
	msg, err := h.chatSvc.SendMessage(user.ID, roomID, req.Content)
	if err != nil {
		if errors.Is(err, ratelimit.ErrDailyLimit) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "daily message limit exceeded, upgrade to pro for unlimited messages"})
			return
		}
		h.chatroomError(c, err, user.ID, roomID, "send message")
		return
	}
	h.proc.Enqueue(msg.ID)
	c.JSON(http.StatusCreated, toMessageResponse(msg))
}

// ListMessages 分页返回聊天室消息。
func (h *Handler) ListMessages(c *gin.Context) {
	user := auth.CurrentUser(c)
	roomID, ok := idParam(c)
	if !ok {
		return
	}
	skip, limit := pageParams(c, 50)
	msgs, err := h.chatSvc.ListMessages(user.ID, roomID, skip, limit)
	if err != nil {
		h.chatroomError(c, err, user.ID, roomID, "list messages")
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for i := range msgs {
		out = append(out, toMessageResponse(&msgs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

// GetSubscription 返回用户最近一次订阅。
func (h *Handler) GetSubscription(c *gin.Context) {
	user := auth.CurrentUser(c)
	subscription, err := h.billingSvc.Current(user.ID)
	if err != nil {
		if errors.Is(err, service.ErrNoSubscription) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no subscription found"})
			return
		}
		log.Error().Err(err).Uint("user_id", user.ID).Msg("get subscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get subscription"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":                   subscription.ID,
		"user_id":              subscription.UserID,
		"tier":                 subscription.Tier,
		"status":               subscription.Status,
		"current_period_start": subscription.CurrentPeriodStart,
		"current_period_end":   subscription.CurrentPeriodEnd,
		"created_at":           subscription.CreatedAt,
	})
}

// CreateCheckoutSession 创建 Stripe Checkout 会话并返回跳转地址。
func (h *Handler) CreateCheckoutSession(c *gin.Context) {
	user := auth.CurrentUser(c)
	var req struct {
		Tier       string `json:"tier"`
		SuccessURL string `json:"success_url"`
		CancelURL  string `json:"cancel_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Tier == "" || req.SuccessURL == "" || req.CancelURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	url, err := h.billingSvc.CreateCheckoutSession(user.ID, req.Tier, req.SuccessURL, req.CancelURL)
	if err != nil {
		if errors.Is(err, service.ErrTierNotPurchasable) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tier has no purchasable plan", "field": "tier"})
			return
		}
		log.Error().Err(err).Uint("user_id", user.ID).Str("tier", req.Tier).Msg("create checkout session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create checkout session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout_url": url})
}

// CancelSubscription 取消当前活跃订阅。
func (h *Handler) CancelSubscription(c *gin.Context) {
	user := auth.CurrentUser(c)
	if err := h.billingSvc.Cancel(user.ID); err != nil {
		if errors.Is(err, service.ErrNoSubscription) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active subscription found"})
			return
		}
		log.Error().Err(err).Uint("user_id", user.ID).Msg("cancel subscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel subscription"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "subscription cancelled successfully"})
}

// StripeWebhook 验签并应用 Stripe 事件，验签失败在任何状态变更前返回 400。
func (h *Handler) StripeWebhook(c *gin.Context) {
	const maxBodyBytes = int64(65536)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.billingSvc.HandleWebhook(body, c.GetHeader("Stripe-Signature")); err != nil {
		log.Warn().Err(err).Msg("stripe webhook")
		c.JSON(http.StatusBadRequest, gin.H{"error": "webhook verification failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) chatroomError(c *gin.Context, err error, userID, roomID uint, op string) {
	if errors.Is(err, service.ErrChatroomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "chatroom not found"})
		return
	}
	log.Error().Err(err).Uint("user_id", userID).Uint("chatroom_id", roomID).Msg(op)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chatroom id"})
		return 0, false
	}
	return uint(id), true
}

func pageParams(c *gin.Context, defLimit int) (int, int) {
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defLimit)))
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = defLimit
	}
	return skip, limit
}

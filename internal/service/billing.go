package service

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"geminichat/internal/config"
	"geminichat/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v79"
	checkout "github.com/stripe/stripe-go/v79/checkout/session"
	sub "github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"
	"gorm.io/gorm"
)

// BillingService 封装订阅查询、Checkout 会话创建和 Stripe webhook 的状态落库。
type BillingService struct {
	db  *gorm.DB
	cfg config.Config
}

func NewBillingService(gdb *gorm.DB, cfg config.Config) *BillingService {
	if cfg.StripeSecretKey != "" {
		stripe.Key = cfg.StripeSecretKey
	}
	return &BillingService{db: gdb, cfg: cfg}
}

// priceFor 返回档位对应的 Stripe 价格 ID，未配置价格的档位不可购买。
func (s *BillingService) priceFor(tier string) string {
	if tier == models.TierPro {
		return s.cfg.StripePriceIDPro
	}
	return ""
}

// CreateCheckoutSession 为用户创建订阅模式的 Checkout 会话，
// user_id 和 tier 作为 metadata 原样带回 webhook。
func (s *BillingService) CreateCheckoutSession(userID uint, tier, successURL, cancelURL string) (string, error) {
	priceID := s.priceFor(tier)
	if priceID == "" {
		return "", ErrTierNotPurchasable
	}
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	params.AddMetadata("user_id", strconv.FormatUint(uint64(userID), 10))
	params.AddMetadata("tier", tier)

	sess, err := checkout.New(params)
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}

// Current 返回用户最近一次的订阅记录，历史记录多行共存。
func (s *BillingService) Current(userID uint) (*models.Subscription, error) {
	var subscription models.Subscription
	err := s.db.Where("user_id = ?", userID).Order("created_at desc, id desc").First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoSubscription
		}
		return nil, err
	}
	return &subscription, nil
}

// Cancel 取消用户当前活跃的订阅：先请求 Stripe，再更新本地状态。
// Stripe 侧失败只记日志，本地状态仍然标记取消。
func (s *BillingService) Cancel(userID uint) error {
	var subscription models.Subscription
	err := s.db.Where("user_id = ? AND status = ?", userID, models.SubscriptionActive).
		Order("created_at desc, id desc").First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoSubscription
		}
		return err
	}

	if subscription.StripeSubscriptionID != "" {
		if _, err := sub.Cancel(subscription.StripeSubscriptionID, nil); err != nil {
			log.Error().Err(err).Str("stripe_subscription_id", subscription.StripeSubscriptionID).Msg("stripe cancel")
		}
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&subscription).Update("status", models.SubscriptionCancelled).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", userID).
			Update("subscription_status", models.SubscriptionCancelled).Error
	})
}

// HandleWebhook 验签后应用事件。验签失败或 payload 非法在任何状态变更前拒绝。
func (s *BillingService) HandleWebhook(payload []byte, sigHeader string) error {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, s.cfg.StripeWebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return err
	}
	return s.ApplyEvent(event)
}

// ApplyEvent 按事件类型分发，只处理三种事件，其余接受并忽略。
func (s *BillingService) ApplyEvent(event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return err
		}
		return s.applyCheckoutCompleted(sess)
	case "invoice.payment_succeeded":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return err
		}
		return s.applyRenewal(invoice)
	case "customer.subscription.deleted":
		var stripeSub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
			return err
		}
		return s.applyDeleted(stripeSub)
	default:
		return nil
	}
}

// applyCheckoutCompleted 支付完成：新建 ACTIVE 订阅行并更新用户档位。
// metadata 里找不到对应用户时静默忽略，webhook 不做重试语义。
func (s *BillingService) applyCheckoutCompleted(sess stripe.CheckoutSession) error {
	userID, err := strconv.ParseUint(sess.Metadata["user_id"], 10, 64)
	if err != nil {
		return errors.New("webhook: missing or invalid user_id metadata")
	}
	tier := sess.Metadata["tier"]
	if tier == "" {
		return errors.New("webhook: missing tier metadata")
	}

	var user models.User
	if err := s.db.First(&user, uint(userID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn().Uint64("user_id", userID).Msg("webhook for unknown user")
			return nil
		}
		return err
	}

	stripeSubID := ""
	if sess.Subscription != nil {
		stripeSubID = sess.Subscription.ID
	}
	now := time.Now().UTC()
	subscription := models.Subscription{
		UserID:               user.ID,
		StripeSubscriptionID: stripeSubID,
		Status:               models.SubscriptionActive,
		Tier:                 tier,
		CurrentPeriodStart:   &now,
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&subscription).Error; err != nil {
			return err
		}
		return tx.Model(&user).Updates(map[string]any{
			"subscription_tier":   tier,
			"subscription_status": models.SubscriptionActive,
		}).Error
	})
}

// applyRenewal 续费成功：按 Stripe 订阅 ID 重新激活。
func (s *BillingService) applyRenewal(invoice stripe.Invoice) error {
	if invoice.Subscription == nil || invoice.Subscription.ID == "" {
		return nil
	}
	return s.reconcileByStripeID(invoice.Subscription.ID, models.SubscriptionActive, "")
}

// applyDeleted 订阅被删除：标记取消并把用户降回 basic 档。
func (s *BillingService) applyDeleted(stripeSub stripe.Subscription) error {
	if stripeSub.ID == "" {
		return nil
	}
	return s.reconcileByStripeID(stripeSub.ID, models.SubscriptionCancelled, models.TierBasic)
}

func (s *BillingService) reconcileByStripeID(stripeSubID, status, downgradeTier string) error {
	var subscription models.Subscription
	err := s.db.Where("stripe_subscription_id = ?", stripeSubID).First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn().Str("stripe_subscription_id", stripeSubID).Msg("webhook for unknown subscription")
			return nil
		}
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&subscription).Update("status", status).Error; err != nil {
			return err
		}
		updates := map[string]any{"subscription_status": status}
		if downgradeTier != "" {
			updates["subscription_tier"] = downgradeTier
		}
		return tx.Model(&models.User{}).Where("id = ?", subscription.UserID).Updates(updates).Error
	})
}

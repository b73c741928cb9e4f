package service

import (
	"errors"
	"time"

	"geminichat/internal/models"
	"geminichat/internal/ratelimit"

	"gorm.io/gorm"
)

// ChatroomService 封装聊天室和消息的业务逻辑。
// 所有读写都按 userID 过滤，别人的聊天室与不存在的聊天室同样返回 not found。
type ChatroomService struct {
	db *gorm.DB
}

func NewChatroomService(gdb *gorm.DB) *ChatroomService {
	return &ChatroomService{db: gdb}
}

func (s *ChatroomService) Create(userID uint, title string) (*models.Chatroom, error) {
	room := models.Chatroom{
		UserID:       userID,
		Title:        title,
		LastActivity: time.Now().UTC(),
	}
	if err := s.db.Create(&room).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

// List 按最近活跃降序分页返回用户的聊天室，total 是不分页的总数。
func (s *ChatroomService) List(userID uint, skip, limit int) ([]models.Chatroom, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if skip < 0 {
		skip = 0
	}
	var rooms []models.Chatroom
	if err := s.db.Where("user_id = ?", userID).
		Order("last_activity desc").Offset(skip).Limit(limit).Find(&rooms).Error; err != nil {
		return nil, 0, err
	}
	var total int64
	if err := s.db.Model(&models.Chatroom{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	return rooms, total, nil
}

func (s *ChatroomService) Get(userID, roomID uint) (*models.Chatroom, error) {
	var room models.Chatroom
	err := s.db.Where("id = ? AND user_id = ?", roomID, userID).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatroomNotFound
		}
		return nil, err
	}
	return &room, nil
}

func (s *ChatroomService) UpdateTitle(userID, roomID uint, title string) (*models.Chatroom, error) {
	room, err := s.Get(userID, roomID)
	if err != nil {
		return nil, err
	}
	room.Title = title
	if err := s.db.Model(room).Update("title", title).Error; err != nil {
		return nil, err
	}
	return room, nil
}

// Delete 在一个事务里删除聊天室和它的全部消息，不留孤儿行。
func (s *ChatroomService) Delete(userID, roomID uint) error {
	if _, err := s.Get(userID, roomID); err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chatroom_id = ?", roomID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Chatroom{}, roomID).Error
	})
}

// SendMessage 是复合操作：校验归属、消耗当日配额、插入 pending 消息、
// 更新聊天室的冗余计数，全部在一个事务里。事务提交后由调用方把消息 ID
// 交给后台 worker。
func (s *ChatroomService) SendMessage(userID, roomID uint, content string) (*models.Message, error) {
	var msg models.Message
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var room models.Chatroom
		if err := tx.Where("id = ? AND user_id = ?", roomID, userID).First(&room).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrChatroomNotFound
			}
			return err
		}
		if err := ratelimit.ConsumeDaily(tx, userID); err != nil {
			return err
		}
		msg = models.Message{
			ChatroomID:       roomID,
			Content:          content,
			IsUserMessage:    true,
			ProcessingStatus: models.MessagePending,
			CreatedAt:        time.Now().UTC(),
		}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Chatroom{}).Where("id = ?", roomID).Updates(map[string]any{
			"message_count": gorm.Expr("message_count + 1"),
			"last_activity": msg.CreatedAt,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages 按创建顺序分页返回聊天室消息。
func (s *ChatroomService) ListMessages(userID, roomID uint, skip, limit int) ([]models.Message, error) {
	if _, err := s.Get(userID, roomID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if skip < 0 {
		skip = 0
	}
	var msgs []models.Message
	if err := s.db.Where("chatroom_id = ?", roomID).
		Order("created_at asc, id asc").Offset(skip).Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/social"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	operationSend   = "chat.send"
	operationThread = "chat.thread"

	maxMessageLength = 2000
)

// SaleLookup resolves the buyer of a product, if it was bought.
type SaleLookup interface {
	BuyerOf(tx *gorm.DB, productID uint64) (string, bool, error)
}

// ServiceConfig describes the dependencies required by the chat service.
type ServiceConfig struct {
	Database *gorm.DB
	Notifier *notifications.Service
	Sales    SaleLookup
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service stores and reads product conversations.
type Service struct {
	db       *gorm.DB
	notifier *notifications.Service
	sales    SaleLookup
	now      func() time.Time
	logger   *zap.Logger
}

// NewService constructs the chat service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("chat: database connection required")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("chat: notifier required")
	}
	if cfg.Sales == nil {
		return nil, fmt.Errorf("chat: sale lookup required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, notifier: cfg.Notifier, sales: cfg.Sales, now: clock, logger: logger}, nil
}

// productContext is the state every chat operation resolves first.
type productContext struct {
	product catalog.Product
	seller  users.User
	buyer   string
	sold    bool
}

func (s *Service) resolve(db *gorm.DB, productID uint64) (productContext, error) {
	product, err := catalog.Load(db, productID)
	if err != nil {
		return productContext{}, err
	}
	seller, err := users.Lookup(db, product.SellerID)
	if err != nil {
		return productContext{}, fmt.Errorf("load seller: %w", err)
	}
	buyer, sold, err := s.sales.BuyerOf(db, productID)
	if err != nil {
		return productContext{}, fmt.Errorf("load buyer: %w", err)
	}
	return productContext{product: product, seller: seller, buyer: buyer, sold: sold}, nil
}

func (c productContext) scope() Scope {
	if c.sold {
		return ScopeSold
	}
	return ScopeOpen
}

// Send stores a message from sender to receiverEmail about a product and
// notifies the receiver.
func (s *Service) Send(ctx context.Context, productID uint64, sender users.User, receiverEmail, body string) (Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Message{}, failure.Invalid("message", "is required")
	}
	if utf8.RuneCountInString(body) > maxMessageLength {
		return Message{}, failure.Invalid("message", fmt.Sprintf("must be at most %d characters", maxMessageLength))
	}
	receiverEmail = users.NormalizeEmail(receiverEmail)
	if receiverEmail == "" {
		return Message{}, failure.Invalid("receiver_email", "is required")
	}

	var (
		message Message
		notices []notifications.Notification
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state, err := s.resolve(tx, productID)
		if err != nil {
			return err
		}
		receiver, err := users.LookupByEmail(tx, receiverEmail)
		if err != nil {
			return err
		}
		counterpart := sender.Email
		if counterpart == state.seller.Email {
			counterpart = receiver.Email
		}
		hasThread, err := threadExists(tx, productID, state.seller.Email, counterpart)
		if err != nil {
			return failure.Wrap(operationSend, "thread_lookup_failed", err)
		}
		if err := authorize(exchange{
			seller:    state.seller.Email,
			buyer:     state.buyer,
			sender:    sender.Email,
			receiver:  receiver.Email,
			sold:      state.sold,
			listed:    !state.product.IsSold(),
			hasThread: hasThread,
		}); err != nil {
			return err
		}
		blocked, err := social.BlockExists(tx, sender.Email, receiver.Email)
		if err != nil {
			return failure.Wrap(operationSend, "block_lookup_failed", err)
		}
		if blocked {
			return ErrChatBlocked
		}

		message = Message{
			ProductID:     productID,
			SenderEmail:   sender.Email,
			ReceiverEmail: receiver.Email,
			Body:          body,
			CreatedAt:     s.now().UTC(),
		}
		if err := tx.Create(&message).Error; err != nil {
			return failure.Wrap(operationSend, "insert_failed", err)
		}
		related := productID
		notices, err = s.notifier.Emit(tx, notifications.Draft{
			Recipient: receiver.Email,
			Sender:    sender.Email,
			Type:      notifications.TypeNewMessage,
			Title:     "新しいメッセージ",
			Message:   fmt.Sprintf("%sさんから「%s」についてメッセージが届きました。", sender.DisplayName(), state.product.Title),
			ProductID: &related,
		})
		return err
	})
	if err != nil {
		if failure.CodeOf(err) != "" {
			s.logError(operationSend, "transaction_failed", err, zap.Uint64("product_id", productID))
		}
		return Message{}, err
	}
	s.notifier.Deliver(ctx, notices)
	return message, nil
}

// Thread is one conversation as seen by a viewer.
type Thread struct {
	ProductID    uint64
	Scope        Scope
	Participants []Participant
	Counterpart  string
	Messages     []Message
	CanSend      bool
}

// Conversation returns the viewer's conversation about a product and marks
// the messages addressed to them as read. The seller sees every counterparty
// and reads the one named by withUser, or the most recent one; anyone else
// reads their thread with the seller.
func (s *Service) Conversation(ctx context.Context, productID uint64, viewer users.User, withUser string) (Thread, error) {
	db := s.db.WithContext(ctx)
	state, err := s.resolve(db, productID)
	if err != nil {
		if !errors.Is(err, failure.ErrNotFound) {
			s.logError(operationThread, "resolve_failed", err, zap.Uint64("product_id", productID))
		}
		return Thread{}, err
	}

	thread := Thread{ProductID: productID, Scope: state.scope(), Participants: []Participant{}, Messages: []Message{}}
	if viewer.Email == state.seller.Email {
		participants, err := s.counterparties(db, state)
		if err != nil {
			s.logError(operationThread, "participants_failed", err, zap.Uint64("product_id", productID))
			return Thread{}, failure.Wrap(operationThread, "participants_failed", err)
		}
		thread.Participants = participants
		thread.Counterpart = pickCounterpart(participants, users.NormalizeEmail(withUser))
	} else {
		blocked, err := social.BlockExists(db, viewer.Email, state.seller.Email)
		if err != nil {
			return Thread{}, failure.Wrap(operationThread, "block_lookup_failed", err)
		}
		if blocked {
			return Thread{}, ErrChatBlocked
		}
		thread.Counterpart = state.seller.Email
		thread.Participants = []Participant{{
			Email:     state.seller.Email,
			UserName:  state.seller.DisplayName(),
			Purchased: false,
		}}
	}
	if thread.Counterpart == "" {
		return thread, nil
	}

	err = db.Where("product_id = ?", productID).
		Where("(sender_email = ? AND receiver_email = ?) OR (sender_email = ? AND receiver_email = ?)",
			viewer.Email, thread.Counterpart, thread.Counterpart, viewer.Email).
		Order("created_at ASC").Order("id ASC").
		Find(&thread.Messages).Error
	if err != nil {
		return Thread{}, failure.Wrap(operationThread, "messages_failed", err)
	}
	err = db.Model(&Message{}).
		Where("product_id = ? AND sender_email = ? AND receiver_email = ? AND is_read = ?", productID, thread.Counterpart, viewer.Email, false).
		Update("is_read", true).Error
	if err != nil {
		s.logger.Warn("chat messages not marked read", zap.Uint64("product_id", productID), zap.Error(err))
	}

	hasThread := len(thread.Messages) > 0
	thread.CanSend = authorize(exchange{
		seller:    state.seller.Email,
		buyer:     state.buyer,
		sender:    viewer.Email,
		receiver:  thread.Counterpart,
		sold:      state.sold,
		listed:    !state.product.IsSold(),
		hasThread: hasThread,
	}) == nil
	return thread, nil
}

// counterparties lists the people the seller talks to about a product:
// everyone with a message on it plus the buyer, minus blocked users, most
// recent activity first.
func (s *Service) counterparties(db *gorm.DB, state productContext) ([]Participant, error) {
	seller := state.seller.Email
	var messages []Message
	err := db.Select("sender_email", "receiver_email", "created_at").
		Where("product_id = ? AND (sender_email = ? OR receiver_email = ?)", state.product.ID, seller, seller).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	activity := make(map[string]time.Time)
	for _, message := range messages {
		other := message.SenderEmail
		if other == seller {
			other = message.ReceiverEmail
		}
		if message.CreatedAt.After(activity[other]) {
			activity[other] = message.CreatedAt
		}
	}
	if state.sold {
		if _, ok := activity[state.buyer]; !ok {
			activity[state.buyer] = time.Time{}
		}
	}

	blocked, err := social.BlockedCounterparts(db, seller)
	if err != nil {
		return nil, err
	}
	for _, email := range blocked {
		delete(activity, email)
	}
	emails := make([]string, 0, len(activity))
	for email := range activity {
		emails = append(emails, email)
	}
	var known []users.User
	if len(emails) > 0 {
		if err := db.Where("email IN ?", emails).Find(&known).Error; err != nil {
			return nil, err
		}
	}
	names := make(map[string]string, len(known))
	for _, user := range known {
		names[user.Email] = user.DisplayName()
	}

	participants := make([]Participant, 0, len(activity))
	for email, last := range activity {
		participants = append(participants, Participant{
			Email:        email,
			UserName:     names[email],
			Purchased:    state.sold && email == state.buyer,
			LastActivity: last,
		})
	}
	sort.Slice(participants, func(i, j int) bool {
		if !participants[i].LastActivity.Equal(participants[j].LastActivity) {
			return participants[i].LastActivity.After(participants[j].LastActivity)
		}
		return participants[i].Email < participants[j].Email
	})
	return participants, nil
}

func pickCounterpart(participants []Participant, requested string) string {
	if requested != "" {
		for _, participant := range participants {
			if participant.Email == requested {
				return requested
			}
		}
	}
	if len(participants) == 0 {
		return ""
	}
	return participants[0].Email
}

func threadExists(db *gorm.DB, productID uint64, seller, counterpart string) (bool, error) {
	var count int64
	err := db.Model(&Message{}).
		Where("product_id = ?", productID).
		Where("(sender_email = ? AND receiver_email = ?) OR (sender_email = ? AND receiver_email = ?)",
			seller, counterpart, counterpart, seller).
		Count(&count).Error
	return count > 0, err
}

// UnreadCount returns the number of chat messages addressed to email that
// have not been read.
func (s *Service) UnreadCount(ctx context.Context, email string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Message{}).
		Where("receiver_email = ? AND is_read = ?", users.NormalizeEmail(email), false).
		Count(&count).Error
	if err != nil {
		return 0, failure.Wrap(operationThread, "unread_failed", err)
	}
	return count, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	failure.LogError(s.logger, "chat service failure", operation, reason, err, fields...)
}

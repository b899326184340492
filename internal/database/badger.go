package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"social-chat/internal/models"
	"social-chat/pkg/logger"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Records are encoded with Core Deterministic CBOR so identical records
// always produce identical bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("database: CBOR encoder initialization failed: " + err.Error())
	}
}

type diskMessage struct {
	ID          string            `cbor:"id"`
	SenderID    string            `cbor:"sender"`
	RecipientID string            `cbor:"recipient,omitempty"`
	Content     string            `cbor:"content"`
	Type        string            `cbor:"type"`
	ReplyTo     string            `cbor:"reply_to,omitempty"`
	Reactions   map[string]string `cbor:"reactions,omitempty"`
	Edited      bool              `cbor:"edited,omitempty"`
	CreatedAt   int64             `cbor:"created_at"`
	UpdatedAt   int64             `cbor:"updated_at"`
}

type diskUser struct {
	ID           string `cbor:"id"`
	Username     string `cbor:"username"`
	Email        string `cbor:"email"`
	PasswordHash string `cbor:"password_hash"`
	CreatedAt    int64  `cbor:"created_at"`
}

// BadgerDB is an embedded Database. Messages live under
// "msg:{conversation}:{unix nano, 19 digits}:{id}" so a prefix scan walks a
// conversation in chronological order; "mid:{id}" points back at that key.
type BadgerDB struct {
	db *badger.DB
}

func NewBadgerDB(path string) (*BadgerDB, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", path, err)
	}
	logger.Info("Opened badger history store", "path", path)
	return &BadgerDB{db: db}, nil
}

func (b *BadgerDB) Close() error {
	return b.db.Close()
}

func messageKey(conversation string, at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", conversation, at.UnixNano(), id))
}

func messageIndexKey(id string) []byte { return []byte("mid:" + id) }
func userKey(id string) []byte { return []byte("user:" + id) }
func userEmailKey(email string) []byte { return []byte("email:" + strings.ToLower(email)) }
func userNameKey(username string) []byte { return []byte("uname:" + strings.ToLower(username)) }

// User Repository Implementation
func (b *BadgerDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var user *models.User
	err := b.db.View(func(txn *badger.Txn) error {
		id, err := getString(txn, userEmailKey(email))
		if err != nil {
			return err
		}
		user, err = readUser(txn, id)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

func (b *BadgerDB) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	created := &models.User{
		ID:           uuid.NewString(),
		Username:     user.Username,
		Email:        strings.ToLower(user.Email),
		PasswordHash: user.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		for _, key := range [][]byte{userEmailKey(created.Email), userNameKey(created.Username)} {
			if _, err := txn.Get(key); err == nil {
				return ErrUserExists
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}

		data, err := encMode.Marshal(diskUser{
			ID:           created.ID,
			Username:     created.Username,
			Email:        created.Email,
			PasswordHash: created.PasswordHash,
			CreatedAt:    created.CreatedAt.UnixNano(),
		})
		if err != nil {
			return err
		}
		if err := txn.Set(userKey(created.ID), data); err != nil {
			return err
		}
		if err := txn.Set(userEmailKey(created.Email), []byte(created.ID)); err != nil {
			return err
		}
		return txn.Set(userNameKey(created.Username), []byte(created.ID))
	})
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return created, nil
}

func (b *BadgerDB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var user *models.User
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		user, err = readUser(txn, id)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return user, nil
}

func (b *BadgerDB) UserExists(ctx context.Context, id string) (bool, error) {
	_, err := b.GetUserByID(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Message Repository Implementation
func (b *BadgerDB) AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stored := prepareForAppend(msg)
	data, err := encMode.Marshal(fromMessage(stored))
	if err != nil {
		return nil, err
	}

	key := messageKey(conversationOf(stored), stored.CreatedAt, stored.ID)
	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(messageIndexKey(stored.ID), key)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return stored, nil
}

func (b *BadgerDB) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var msg *models.Message
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		_, msg, err = readMessage(txn, id)
		return err
	})
	return msg, err
}

// ListConversation walks the conversation backwards from the newest key and
// stops at the limit or at the first message not newer than q.Since.
func (b *BadgerDB) ListConversation(ctx context.Context, q ConversationQuery) ([]*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte("msg:" + q.Key() + ":")
	var messages []*models.Message

	err := b.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		seekKey := append(append([]byte(nil), prefix...), []byte("9999999999999999999")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if q.Limit > 0 && len(messages) == q.Limit {
				break
			}
			var record diskMessage
			err := it.Item().Value(func(value []byte) error {
				return cbor.Unmarshal(value, &record)
			})
			if err != nil {
				return err
			}
			msg := toMessage(record)
			if !q.Since.IsZero() && !msg.CreatedAt.After(q.Since) {
				break
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	reverse(messages)
	return messages, nil
}

func (b *BadgerDB) SetReaction(ctx context.Context, messageID, userID, emoji string) (map[string]string, error) {
	var reactions map[string]string
	err := b.updateMessage(ctx, messageID, func(record *diskMessage) error {
		if record.Reactions == nil {
			record.Reactions = make(map[string]string)
		}
		record.Reactions[userID] = emoji
		reactions = record.Reactions
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reactions, nil
}

func (b *BadgerDB) EditMessage(ctx context.Context, messageID, ownerID, content string) (*models.Message, error) {
	var edited *models.Message
	err := b.updateMessage(ctx, messageID, func(record *diskMessage) error {
		if record.SenderID != ownerID {
			return ErrNotMessageOwner
		}
		record.Content = content
		record.Edited = true
		edited = toMessage(*record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return edited, nil
}

func (b *BadgerDB) DeleteMessage(ctx context.Context, messageID, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		key, msg, err := readMessage(txn, messageID)
		if err != nil {
			return err
		}
		if msg.SenderID != ownerID {
			return ErrNotMessageOwner
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(messageIndexKey(messageID))
	})
}

func (b *BadgerDB) updateMessage(ctx context.Context, messageID string, mutate func(*diskMessage) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		key, msg, err := readMessage(txn, messageID)
		if err != nil {
			return err
		}
		record := fromMessage(msg)
		if err := mutate(&record); err != nil {
			return err
		}
		record.UpdatedAt = time.Now().UTC().UnixNano()
		data, err := encMode.Marshal(record)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

func readMessage(txn *badger.Txn, id string) ([]byte, *models.Message, error) {
	item, err := txn.Get(messageIndexKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return nil, nil, err
	}

	item, err = txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	var record diskMessage
	if err := item.Value(func(value []byte) error {
		return cbor.Unmarshal(value, &record)
	}); err != nil {
		return nil, nil, err
	}
	return key, toMessage(record), nil
}

func readUser(txn *badger.Txn, id string) (*models.User, error) {
	item, err := txn.Get(userKey(id))
	if err != nil {
		return nil, err
	}
	var record diskUser
	if err := item.Value(func(value []byte) error {
		return cbor.Unmarshal(value, &record)
	}); err != nil {
		return nil, err
	}
	return &models.User{
		ID:           record.ID,
		Username:     record.Username,
		Email:        record.Email,
		PasswordHash: record.PasswordHash,
		CreatedAt:    time.Unix(0, record.CreatedAt).UTC(),
	}, nil
}

func getString(txn *badger.Txn, key []byte) (string, error) {
	item, err := txn.Get(key)
	if err != nil {
		return "", err
	}
	value, err := item.ValueCopy(nil)
	return string(value), err
}

func fromMessage(msg *models.Message) diskMessage {
	return diskMessage{
		ID:          msg.ID,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		Content:     msg.Content,
		Type:        msg.Type,
		ReplyTo:     msg.ReplyTo,
		Reactions:   msg.Reactions,
		Edited:      msg.Edited,
		CreatedAt:   msg.CreatedAt.UnixNano(),
		UpdatedAt:   msg.UpdatedAt.UnixNano(),
	}
}

func toMessage(record diskMessage) *models.Message {
	return &models.Message{
		ID:          record.ID,
		SenderID:    record.SenderID,
		RecipientID: record.RecipientID,
		Content:     record.Content,
		Type:        record.Type,
		ReplyTo:     record.ReplyTo,
		Reactions:   record.Reactions,
		Edited:      record.Edited,
		CreatedAt:   time.Unix(0, record.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, record.UpdatedAt).UTC(),
	}
}

package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"aide0/app/core/orchestrator/db"
	"aide0/app/pkg/types"
)

// Store is the append-only conversation turn log.
type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

func (s *Store) Append(ctx context.Context, turn types.ConversationTurn) (types.ConversationTurn, error) {
	if strings.TrimSpace(turn.UserID) == "" {
		return types.ConversationTurn{}, fmt.Errorf("user_id is required")
	}
	if strings.TrimSpace(turn.ConversationID) == "" {
		return types.ConversationTurn{}, fmt.Errorf("conversation_id is required")
	}
	switch turn.Role {
	case types.RoleUser, types.RoleAssistant, types.RoleSystem:
	default:
		return types.ConversationTurn{}, fmt.Errorf("invalid role: %s", turn.Role)
	}

	if strings.TrimSpace(turn.ID) == "" {
		turn.ID = "turn-" + uuid.NewString()
	}
	if turn.CreatedAt == 0 {
		turn.CreatedAt = time.Now().Unix()
	}

	var actionsJSON []byte
	if len(turn.Actions) > 0 {
		encoded, err := json.Marshal(turn.Actions)
		if err != nil {
			return types.ConversationTurn{}, fmt.Errorf("encode actions: %w", err)
		}
		actionsJSON = encoded
	}

	query := `INSERT INTO turns (id, conversation_id, user_id, role, content, actions, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.Conn().ExecContext(ctx, query, turn.ID, turn.ConversationID, turn.UserID, turn.Role, turn.Content, actionsJSON, turn.CreatedAt); err != nil {
		return types.ConversationTurn{}, err
	}
	return turn, nil
}

// LoadRecent returns the newest turns of a conversation in chronological
// order. Turns whose actions column cannot be decoded are kept with empty
// actions rather than failing the load.
func (s *Store) LoadRecent(ctx context.Context, userID string, conversationID string, limit int) ([]types.ConversationTurn, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT id, conversation_id, user_id, role, content, COALESCE(actions, ''), created_at
FROM turns WHERE conversation_id = ? AND user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := s.db.Conn().QueryContext(ctx, query, conversationID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]types.ConversationTurn, 0, limit)
	for rows.Next() {
		var (
			turn    types.ConversationTurn
			actions string
		)
		if err := rows.Scan(&turn.ID, &turn.ConversationID, &turn.UserID, &turn.Role, &turn.Content, &actions, &turn.CreatedAt); err != nil {
			return nil, err
		}
		if strings.TrimSpace(actions) != "" {
			if err := json.Unmarshal([]byte(actions), &turn.Actions); err != nil {
				turn.Actions = nil
			}
		}
		items = append(items, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// reverse into chronological order
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

package history

import (
	"context"
	"fmt"
	"testing"

	"aide0/app/core/orchestrator/db"
	"aide0/app/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.NewSQLiteDB(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database)
}

func TestAppendAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appended, err := s.Append(ctx, types.ConversationTurn{
		ConversationID: "c1",
		UserID:         "u1",
		Role:           types.RoleAssistant,
		Content:        "Created your task.",
		Actions: []types.Action{
			{Type: "task", Data: map[string]interface{}{"id": "t1", "title": "Buy milk"}},
		},
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if appended.ID == "" || appended.CreatedAt == 0 {
		t.Fatalf("append should assign id and timestamp: %+v", appended)
	}

	turns, err := s.LoadRecent(ctx, "u1", "c1", 10)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	if len(turns[0].Actions) != 1 || turns[0].Actions[0].ID() != "t1" {
		t.Fatalf("actions not round-tripped: %+v", turns[0].Actions)
	}
}

func TestAppendValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cases := []types.ConversationTurn{
		{ConversationID: "c1", Role: types.RoleUser, Content: "no user"},
		{UserID: "u1", Role: types.RoleUser, Content: "no conversation"},
		{ConversationID: "c1", UserID: "u1", Role: "robot", Content: "bad role"},
	}
	for _, turn := range cases {
		if _, err := s.Append(ctx, turn); err == nil {
			t.Fatalf("expected validation error for %+v", turn)
		}
	}
}

func TestLoadRecentReturnsNewestWindowInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		if _, err := s.Append(ctx, types.ConversationTurn{
			ConversationID: "c1",
			UserID:         "u1",
			Role:           role,
			Content:        fmt.Sprintf("turn %02d", i),
			CreatedAt:      int64(1000 + i),
		}); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	turns, err := s.LoadRecent(ctx, "u1", "c1", 10)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(turns) != 10 {
		t.Fatalf("expected 10 turns, got %d", len(turns))
	}
	if turns[0].Content != "turn 05" || turns[9].Content != "turn 14" {
		t.Fatalf("unexpected window: first=%q last=%q", turns[0].Content, turns[9].Content)
	}
	for i := 1; i < len(turns); i++ {
		if turns[i].CreatedAt < turns[i-1].CreatedAt {
			t.Fatalf("turns not chronological at %d", i)
		}
	}
}

func TestLoadRecentScopesByConversationAndUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _ = s.Append(ctx, types.ConversationTurn{ConversationID: "c1", UserID: "u1", Role: types.RoleUser, Content: "mine"})
	_, _ = s.Append(ctx, types.ConversationTurn{ConversationID: "c2", UserID: "u1", Role: types.RoleUser, Content: "other conversation"})
	_, _ = s.Append(ctx, types.ConversationTurn{ConversationID: "c1", UserID: "u2", Role: types.RoleUser, Content: "other user"})

	turns, err := s.LoadRecent(ctx, "u1", "c1", 10)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(turns) != 1 || turns[0].Content != "mine" {
		t.Fatalf("scoping leaked turns: %+v", turns)
	}
}

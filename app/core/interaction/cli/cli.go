package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"aide0/app/pkg/types"
)

// Channel is a local stdin loop for driving the orchestrator without a
// network client. One conversation per process run.
type Channel struct {
	id     string
	userID string
}

func NewChannel(userID string) *Channel {
	if strings.TrimSpace(userID) == "" {
		userID = "local_user"
	}
	return &Channel{id: "cli", userID: userID}
}

func (c *Channel) ID() string {
	return c.id
}

func (c *Channel) Start(ctx context.Context, handler func(context.Context, types.ChatRequest) types.ChatResult) error {
	scanner := bufio.NewScanner(os.Stdin)
	conversationID := fmt.Sprintf("cli-%d", time.Now().UnixNano())
	fmt.Println(">> Aide0 CLI started. Type 'exit' to quit.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			fmt.Print("> ")
			if !scanner.Scan() {
				return nil
			}
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			if text == "exit" || text == "quit" {
				fmt.Println("Exiting CLI loop...")
				return nil
			}

			result := handler(ctx, types.ChatRequest{
				Message:        text,
				UserID:         c.userID,
				ConversationID: conversationID,
				Now:            time.Now(),
			})
			if result.Err != nil {
				fmt.Printf("[Aide0] error: %v\n", result.Err)
				continue
			}
			fmt.Printf("[Aide0]: %s\n", result.Response)
			for _, action := range result.Actions {
				if id := action.ID(); id != "" {
					fmt.Printf("  - %s %s (%s)\n", action.Type, action.Title(), id)
				}
			}
		}
	}
}

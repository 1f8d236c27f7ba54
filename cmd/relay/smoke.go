package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/roomrelay/internal/proto"
)

type smokeOptions struct {
	addr    string
	room    string
	sender  string
	text    string
	timeout time.Duration
}

// newSmokeCmd joins a room with two sessions and checks that a chat crosses between them.
func newSmokeCmd() *cobra.Command {
	opts := &smokeOptions{}

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Send a chat through a running relay and verify delivery",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return runSmoke(ctx, cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "ws://localhost:8080/ws", "WebSocket address")
	cmd.Flags().StringVar(&opts.room, "room", "lobby", "room id")
	cmd.Flags().StringVar(&opts.sender, "sender", "smoke", "sender display name")
	cmd.Flags().StringVar(&opts.text, "text", "hello from smoke test", "message text to send")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "total timeout for the run")
	return cmd
}

func runSmoke(ctx context.Context, cmd *cobra.Command, opts *smokeOptions) error {
	sender, _, err := websocket.Dial(ctx, opts.addr, nil)
	if err != nil {
		return fmt.Errorf("dial sender: %w", err)
	}
	defer sender.Close(websocket.StatusNormalClosure, "bye")

	receiver, _, err := websocket.Dial(ctx, opts.addr, nil)
	if err != nil {
		return fmt.Errorf("dial receiver: %w", err)
	}
	defer receiver.Close(websocket.StatusNormalClosure, "bye")

	join := proto.Inbound{Type: proto.TypeJoin, RoomID: opts.room}
	for _, conn := range []*websocket.Conn{sender, receiver} {
		if err := wsjson.Write(ctx, conn, join); err != nil {
			return fmt.Errorf("send join: %w", err)
		}
	}

	id, err := json.Marshal(uuid.NewString())
	if err != nil {
		return fmt.Errorf("marshal id: %w", err)
	}
	from, err := json.Marshal(opts.sender)
	if err != nil {
		return fmt.Errorf("marshal sender: %w", err)
	}
	text, err := json.Marshal(opts.text)
	if err != nil {
		return fmt.Errorf("marshal text: %w", err)
	}
	ts, err := json.Marshal(time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("marshal timestamp: %w", err)
	}
	chat := proto.Inbound{Type: proto.TypeChat, ID: id, Sender: from, Text: text, Timestamp: ts}

	// Joins are processed asynchronously; resend until the receiver sees the chat.
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	received := make(chan proto.Chat, 1)
	readErr := make(chan error, 1)
	go func() {
		var out proto.Chat
		if err := wsjson.Read(ctx, receiver, &out); err != nil {
			readErr <- err
			return
		}
		received <- out
	}()

	for {
		if err := wsjson.Write(ctx, sender, chat); err != nil {
			return fmt.Errorf("send chat: %w", err)
		}
		select {
		case out := <-received:
			cmd.Printf("received chat: room=%s sender=%s text=%s id=%s\n", out.RoomID, out.Sender, out.Text, out.ID)
			return nil
		case err := <-readErr:
			return fmt.Errorf("read: %w", err)
		case <-ticker.C:
		}
	}
}

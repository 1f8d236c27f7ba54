package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/roomrelay/internal/proto"
)

type chatOptions struct {
	addr string
	room string
	name string
}

// newChatCmd is an interactive line-based client. "/join <room>" switches rooms.
func newChatCmd() *cobra.Command {
	opts := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive console client for a running relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "ws://localhost:8080/ws", "WebSocket address")
	cmd.Flags().StringVar(&opts.room, "room", "lobby", "room to join")
	cmd.Flags().StringVar(&opts.name, "name", "cli-user", "display name")
	return cmd
}

func runChat(parent context.Context, cmd *cobra.Command, opts *chatOptions) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, opts.addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.TypeJoin, RoomID: opts.room}); err != nil {
		return fmt.Errorf("send join: %w", err)
	}

	cmd.Printf("Connected to %s as %s in room %s\n", opts.addr, opts.name, opts.room)
	cmd.Println("Type messages and press Enter to send. /join <room> switches rooms. Ctrl+C to exit.")

	go func() {
		defer cancel()
		if err := chatReadLoop(ctx, conn, cmd.OutOrStdout()); err != nil {
			cmd.PrintErrf("read error: %v\n", err)
		}
	}()

	return chatWriteLoop(ctx, conn, cmd.InOrStdin(), opts.name)
}

func chatReadLoop(ctx context.Context, conn *websocket.Conn, out io.Writer) error {
	for {
		var msg proto.Chat
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return err
		}
		fmt.Fprintln(out, formatChat(msg))
	}
}

func chatWriteLoop(ctx context.Context, conn *websocket.Conn, in io.Reader, name string) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			env, ok, err := parseLine(line, name, time.Now())
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := wsjson.Write(ctx, conn, env); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
	}
}

// parseLine turns one line of console input into an envelope.
func parseLine(line, name string, now time.Time) (proto.Inbound, bool, error) {
	text := strings.TrimSpace(line)
	if text == "" {
		return proto.Inbound{}, false, nil
	}
	if room, found := strings.CutPrefix(text, "/join "); found {
		room = strings.TrimSpace(room)
		if room == "" {
			return proto.Inbound{}, false, nil
		}
		return proto.Inbound{Type: proto.TypeJoin, RoomID: room}, true, nil
	}

	fields := []any{uuid.NewString(), name, text, now.UnixMilli()}
	raw := make([]json.RawMessage, len(fields))
	for i, f := range fields {
		data, err := json.Marshal(f)
		if err != nil {
			return proto.Inbound{}, false, fmt.Errorf("marshal chat field: %w", err)
		}
		raw[i] = data
	}
	return proto.Inbound{Type: proto.TypeChat, ID: raw[0], Sender: raw[1], Text: raw[2], Timestamp: raw[3]}, true, nil
}

func formatChat(msg proto.Chat) string {
	var sender, text string
	if err := json.Unmarshal(msg.Sender, &sender); err != nil {
		sender = string(msg.Sender)
	}
	if err := json.Unmarshal(msg.Text, &text); err != nil {
		text = string(msg.Text)
	}
	return fmt.Sprintf("[%s] %s: %s", msg.RoomID, sender, text)
}

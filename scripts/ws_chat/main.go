package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirerelay-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	identity := flag.String("identity", "cli-user", "identity to register")
	token := flag.String("token", "", "JWT from /api/login")
	peer := flag.String("to", "", "identity to chat with")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := send(ctx, conn, proto.InboundTypeRegister, proto.RegisterData{
		Identity: *identity,
		Token:    *token,
		Protocol: proto.ProtocolVersion,
	}); err != nil {
		return err
	}

	fmt.Printf("Connected to %s as %s\n", *addr, *identity)
	fmt.Println("Commands: /to <identity>, /presence <identity>, /read <message_id>, /react <message_id> <emoji>. Other lines are sent as messages.")

	go func() {
		defer cancel()
		readLoop(ctx, conn, *identity)
	}()

	writeLoop(ctx, conn, *peer)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func send(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

type outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func readLoop(ctx context.Context, conn *websocket.Conn, self string) {
	for {
		var out outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		if out.Type == proto.OutboundTypeError && out.Error != nil {
			fmt.Printf("! %s (%s): %s\n", out.Error.Code, out.Error.Context, out.Error.Msg)
			continue
		}

		switch out.Event {
		case "message_received":
			var msg proto.EventMessage
			if json.Unmarshal(out.Data, &msg) == nil {
				fmt.Printf("[%s] %s: %s  (id %s)\n", time.UnixMilli(msg.TS).Format(time.Kitchen), msg.From, msg.Body, msg.ID)
				// Auto-acknowledge reading.
				if msg.To == self {
					_ = send(ctx, conn, proto.InboundTypeMarkRead, proto.MessageRefData{MessageID: msg.ID})
				}
			}
		case "delivery_ack", "read_receipt", "message_deleted":
			var ref proto.EventMessageRef
			if json.Unmarshal(out.Data, &ref) == nil {
				fmt.Printf("* %s %s\n", out.Event, ref.MessageID)
			}
		case "presence_changed", "presence_status":
			var p proto.EventPresence
			if json.Unmarshal(out.Data, &p) == nil {
				state := "offline"
				if p.Online {
					state = "online"
				} else if p.LastSeen != nil {
					state = "last seen " + time.UnixMilli(*p.LastSeen).Format(time.RFC822)
				}
				fmt.Printf("* %s is %s\n", p.Identity, state)
			}
		case "typing_changed":
			var ty proto.EventTyping
			if json.Unmarshal(out.Data, &ty) == nil && ty.IsTyping {
				fmt.Printf("* %s is typing...\n", ty.From)
			}
		default:
			fmt.Printf("event=%s data=%s\n", out.Event, out.Data)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, peer string) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			var err error
			fields := strings.Fields(text)
			switch {
			case fields[0] == "/to" && len(fields) == 2:
				peer = fields[1]
				fmt.Printf("* chatting with %s\n", peer)
			case fields[0] == "/presence" && len(fields) == 2:
				err = send(ctx, conn, proto.InboundTypeQueryPresence, proto.QueryPresenceData{Identity: fields[1]})
			case fields[0] == "/read" && len(fields) == 2:
				err = send(ctx, conn, proto.InboundTypeMarkRead, proto.MessageRefData{MessageID: fields[1]})
			case fields[0] == "/react" && len(fields) == 3:
				err = send(ctx, conn, proto.InboundTypeAddReaction, proto.ReactionData{MessageID: fields[1], Emoji: fields[2]})
			case peer == "":
				fmt.Println("* pick a peer first with /to <identity>")
			default:
				err = send(ctx, conn, proto.InboundTypeSendMessage, proto.SendMessageData{To: peer, Body: text})
			}
			if err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirerelay-server/internal/proto"
)

// ws_smoke registers two identities, sends a message from one to the other
// and waits for delivery and read receipts.
func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	from := flag.String("from", "smoke-sender", "sender identity")
	to := flag.String("to", "smoke-recipient", "recipient identity")
	body := flag.String("text", "hello from smoke test", "message body")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sender := dialAndRegister(ctx, *addr, *from)
	defer sender.Close(websocket.StatusNormalClosure, "done")
	recipient := dialAndRegister(ctx, *addr, *to)
	defer recipient.Close(websocket.StatusNormalClosure, "done")

	// Give the server a moment to bind both identities.
	time.Sleep(100 * time.Millisecond)

	write(ctx, sender, proto.InboundTypeSendMessage, proto.SendMessageData{To: *to, Body: *body})

	var msg proto.EventMessage
	waitFor(ctx, recipient, "message_received", &msg)
	log.Printf("recipient got %q from %s (id %s)", msg.Body, msg.From, msg.ID)

	var ack proto.EventMessageRef
	waitFor(ctx, sender, "delivery_ack", &ack)
	log.Printf("sender got delivery_ack for %s", ack.MessageID)

	write(ctx, recipient, proto.InboundTypeMarkRead, proto.MessageRefData{MessageID: msg.ID})
	var receipt proto.EventMessageRef
	waitFor(ctx, sender, "read_receipt", &receipt)
	log.Printf("sender got read_receipt for %s", receipt.MessageID)

	fmt.Println("smoke test passed")
}

func dialAndRegister(ctx context.Context, addr, identity string) *websocket.Conn {
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", identity, err)
	}
	write(ctx, conn, proto.InboundTypeRegister, proto.RegisterData{Identity: identity, Protocol: proto.ProtocolVersion})
	return conn
}

func write(ctx context.Context, conn *websocket.Conn, typ string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		log.Fatalf("write %s: %v", typ, err)
	}
}

func waitFor(ctx context.Context, conn *websocket.Conn, event string, out any) {
	for {
		var outbound struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			log.Fatalf("waiting for %s: %v", event, err)
		}
		if outbound.Error != nil {
			log.Fatalf("server error while waiting for %s: %+v", event, *outbound.Error)
		}
		if outbound.Event != event {
			continue
		}
		if err := json.Unmarshal(outbound.Data, out); err != nil {
			log.Fatalf("decode %s: %v", event, err)
		}
		return
	}
}

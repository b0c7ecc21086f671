package core

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func benchmarkDirectDelivery(b *testing.B, bystanders int) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(newMemStore())
	go hub.Run(ctx)

	sender := NewClient("sender")
	hub.Connect(sender)
	sender.Commands <- &Command{Kind: CommandRegister, Identity: "sender"}

	target := NewClient("target")
	hub.Connect(target)
	target.Commands <- &Command{Kind: CommandRegister, Identity: "target"}

	for i := 0; i < bystanders; i++ {
		c := NewClient(fmt.Sprintf("c%d", i))
		hub.Connect(c)
		c.Commands <- &Command{Kind: CommandRegister, Identity: c.ID}
		go func(cl *Client) {
			for range cl.Events {
			}
		}(c)
	}

	// Drain acks so the sender buffer never fills.
	go func() {
		for range sender.Events {
		}
	}()

	for !hub.Registry().Owns("target", target) || !hub.Registry().Owns("sender", sender) {
		time.Sleep(time.Millisecond)
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		sender.Commands <- &Command{Kind: CommandSendMessage, To: "target", Body: "payload"}
		for ev := range target.Events {
			if ev.Kind == EventMessageReceived {
				break
			}
		}
	}
}

func BenchmarkDirectDelivery_NoBystanders(b *testing.B) {
	benchmarkDirectDelivery(b, 0)
}

func BenchmarkDirectDelivery_100Bystanders(b *testing.B) {
	benchmarkDirectDelivery(b, 100)
}

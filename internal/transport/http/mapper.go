package http

import (
	"encoding/json"
	"time"

	"github.com/vovakirdan/wirerelay-server/internal/core"
	"github.com/vovakirdan/wirerelay-server/internal/proto"
)

const (
	errCodeInvalidMessage     = "invalid_message"
	errCodeRateLimited        = "rate_limited"
	errCodeUnsupportedVersion = "unsupported_version"
)

func protoError(code, msg, context string) *proto.Error {
	return &proto.Error{Code: code, Msg: msg, Context: context}
}

// inboundToCommand decodes a client envelope. Malformed payloads produce a
// protocol error for the client instead of closing the connection.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	decode := func(v any) *proto.Error {
		if len(inbound.Data) == 0 {
			return protoError(core.ErrCodeBadRequest, "data is required", inbound.Type)
		}
		if err := json.Unmarshal(inbound.Data, v); err != nil {
			return protoError(core.ErrCodeBadRequest, "malformed data: "+err.Error(), inbound.Type)
		}
		return nil
	}

	switch inbound.Type {
	case proto.InboundTypeRegister:
		var data proto.RegisterData
		if perr := decode(&data); perr != nil {
			return nil, perr
		}
		if data.Protocol != 0 && data.Protocol != proto.ProtocolVersion {
			return nil, protoError(errCodeUnsupportedVersion, "unsupported protocol version", inbound.Type)
		}
		return &core.Command{Kind: core.CommandRegister, Identity: data.Identity, Token: data.Token}, nil
	case proto.InboundTypeSendMessage:
		var data proto.SendMessageData
		if perr := decode(&data); perr != nil {
			return nil, perr
		}
		return &core.Command{Kind: core.CommandSendMessage, To: data.To, Body: data.Body}, nil
	case proto.InboundTypeMarkRead:
		var data proto.MessageRefData
		if perr := decode(&data); perr != nil {
			return nil, perr
		}
		return &core.Command{Kind: core.CommandMarkRead, MessageID: data.MessageID}, nil
	case proto.InboundTypeTyping:
		var data proto.TypingData
		if perr := decode(&data); perr != nil {
			return nil, perr
		}
		return &core.Command{Kind: core.CommandTyping, To: data.To, IsTyping: data.IsTyping}, nil
	case proto.InboundTypeAddReaction:
		var data proto.ReactionData
		if perr := decode(&data); perr != nil {
			return nil, perr
		}
		return &core.Command{Kind: core.CommandAddReaction, MessageID: data.MessageID, Emoji: data.Emoji}, nil
	case proto.InboundTypeDeleteMessage:
		var data proto.MessageRefData
		if perr := decode(&data); perr != nil {
			return nil, perr
		}
		return &core.Command{Kind: core.CommandDeleteMessage, MessageID: data.MessageID}, nil
	case proto.InboundTypeQueryPresence:
		var data proto.QueryPresenceData
		if perr := decode(&data); perr != nil {
			return nil, perr
		}
		return &core.Command{Kind: core.CommandQueryPresence, Identity: data.Identity}, nil
	default:
		return nil, protoError(errCodeInvalidMessage, "unknown message type", inbound.Type)
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	name := event.Kind.String()

	switch event.Kind {
	case core.EventMessageReceived, core.EventMessageUpdated:
		return proto.Outbound{Type: proto.OutboundTypeEvent, Event: name, Data: messageToProto(event.Message)}
	case core.EventDeliveryAck, core.EventReadReceipt:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: name,
			Data: proto.EventMessageRef{
				MessageID: event.MessageID,
				From:      event.Message.From,
				To:        event.Message.To,
			},
		}
	case core.EventMessageDeleted:
		return proto.Outbound{Type: proto.OutboundTypeEvent, Event: name, Data: proto.EventMessageRef{MessageID: event.MessageID}}
	case core.EventPresenceChanged, core.EventPresenceStatus:
		if event.Presence == nil {
			break
		}
		return proto.Outbound{Type: proto.OutboundTypeEvent, Event: name, Data: presenceToProto(*event.Presence)}
	case core.EventTypingChanged:
		if event.Typing == nil {
			break
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: name,
			Data:  proto.EventTyping{From: event.Typing.From, IsTyping: event.Typing.IsTyping},
		}
	case core.EventProfileSnapshot:
		if event.Profile == nil {
			break
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: name,
			Data: proto.EventProfile{
				Identity:    event.Profile.Identity,
				DisplayName: event.Profile.DisplayName,
				LastSeen:    unixMilli(event.Profile.LastSeen),
				CreatedAt:   event.Profile.CreatedAt.UnixMilli(),
			},
		}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: protoError("unknown", "unknown error", "")}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: protoError(event.Error.Code, event.Error.Message, event.Error.Context),
		}
	}
	return proto.Outbound{Type: proto.OutboundTypeEvent, Event: name}
}

func messageToProto(msg core.Message) proto.EventMessage {
	out := proto.EventMessage{
		ID:        msg.ID,
		From:      msg.From,
		To:        msg.To,
		Body:      msg.Body,
		TS:        msg.CreatedAt.UnixMilli(),
		Delivered: msg.Delivered,
		Read:      msg.Read,
	}
	for _, r := range msg.Reactions {
		out.Reactions = append(out.Reactions, proto.Reaction{Emoji: r.Emoji, By: r.By, TS: r.CreatedAt.UnixMilli()})
	}
	return out
}

func presenceToProto(p core.PresenceEvent) proto.EventPresence {
	return proto.EventPresence{Identity: p.Identity, Online: p.Online, LastSeen: unixMilli(p.LastSeen)}
}

func unixMilli(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

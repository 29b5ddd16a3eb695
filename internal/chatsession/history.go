package chatsession

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"receipt-pipeline/server/internal/errors"
)

const (
	historyBatchSize = 100
	historyMaxBatches = 50
)

// FetchHistorySince pages through a chat's message history starting just
// after fromMessageID, ascending, capped at historyMaxBatches batches of
// historyBatchSize. It stops early on a short batch or once it has paged
// past fromMessageID, mirroring the catch-up loop's batch walk.
func (c *Client) FetchHistorySince(ctx context.Context, chatID int64, fromMessageID int64) ([]IncomingMessage, error) {
	peer, err := c.resolveInputPeer(ctx, chatID)
	if err != nil {
		return nil, err
	}

	var collected []IncomingMessage
	offsetID := 0

	for batch := 0; batch < historyMaxBatches; batch++ {
		history, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: offsetID,
			Limit:    historyBatchSize,
		})
		if err != nil {
			return nil, errors.New(errors.TransportUnavailable, "history fetch failed: "+err.Error())
		}

		msgs, chats, users := extractHistoryMessages(history)
		entities := tg.Entities{Channels: chats.channels, Chats: chats.chats, Users: users}
		c.rememberEntities(entities)

		if len(msgs) == 0 {
			break
		}

		oldestID := msgs[len(msgs)-1].ID
		newBatch := make([]IncomingMessage, 0, len(msgs))
		for _, m := range msgs {
			if int64(m.ID) <= fromMessageID {
				continue
			}
			im, ok := toIncomingMessage(m, entities)
			if ok {
				newBatch = append(newBatch, im)
			}
		}
		collected = append(collected, newBatch...)

		if len(msgs) < historyBatchSize || int64(oldestID) <= fromMessageID {
			break
		}
		offsetID = oldestID
	}

	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}

	return collected, nil
}

type resolvedEntities struct {
	channels map[int64]*tg.Channel
	chats    map[int64]*tg.Chat
}

func extractHistoryMessages(h tg.MessagesMessagesClass) ([]*tg.Message, resolvedEntities, map[int64]*tg.User) {
	var rawMsgs []tg.MessageClass
	var rawChats []tg.ChatClass
	var rawUsers []tg.UserClass

	switch v := h.(type) {
	case *tg.MessagesMessages:
		rawMsgs, rawChats, rawUsers = v.Messages, v.Chats, v.Users
	case *tg.MessagesMessagesSlice:
		rawMsgs, rawChats, rawUsers = v.Messages, v.Chats, v.Users
	case *tg.MessagesChannelMessages:
		rawMsgs, rawChats, rawUsers = v.Messages, v.Chats, v.Users
	}

	channels := make(map[int64]*tg.Channel)
	chats := make(map[int64]*tg.Chat)
	for _, ch := range rawChats {
		switch t := ch.(type) {
		case *tg.Channel:
			channels[t.ID] = t
		case *tg.Chat:
			chats[t.ID] = t
		}
	}

	users := make(map[int64]*tg.User)
	for _, u := range rawUsers {
		if user, ok := u.(*tg.User); ok {
			users[user.ID] = user
		}
	}

	var msgs []*tg.Message
	for _, m := range rawMsgs {
		if msg, ok := m.(*tg.Message); ok {
			msgs = append(msgs, msg)
		}
	}

	return msgs, resolvedEntities{channels: channels, chats: chats}, users
}

func toIncomingMessage(msg *tg.Message, entities tg.Entities) (IncomingMessage, bool) {
	chatID, kind, title := resolvePeer(msg.PeerID, entities)

	im := IncomingMessage{
		ChatID:    chatID,
		MessageID: msg.ID,
		Text:      msg.Message,
		ChatKind:  kind,
		ChatTitle: title,
	}

	if doc, ok := documentFromMedia(msg.Media); ok {
		im.HasDocument = true
		im.DocumentID = doc.ID
		im.AccessHash = doc.AccessHash
		im.FileReference = doc.FileReference
		im.MimeType = doc.MimeType
	}

	return im, true
}

// FetchMessage retrieves a single message by id, for the manual
// POST /process-receipt path where the admin names a (chat_id, message_id)
// the live/catch-up producers may not have captured (e.g. before the monitor
// was registered).
func (c *Client) FetchMessage(ctx context.Context, chatID, messageID int64) (IncomingMessage, error) {
	peer, err := c.resolveInputPeer(ctx, chatID)
	if err != nil {
		return IncomingMessage{}, err
	}

	id := []tg.InputMessageClass{&tg.InputMessageID{ID: int(messageID)}}

	var result tg.MessagesMessagesClass
	if channelPeer, ok := peer.(*tg.InputPeerChannel); ok {
		result, err = c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: channelPeer.ChannelID, AccessHash: channelPeer.AccessHash},
			ID:      id,
		})
	} else {
		result, err = c.api.MessagesGetMessages(ctx, id)
	}
	if err != nil {
		return IncomingMessage{}, errors.New(errors.TransportUnavailable, "message fetch failed: "+err.Error())
	}

	msgs, chats, users := extractHistoryMessages(result)
	if len(msgs) == 0 {
		return IncomingMessage{}, errors.New(errors.NotFound, "message not found")
	}

	entities := tg.Entities{Channels: chats.channels, Chats: chats.chats, Users: users}
	c.rememberEntities(entities)
	im, ok := toIncomingMessage(msgs[0], entities)
	if !ok {
		return IncomingMessage{}, errors.New(errors.NotFound, "message not found")
	}
	return im, nil
}

// resolveInputPeer mirrors resolvePeer's channel/chat/user branching: a
// channel/supergroup whose access hash was learned from a prior update or
// history page resolves to InputPeerChannel, a known user to InputPeerUser,
// and everything else falls back to the basic-group InputPeerChat.
func (c *Client) resolveInputPeer(ctx context.Context, chatID int64) (tg.InputPeerClass, error) {
	if hash, ok := c.channelHash.Load(chatID); ok {
		return &tg.InputPeerChannel{ChannelID: chatID, AccessHash: hash.(int64)}, nil
	}

	full, err := c.api.UsersGetUsers(ctx, []tg.InputUserClass{&tg.InputUser{UserID: chatID}})
	if err == nil && len(full) > 0 {
		return &tg.InputPeerUser{UserID: chatID}, nil
	}
	return &tg.InputPeerChat{ChatID: chatID}, nil
}

// DownloadDocumentByLocation downloads a document attachment (e.g. a PDF
// receipt) given its id/access-hash/file-reference into dir, returning the
// path written. Limited to 60s per §4.4. Taking the location fields directly
// (rather than a full *tg.Document) lets callers that only retained an
// IncomingMessage's document fields — not the original update — still
// download the file.
func (c *Client) DownloadDocumentByLocation(ctx context.Context, id, accessHash int64, fileReference []byte, dir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.New(errors.TransientStorage, "failed to create download dir: "+err.Error())
	}

	path := filepath.Join(dir, fmt.Sprintf("%d.pdf", id))
	f, err := os.Create(path)
	if err != nil {
		return "", errors.New(errors.TransientStorage, "failed to create download file: "+err.Error())
	}
	defer f.Close()

	loc := &tg.InputDocumentFileLocation{
		ID:            id,
		AccessHash:    accessHash,
		FileReference: fileReference,
	}

	d := downloader.NewDownloader()
	if _, err := d.Download(c.api, loc).Stream(ctx, f); err != nil {
		return "", errors.New(errors.NotFound, "document download failed: "+err.Error())
	}

	return path, nil
}

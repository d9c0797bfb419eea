package adapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"golang.org/x/time/rate"

	"svoi_ingest/internal/model"
)

const liveBatchSize = 100 // MTProto history page cap

// Live reads channel history through an authenticated MTProto session.
// It must be used inside the telegram client's Run closure; cmd/import
// wires the whole pipeline into that scope.
type Live struct {
	api  *tg.Client
	log  *slog.Logger
	pace *rate.Limiter

	mu     sync.Mutex
	photos map[string]*tg.InputPhotoFileLocation
}

// NewLive creates an adapter over an established MTProto API client.
func NewLive(api *tg.Client, log *slog.Logger) *Live {
	return &Live{
		api:    api,
		log:    log,
		pace:   rate.NewLimiter(rate.Every(3*time.Second), 2),
		photos: make(map[string]*tg.InputPhotoFileLocation),
	}
}

// Name identifies the adapter in reports and logs.
func (l *Live) Name() string { return "live" }

// Fetch resolves the channel username and pages through its history
// newest-first up to the limit. A failed history request ends the channel
// early without losing already-fetched posts.
func (l *Live) Fetch(ctx context.Context, channel string, opts FetchOptions) ([]model.RawPost, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 200
	}

	peer, err := l.resolve(ctx, channel)
	if err != nil {
		return nil, err
	}

	offsetID := int(opts.BeforeID)
	var posts []model.RawPost
	for len(posts) < limit {
		if err := l.pace.Wait(ctx); err != nil {
			return posts, err
		}

		batch := limit - len(posts)
		if batch > liveBatchSize {
			batch = liveBatchSize
		}
		res, err := l.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: offsetID,
			Limit:    batch,
		})
		if err != nil {
			l.log.Error("get history", "channel", channel, "offset_id", offsetID, "error", err)
			break
		}

		msgs := historyMessages(res)
		if len(msgs) == 0 {
			break
		}
		progressed := false
		for _, m := range msgs {
			id := messageID(m)
			if id == 0 {
				continue
			}
			if offsetID == 0 || id < offsetID {
				offsetID = id
				progressed = true
			}
			if msg, ok := m.(*tg.Message); ok {
				posts = append(posts, l.toRawPost(channel, msg))
			}
		}
		if !progressed {
			break
		}
	}
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

// OpenPhoto downloads the post's photo through the MTProto file API.
func (l *Live) OpenPhoto(ctx context.Context, post model.RawPost) (io.ReadCloser, error) {
	l.mu.Lock()
	loc, ok := l.photos[post.PhotoRef]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown photo reference %q", post.PhotoRef)
	}

	var buf bytes.Buffer
	if _, err := downloader.NewDownloader().Download(l.api, loc).Stream(ctx, &buf); err != nil {
		return nil, fmt.Errorf("download photo: %w", err)
	}
	return io.NopCloser(&buf), nil
}

func (l *Live) resolve(ctx context.Context, channel string) (tg.InputPeerClass, error) {
	res, err := l.api.ContactsResolveUsername(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("resolve channel %q: %w", channel, err)
	}
	for _, c := range res.Chats {
		if ch, ok := c.(*tg.Channel); ok {
			return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}, nil
		}
	}
	return nil, fmt.Errorf("username %q is not a channel", channel)
}

func (l *Live) toRawPost(channel string, msg *tg.Message) model.RawPost {
	post := model.RawPost{
		Channel:    channel,
		MessageID:  int64(msg.ID),
		Text:       msg.Message,
		PostedAt:   time.Unix(int64(msg.Date), 0),
		AuthorName: msg.PostAuthor,
	}
	if peer, ok := msg.FromID.(*tg.PeerUser); ok {
		post.AuthorID = peer.UserID
	}

	if media, ok := msg.Media.(*tg.MessageMediaPhoto); ok {
		if photo, ok := media.Photo.(*tg.Photo); ok {
			if thumb := largestPhotoSize(photo); thumb != "" {
				ref := fmt.Sprintf("%s/%d", channel, msg.ID)
				l.mu.Lock()
				l.photos[ref] = &tg.InputPhotoFileLocation{
					ID:            photo.ID,
					AccessHash:    photo.AccessHash,
					FileReference: photo.FileReference,
					ThumbSize:     thumb,
				}
				l.mu.Unlock()
				post.PhotoRef = ref
			}
		}
	}
	return post
}

// largestPhotoSize picks the thumb type with the most pixels.
func largestPhotoSize(photo *tg.Photo) string {
	var best string
	var bestArea int
	for _, s := range photo.Sizes {
		switch size := s.(type) {
		case *tg.PhotoSize:
			if a := size.W * size.H; a > bestArea {
				best, bestArea = size.Type, a
			}
		case *tg.PhotoSizeProgressive:
			if a := size.W * size.H; a > bestArea {
				best, bestArea = size.Type, a
			}
		}
	}
	return best
}

func historyMessages(res tg.MessagesMessagesClass) []tg.MessageClass {
	switch v := res.(type) {
	case *tg.MessagesChannelMessages:
		return v.Messages
	case *tg.MessagesMessagesSlice:
		return v.Messages
	case *tg.MessagesMessages:
		return v.Messages
	default:
		return nil
	}
}

func messageID(m tg.MessageClass) int {
	switch v := m.(type) {
	case *tg.Message:
		return v.ID
	case *tg.MessageService:
		return v.ID
	case *tg.MessageEmpty:
		return v.ID
	default:
		return 0
	}
}

package feed

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"telegag/internal/reddit"
	kit "telegag/internal/transport"
	logx "telegag/pkg/logx"
)

// MediaKind is the delivery action chosen for a post.
type MediaKind string

const (
	KindVideo       MediaKind = "video"
	KindAnimation   MediaKind = "animation"
	KindStaticImage MediaKind = "photo"
)

// Classify picks exactly one delivery action for a post, in strict priority
// order: native video, then video preview, then static image. The returned
// URL is the payload location for that action.
func Classify(p reddit.Post) (MediaKind, string) {
	if p.Media != nil && p.Media.RedditVideo != nil {
		u := p.Media.RedditVideo.FallbackURL
		if u == "" && p.Preview != nil && p.Preview.RedditVideoPreview != nil {
			u = p.Preview.RedditVideoPreview.FallbackURL
		}
		return KindVideo, u
	}
	if p.Preview != nil && p.Preview.RedditVideoPreview != nil {
		return KindAnimation, p.Preview.RedditVideoPreview.FallbackURL
	}
	return KindStaticImage, p.URL
}

// Caption renders the per-post caption.
func Caption(p reddit.Post) string {
	return fmt.Sprintf("%d likes, %d comments", p.Ups, p.NumComments)
}

// Dispatcher sends classified posts to a chat. It holds no per-post state;
// the shared limiter keeps outbound sends under Telegram's flood limits.
type Dispatcher struct {
	ad      kit.Adapter
	limiter *rate.Limiter
	log     logx.Logger
}

func NewDispatcher(ad kit.Adapter, ratePerSec int, log logx.Logger) *Dispatcher {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		ad:      ad,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		log:     log,
	}
}

// Deliver sends one post to chatID, attempting exactly one media kind.
// It reports the kind it attempted; a transport failure is returned to the
// caller, who is expected to continue with the rest of the batch.
func (d *Dispatcher) Deliver(ctx context.Context, chatID int64, p reddit.Post) (MediaKind, error) {
	kind, url := Classify(p)
	if err := d.limiter.Wait(ctx); err != nil {
		return kind, err
	}
	caption := Caption(p)
	to := kit.ChatTarget{ChatID: chatID}

	var err error
	switch kind {
	case KindVideo:
		err = d.ad.SendVideo(ctx, to, url, caption)
	case KindAnimation:
		err = d.ad.SendAnimation(ctx, to, url, caption)
	default:
		err = d.ad.SendPhoto(ctx, to, url, caption)
	}
	if err != nil {
		return kind, fmt.Errorf("send %s %s: %w", kind, p.ID, err)
	}

	d.log.Debug("post delivered",
		logx.Int64("chat", chatID),
		logx.String("post", p.ID),
		logx.String("kind", string(kind)),
	)
	return kind, nil
}

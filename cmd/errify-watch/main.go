// Command errify-watch follows the real-time feed of an errify server and
// logs every event together with the locally projected post state.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/errify/internal/domain"
	"github.com/pscheid92/errify/internal/platform/correlation"
	"github.com/pscheid92/errify/internal/platform/logging"
	"github.com/pscheid92/errify/internal/platform/version"
	"github.com/pscheid92/errify/internal/subscriber"
)

const seedTimeout = 10 * time.Second

// eventRef pulls the post id out of any event payload.
type eventRef struct {
	PostID uuid.UUID `json:"postId"`
	Post   struct {
		ID uuid.UUID `json:"id"`
	} `json:"post"`
}

func (r eventRef) id() uuid.UUID {
	if r.PostID != uuid.Nil {
		return r.PostID
	}
	return r.Post.ID
}

func main() {
	var (
		wsURL      = flag.String("url", envOr("ERRIFY_WS_URL", "ws://localhost:5001/ws"), "WebSocket endpoint (or set ERRIFY_WS_URL)")
		apiURL     = flag.String("api", os.Getenv("ERRIFY_API_URL"), "REST base URL used to seed the feed, e.g. http://localhost:5001 (optional)")
		posts      = flag.String("posts", "", "Comma-separated post ids to follow for likes and comments")
		rooms      = flag.String("rooms", "", "Comma-separated raw room keys to join, e.g. post:<id>")
		maxRetries = flag.Int("max-retries", 5, "Reconnect attempts before giving up")
		backoff    = flag.Duration("backoff", time.Second, "Delay between reconnect attempts")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "text", "Log format (text, json)")
	)
	flag.Parse()

	logging.InitLogger(*logLevel, *logFormat)

	view := subscriber.NewView()
	if *apiURL != "" {
		if err := seed(view, *apiURL); err != nil {
			log.Fatalf("Failed to seed feed: %v", err)
		}
		slog.Info("Feed seeded", "posts", len(view.Feed()))
	}

	sub := subscriber.New(subscriber.Options{
		URL:        *wsURL,
		Header:     http.Header{"User-Agent": []string{version.UserAgent()}},
		MaxRetries: *maxRetries,
		Backoff:    *backoff,
		Logger:     logging.Component("subscriber"),
		OnStateChange: func(s subscriber.State) {
			slog.Info("Connection state changed", "state", s.String())
		},
	})

	for _, room := range parseRooms(*posts, *rooms) {
		if err := sub.Join(room); err != nil {
			log.Fatalf("Invalid room %q: %v", room, err)
		}
	}

	detach := view.Attach(sub)
	defer detach()
	for _, kind := range domain.EventKinds() {
		sub.On(kind, func(ev domain.Event) { report(view, ev) })
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sub.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	slog.Info("Watching", "url", *wsURL, "rooms", sub.Rooms())

	<-ctx.Done()
	if err := sub.Close(); err != nil {
		slog.Warn("Close failed", "error", err)
	}
}

// parseRooms maps post ids to their rooms and passes raw room keys through.
func parseRooms(postIDs, rawRooms string) []domain.Room {
	var out []domain.Room
	for _, id := range splitList(postIDs) {
		out = append(out, domain.RoomFor(domain.EntityPost, id))
	}
	for _, raw := range splitList(rawRooms) {
		out = append(out, domain.Room(raw))
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func report(view *subscriber.View, ev domain.Event) {
	attrs := []any{"kind", ev.Kind, "at", ev.Timestamp.Format(time.RFC3339)}

	var ref eventRef
	if err := json.Unmarshal(ev.Payload, &ref); err == nil && ref.id() != uuid.Nil {
		attrs = append(attrs, "post_id", ref.id())
		if state, ok := view.Post(ref.id()); ok {
			attrs = append(attrs,
				"title", state.Post.Title,
				"likes", state.LikeCount,
				"comments", state.CommentCount,
				"deleted", state.Deleted,
			)
		}
	}
	attrs = append(attrs, "feed_size", len(view.Feed()))

	slog.Info("Event", attrs...)
}

func seed(view *subscriber.View, apiURL string) error {
	target, err := url.JoinPath(apiURL, "/api/posts")
	if err != nil {
		return fmt.Errorf("invalid api url: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), seedTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+"?limit="+fmt.Sprint(domain.MaxPageSize), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set(correlation.Header, correlation.NewID())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch posts: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch posts: unexpected status %s", resp.Status)
	}

	var page domain.PostPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return fmt.Errorf("decode posts: %w", err)
	}
	view.Seed(page.Posts)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

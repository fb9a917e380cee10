package subscriber

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/pscheid92/errify/internal/domain"
)

// PostState is what a client knows about one post from the event stream.
type PostState struct {
	Post         domain.Post
	LikeCount    int
	CommentCount int
	Comments     []domain.Comment
	Deleted      bool
}

// View is a local projection updated from events without re-fetching.
type View struct {
	mu    sync.RWMutex
	posts map[uuid.UUID]*PostState
	feed  []uuid.UUID
}

func NewView() *View {
	return &View{posts: make(map[uuid.UUID]*PostState)}
}

// Seed loads posts fetched over REST, newest first.
func (v *View) Seed(posts []domain.Post) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, p := range posts {
		if _, ok := v.posts[p.ID]; ok {
			continue
		}
		v.posts[p.ID] = &PostState{Post: p, LikeCount: p.LikeCount, CommentCount: p.CommentCount}
		v.feed = append(v.feed, p.ID)
	}
}

// Attach registers the view on every event kind of s. The returned function
// detaches it again.
func (v *View) Attach(s *Subscriber) (detach func()) {
	unsubs := make([]func(), 0, len(domain.EventKinds()))
	for _, kind := range domain.EventKinds() {
		unsubs = append(unsubs, s.On(kind, func(ev domain.Event) {
			if err := v.Apply(ev); err != nil {
				s.logger.Warn("View update failed", "kind", ev.Kind, "error", err)
			}
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (v *View) Apply(ev domain.Event) error {
	switch ev.Kind {
	case domain.KindNewPost:
		var p domain.PostCreatedPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		v.addPost(p.Post)

	case domain.KindPostUpdated:
		var p domain.PostUpdatedPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		v.update(p.PostID, func(s *PostState) {
			s.Post = p.Post
			s.LikeCount = p.Post.LikeCount
			s.CommentCount = max(s.CommentCount, p.Post.CommentCount)
		})

	case domain.KindPostDeleted:
		var p domain.PostDeletedPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		v.mu.Lock()
		if s, ok := v.posts[p.PostID]; ok {
			s.Deleted = true
		}
		v.feed = slices.DeleteFunc(v.feed, func(id uuid.UUID) bool { return id == p.PostID })
		v.mu.Unlock()

	case domain.KindPostLiked, domain.KindPostUnliked:
		var p domain.LikePayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		v.update(p.PostID, func(s *PostState) { s.LikeCount = p.LikeCount })

	case domain.KindNewComment:
		var p domain.CommentPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		v.update(p.PostID, func(s *PostState) {
			s.Comments = append(s.Comments, p.Comment)
			s.CommentCount++
		})

	default:
		return fmt.Errorf("%w: unknown kind %q", domain.ErrMalformedEvent, ev.Kind)
	}
	return nil
}

func (v *View) addPost(post domain.Post) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.posts[post.ID]; ok {
		return
	}
	v.posts[post.ID] = &PostState{Post: post, LikeCount: post.LikeCount, CommentCount: post.CommentCount}
	v.feed = slices.Insert(v.feed, 0, post.ID)
}

// update applies fn to a known post. Events for posts the view never saw
// create a stub entry so counts are not lost.
func (v *View) update(id uuid.UUID, fn func(*PostState)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.posts[id]
	if !ok {
		s = &PostState{Post: domain.Post{ID: id}}
		v.posts[id] = s
	}
	fn(s)
}

func (v *View) Post(id uuid.UUID) (PostState, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.posts[id]
	if !ok {
		return PostState{}, false
	}
	out := *s
	out.Comments = slices.Clone(s.Comments)
	return out, true
}

// Feed returns the ids of live posts, newest first.
func (v *View) Feed() []uuid.UUID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.feed)
}

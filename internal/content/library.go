package content

import (
	"context"
	"strings"
	"sync"
	"time"

	"inkpass/internal/access"
	"inkpass/internal/apperrors"
	"inkpass/internal/subscription"

	"github.com/google/uuid"
)

type Article struct {
	ArticleRef
	Title       string    `json:"title"`
	Body        string    `json:"body,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

type Comment struct {
	ID        uuid.UUID `json:"id"`
	ArticleID uuid.UUID `json:"article_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	PostedAt  time.Time `json:"posted_at"`
}

// Library stores articles and their comments, and gates both through a Guard.
type Library struct {
	guard *Guard

	mu       sync.RWMutex
	articles map[uuid.UUID]*Article
	comments map[uuid.UUID][]Comment
}

func NewLibrary(guard *Guard) *Library {
	return &Library{
		guard:    guard,
		articles: make(map[uuid.UUID]*Article),
		comments: make(map[uuid.UUID][]Comment),
	}
}

// Publish stores an article. Only the holder of the publisher capability may publish.
func (l *Library) Publish(ctx context.Context, publicationID uuid.UUID, tier subscription.Tier, title, body string, creds Credentials) (*Article, error) {
	if strings.TrimSpace(title) == "" {
		return nil, apperrors.ErrValidation.WithDetails("title is required")
	}

	ref := ArticleRef{ID: uuid.New(), PublicationID: publicationID, RequiredTier: tier}
	d, err := l.guard.auth.Authorize(ctx, access.Request{
		PublicationID: publicationID,
		RequiredTier:  tier,
		PublisherCap:  creds.PublisherCap,
	})
	if err != nil {
		return nil, err
	}
	if d.Kind != access.GrantedByCapability {
		return nil, apperrors.ErrUnauthorized.WithDetails("publisher capability required to publish")
	}

	a := &Article{ArticleRef: ref, Title: title, Body: body, PublishedAt: time.Now().UTC()}
	l.mu.Lock()
	l.articles[a.ID] = a
	l.mu.Unlock()

	out := *a
	return &out, nil
}

// Read returns the article when creds grant its tier.
func (l *Library) Read(ctx context.Context, id uuid.UUID, creds Credentials) (*Article, access.Decision, error) {
	a, err := l.article(id)
	if err != nil {
		return nil, access.Decision{}, err
	}

	d, err := l.guard.ReadArticle(ctx, a.ArticleRef, creds)
	if err != nil {
		return nil, d, err
	}
	return a, d, nil
}

// Comment appends a comment after a fresh access check.
func (l *Library) Comment(ctx context.Context, id uuid.UUID, body string, creds Credentials) (*Comment, error) {
	if strings.TrimSpace(body) == "" {
		return nil, apperrors.ErrValidation.WithDetails("comment body is required")
	}
	a, err := l.article(id)
	if err != nil {
		return nil, err
	}

	if _, err := l.guard.PostComment(ctx, a.ArticleRef, creds); err != nil {
		return nil, err
	}

	c := Comment{ID: uuid.New(), ArticleID: id, Author: creds.Reader, Body: body, PostedAt: time.Now().UTC()}
	l.mu.Lock()
	l.comments[id] = append(l.comments[id], c)
	l.mu.Unlock()
	return &c, nil
}

// Comments lists an article's comments to anyone allowed to read it.
func (l *Library) Comments(ctx context.Context, id uuid.UUID, creds Credentials) ([]Comment, error) {
	if _, _, err := l.Read(ctx, id, creds); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Comment(nil), l.comments[id]...), nil
}

func (l *Library) article(id uuid.UUID) (*Article, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, ok := l.articles[id]
	if !ok {
		return nil, apperrors.ErrNotFound.WithDetails("article %s", id)
	}
	out := *a
	return &out, nil
}

// Package content gates article reads and comment writes on access decisions.
package content

import (
	"context"

	"inkpass/internal/access"
	"inkpass/internal/logger"
	"inkpass/internal/subscription"

	"github.com/google/uuid"
)

// Authorizer is satisfied by access.Gate in process and by clients.AccessClient remotely.
type Authorizer interface {
	Authorize(ctx context.Context, req access.Request) (access.Decision, error)
}

// ArticleRef identifies a gated article and the tier it requires.
type ArticleRef struct {
	ID            uuid.UUID         `json:"id"`
	PublicationID uuid.UUID         `json:"publication_id"`
	RequiredTier  subscription.Tier `json:"required_tier"`
}

// Credentials are what a reader presents: a subscription, a publisher capability, or both.
type Credentials struct {
	Reader         string
	SubscriptionID uuid.UUID
	PublisherCap   string
}

// Guard authorizes on every call. A subscription can expire between loading
// an article and submitting a comment, so no decision is reused.
type Guard struct {
	auth   Authorizer
	logger logger.Logger
}

func NewGuard(auth Authorizer, log logger.Logger) *Guard {
	return &Guard{auth: auth, logger: log.WithFields(map[string]interface{}{"component": "content"})}
}

// ReadArticle returns the decision when the reader may open the article.
func (g *Guard) ReadArticle(ctx context.Context, article ArticleRef, creds Credentials) (access.Decision, error) {
	return g.check(ctx, "read", article, creds)
}

// PostComment checks that the commenter still holds at least the article's tier.
func (g *Guard) PostComment(ctx context.Context, article ArticleRef, creds Credentials) (access.Decision, error) {
	return g.check(ctx, "comment", article, creds)
}

func (g *Guard) check(ctx context.Context, action string, article ArticleRef, creds Credentials) (access.Decision, error) {
	d, err := g.auth.Authorize(ctx, access.Request{
		Reader:         creds.Reader,
		PublicationID:  article.PublicationID,
		RequiredTier:   article.RequiredTier,
		SubscriptionID: creds.SubscriptionID,
		PublisherCap:   creds.PublisherCap,
	})
	if err != nil {
		return access.Decision{}, err
	}
	if err := d.Err(); err != nil {
		g.logger.Info("content access denied", map[string]interface{}{
			"action":    action,
			"articleId": article.ID.String(),
			"reason":    d.Reason.String(),
		})
		return d, err
	}
	return d, nil
}

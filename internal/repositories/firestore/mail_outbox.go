package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

// mailDocument follows the document shape read by the Firebase "Trigger Email" extension.
type mailDocument struct {
	To        []string            `firestore:"to"`
	From      string              `firestore:"from,omitempty"`
	Message   mailMessageDocument `firestore:"message"`
	Category  string              `firestore:"category,omitempty"`
	RelatedID string              `firestore:"relatedId,omitempty"`
	CreatedAt time.Time           `firestore:"createdAt"`
}

type mailMessageDocument struct {
	Subject string `firestore:"subject"`
	HTML    string `firestore:"html,omitempty"`
	Text    string `firestore:"text,omitempty"`
}

// MailOutbox writes outbound email into the collection watched by the delivery extension.
type MailOutbox struct {
	base *pfirestore.BaseRepository[mailDocument]
	from string
}

var _ repositories.MailOutbox = (*MailOutbox)(nil)

// NewMailOutbox binds the outbox to collection. from may be empty to use the extension default.
func NewMailOutbox(provider *pfirestore.Provider, collection, from string) (*MailOutbox, error) {
	if provider == nil {
		return nil, errors.New("mail outbox requires firestore provider")
	}
	collection = strings.TrimSpace(collection)
	if collection == "" {
		collection = "mail"
	}
	return &MailOutbox{
		base: pfirestore.NewBaseRepository[mailDocument](provider, collection, nil),
		from: strings.TrimSpace(from),
	}, nil
}

// Enqueue stores the message. An empty ID is replaced with a ULID.
func (o *MailOutbox) Enqueue(ctx context.Context, message domain.MailMessage) error {
	if len(message.To) == 0 {
		return errors.New("mail outbox: at least one recipient is required")
	}
	id := strings.TrimSpace(message.ID)
	if id == "" {
		id = ulid.Make().String()
	}
	createdAt := message.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return o.base.Create(ctx, id, mailDocument{
		To:   append([]string(nil), message.To...),
		From: o.from,
		Message: mailMessageDocument{
			Subject: message.Subject,
			HTML:    message.HTML,
			Text:    message.Text,
		},
		Category:  message.Category,
		RelatedID: message.RelatedID,
		CreatedAt: createdAt,
	})
}

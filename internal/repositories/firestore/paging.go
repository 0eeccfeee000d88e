package firestore

import (
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/platform/pagination"
)

// pageQuery orders query newest first, applies the cursor, and over-fetches by one so the
// caller can tell whether another page exists.
func pageQuery(query firestore.Query, pager domain.Pagination) (firestore.Query, int, error) {
	pager = pagination.Normalize(pager)
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return query, 0, err
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	if !cursor.IsZero() {
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}
	return query.Limit(pager.PageSize + 1), pager.PageSize, nil
}

func toPage[D any, T any](docs []pfirestore.Document[D], size int, convert func(pfirestore.Document[D]) T, createdAt func(T) time.Time) domain.CursorPage[T] {
	page := domain.CursorPage[T]{Items: make([]T, 0, len(docs))}
	for i, doc := range docs {
		if i == size {
			last := docs[size-1]
			page.NextPageToken = pagination.EncodeToken(pagination.Cursor{
				CreatedAt: createdAt(page.Items[size-1]),
				ID:        last.ID,
			})
			break
		}
		page.Items = append(page.Items, convert(doc))
	}
	return page
}

package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	productsCollection       = "products"
	stockMovementsCollection = "stockMovements"
)

type productDocument struct {
	Name        string              `firestore:"name"`
	Slug        string              `firestore:"slug,omitempty"`
	Price       int64               `firestore:"price"`
	SalePrice   *int64              `firestore:"salePrice,omitempty"`
	OnSale      bool                `firestore:"onSale"`
	SaleStart   *time.Time          `firestore:"saleStart,omitempty"`
	SaleEnd     *time.Time          `firestore:"saleEnd,omitempty"`
	Quantity    int                 `firestore:"quantity"`
	InStock     bool                `firestore:"inStock"`
	Type        string              `firestore:"type"`
	ShippingFee int64               `firestore:"shippingFee"`
	Variations  []variationDocument `firestore:"variations,omitempty"`
	UpdatedAt   time.Time           `firestore:"updatedAt"`
}

type variationDocument struct {
	ID       string `firestore:"id"`
	Name     string `firestore:"name"`
	Quantity int    `firestore:"quantity"`
}

type stockMovementDocument struct {
	ProductID     string    `firestore:"productId"`
	OrderID       string    `firestore:"orderId,omitempty"`
	Delta         int       `firestore:"delta"`
	Reason        string    `firestore:"reason"`
	QuantityAfter int       `firestore:"quantityAfter"`
	InStockAfter  bool      `firestore:"inStockAfter"`
	Note          string    `firestore:"note,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

// ProductRepository reads catalog products and maintains the stock ledger.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil),
	}, nil
}

// Get loads a product, joining the transaction on ctx when present.
func (r *ProductRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Upsert writes the full product document. Catalog management lives outside this service;
// the method exists for seeding.
func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) error {
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	return r.products.Set(ctx, strings.TrimSpace(product.ID), newProductDocument(product))
}

// ApplyStockMovement updates the product counters and creates the ledger entry in one write set.
func (r *ProductRepository) ApplyStockMovement(ctx context.Context, movement domain.StockMovement) error {
	productID := strings.TrimSpace(movement.ProductID)
	if productID == "" || strings.TrimSpace(movement.ID) == "" {
		return errors.New("product repository: movement requires product and movement ids")
	}
	if movement.QuantityAfter < 0 {
		return errors.New("product repository: quantity cannot become negative")
	}
	createdAt := movement.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	return pfirestore.RunTransaction(ctx, client, func(ctx context.Context, _ *firestore.Transaction) error {
		updates := []firestore.Update{
			{Path: "quantity", Value: movement.QuantityAfter},
			{Path: "inStock", Value: movement.InStockAfter},
			{Path: "updatedAt", Value: createdAt},
		}
		if err := r.products.Update(ctx, productID, updates); err != nil {
			return err
		}
		ref, err := r.movementRef(ctx, productID, movement.ID)
		if err != nil {
			return err
		}
		return pfirestore.CreateDocument(ctx, ref, stockMovementDocument{
			ProductID:     productID,
			OrderID:       strings.TrimSpace(movement.OrderID),
			Delta:         movement.Delta,
			Reason:        string(movement.Reason),
			QuantityAfter: movement.QuantityAfter,
			InStockAfter:  movement.InStockAfter,
			Note:          strings.TrimSpace(movement.Note),
			CreatedAt:     createdAt,
		}, "products.stock_movement")
	})
}

// ListStockMovements returns ledger entries newest first.
func (r *ProductRepository) ListStockMovements(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.StockMovement], error) {
	parent, err := r.products.DocumentRef(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.CursorPage[domain.StockMovement]{}, err
	}
	query, size, err := pageQuery(parent.Collection(stockMovementsCollection).Query, pager)
	if err != nil {
		return domain.CursorPage[domain.StockMovement]{}, err
	}
	docs, err := pfirestore.QueryDocuments(ctx, query, pfirestore.StructDecoder[stockMovementDocument](), "products.stock_movements")
	if err != nil {
		return domain.CursorPage[domain.StockMovement]{}, err
	}
	return toPage(docs, size, func(doc pfirestore.Document[stockMovementDocument]) domain.StockMovement {
		return doc.Data.toDomain(doc.ID)
	}, func(m domain.StockMovement) time.Time { return m.CreatedAt }), nil
}

func (r *ProductRepository) movementRef(ctx context.Context, productID, movementID string) (*firestore.DocumentRef, error) {
	parent, err := r.products.DocumentRef(ctx, productID)
	if err != nil {
		return nil, err
	}
	return parent.Collection(stockMovementsCollection).Doc(movementID), nil
}

func (d productDocument) toDomain(id string) domain.Product {
	product := domain.Product{
		ID:          id,
		Name:        d.Name,
		Slug:        d.Slug,
		Price:       d.Price,
		SalePrice:   d.SalePrice,
		OnSale:      d.OnSale,
		SaleStart:   d.SaleStart,
		SaleEnd:     d.SaleEnd,
		Quantity:    d.Quantity,
		InStock:     d.InStock,
		Type:        domain.ProductType(d.Type),
		ShippingFee: d.ShippingFee,
		UpdatedAt:   d.UpdatedAt,
	}
	for _, v := range d.Variations {
		product.Variations = append(product.Variations, domain.ProductVariation{ID: v.ID, Name: v.Name, Quantity: v.Quantity})
	}
	return product
}

func newProductDocument(p domain.Product) productDocument {
	doc := productDocument{
		Name:        p.Name,
		Slug:        p.Slug,
		Price:       p.Price,
		SalePrice:   p.SalePrice,
		OnSale:      p.OnSale,
		SaleStart:   p.SaleStart,
		SaleEnd:     p.SaleEnd,
		Quantity:    p.Quantity,
		InStock:     p.InStock,
		Type:        string(p.Type),
		ShippingFee: p.ShippingFee,
		UpdatedAt:   p.UpdatedAt.UTC(),
	}
	for _, v := range p.Variations {
		doc.Variations = append(doc.Variations, variationDocument{ID: v.ID, Name: v.Name, Quantity: v.Quantity})
	}
	return doc
}

func (d stockMovementDocument) toDomain(id string) domain.StockMovement {
	return domain.StockMovement{
		ID:            id,
		ProductID:     d.ProductID,
		OrderID:       d.OrderID,
		Delta:         d.Delta,
		Reason:        domain.StockMovementReason(d.Reason),
		QuantityAfter: d.QuantityAfter,
		InStockAfter:  d.InStockAfter,
		Note:          d.Note,
		CreatedAt:     d.CreatedAt,
	}
}

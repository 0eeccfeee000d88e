package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/storage"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	exportPageSize    = 100
	exportContentType = "text/csv; charset=utf-8"
)

var orderExportHeader = []string{
	"order_id", "order_number", "user_id", "email", "created_at",
	"order_status", "payment_method", "payment_status", "currency",
	"subtotal", "shipping_fee", "cod_fee", "discount", "total",
	"coupon_code", "items", "tracking_number", "country", "city",
}

// ExportServiceDeps wires the order export service. Signer is optional; without it the
// result carries no download URL.
type ExportServiceDeps struct {
	Orders    repositories.OrderRepository
	Writer    ObjectWriter
	Signer    DownloadURLSigner
	Bucket    string
	Prefix    string
	URLExpiry time.Duration
	Clock     func() time.Time
	IDGen     func() string
	Logger    Logger
}

type exportService struct {
	orders    repositories.OrderRepository
	writer    ObjectWriter
	signer    DownloadURLSigner
	bucket    string
	prefix    string
	urlExpiry time.Duration
	now       func() time.Time
	newID     func() string
	logger    Logger
}

// NewExportService constructs an ExportService.
func NewExportService(deps ExportServiceDeps) (ExportService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("export service: order repository is required")
	case deps.Writer == nil:
		return nil, errors.New("export service: object writer is required")
	case strings.TrimSpace(deps.Bucket) == "":
		return nil, errors.New("export service: bucket is required")
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return strings.ToLower(ulid.Make().String()) }
	}
	prefix := strings.TrimSpace(deps.Prefix)
	if prefix == "" {
		prefix = "exports/orders"
	}
	return &exportService{
		orders:    deps.Orders,
		writer:    deps.Writer,
		signer:    deps.Signer,
		bucket:    strings.TrimSpace(deps.Bucket),
		prefix:    prefix,
		urlExpiry: deps.URLExpiry,
		now:       clockOrNow(deps.Clock),
		newID:     idGen,
		logger:    loggerOrNoop(deps.Logger),
	}, nil
}

func (s *exportService) ExportOrders(ctx context.Context, cmd ExportOrdersCommand) (ExportResult, error) {
	for _, status := range cmd.Status {
		if !isKnownOrderStatus(status) {
			return ExportResult{}, validationError("unknown order status %q", status)
		}
	}
	if cmd.From != nil && cmd.To != nil && cmd.To.Before(*cmd.From) {
		return ExportResult{}, validationError("to must not be before from")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(orderExportHeader); err != nil {
		return ExportResult{}, fmt.Errorf("export orders: %w", err)
	}

	rows := 0
	pager := domain.Pagination{PageSize: exportPageSize}
	for {
		page, err := s.orders.List(ctx, repositories.OrderListFilter{Status: cmd.Status, Pagination: pager})
		if err != nil {
			return ExportResult{}, translateRepoError(err, "orders")
		}
		for _, order := range page.Items {
			if !withinRange(order.CreatedAt, cmd.From, cmd.To) {
				continue
			}
			if err := w.Write(orderExportRow(order)); err != nil {
				return ExportResult{}, fmt.Errorf("export orders: %w", err)
			}
			rows++
		}
		if page.NextPageToken == "" {
			break
		}
		pager.PageToken = page.NextPageToken
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return ExportResult{}, fmt.Errorf("export orders: %w", err)
	}

	now := s.now()
	id := s.newID()
	name, err := storage.ExportObjectName(s.prefix, now, id, "csv")
	if err != nil {
		return ExportResult{}, err
	}
	obj, err := s.writer.Write(ctx, storage.Object{Bucket: s.bucket, Name: name, ContentType: exportContentType}, &buf)
	if err != nil {
		return ExportResult{}, fmt.Errorf("%w: write export: %v", ErrUnavailable, err)
	}

	result := ExportResult{
		ID:        id,
		Bucket:    obj.Bucket,
		Object:    obj.Name,
		Rows:      rows,
		Bytes:     obj.Size,
		CreatedAt: now,
	}
	if s.signer != nil {
		signed, err := s.signer.DownloadURL(ctx, obj.Bucket, obj.Name, storage.DownloadOptions{
			ExpiresIn:   s.urlExpiry,
			FileName:    "orders-" + now.Format("20060102") + ".csv",
			ContentType: exportContentType,
		})
		if err != nil {
			// the file exists; callers can still fetch it by object name
			s.logger(ctx, "export.sign_failed", map[string]any{"object": obj.Name, "error": err.Error()})
		} else {
			expires := signed.ExpiresAt
			result.DownloadURL = signed.URL
			result.ExpiresAt = &expires
		}
	}

	s.logger(ctx, "export.orders_written", map[string]any{
		"exportId": id,
		"object":   obj.Name,
		"rows":     rows,
		"actorId":  cmd.ActorID,
	})
	return result, nil
}

func withinRange(ts time.Time, from, to *time.Time) bool {
	if from != nil && ts.Before(*from) {
		return false
	}
	if to != nil && !ts.Before(*to) {
		return false
	}
	return true
}

func orderExportRow(order domain.Order) []string {
	items := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, fmt.Sprintf("%s x%d", item.ProductID, item.Quantity))
	}
	return []string{
		order.ID,
		order.Number,
		order.UserID,
		order.CustomerEmail,
		order.CreatedAt.UTC().Format(time.RFC3339),
		string(order.OrderStatus),
		string(order.PaymentMethod),
		string(order.PaymentStatus),
		strings.ToUpper(order.Currency),
		strconv.FormatInt(order.Subtotal, 10),
		strconv.FormatInt(order.ShippingFee, 10),
		strconv.FormatInt(order.CODFee, 10),
		strconv.FormatInt(order.Discount, 10),
		strconv.FormatInt(order.TotalAmount, 10),
		order.CouponCode,
		strings.Join(items, "; "),
		order.TrackingNumber,
		order.ShippingAddress.Country,
		order.ShippingAddress.City,
	}
}

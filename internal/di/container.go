package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/payments"
	"github.com/hanko-field/commerce/internal/platform/config"
	"github.com/hanko-field/commerce/internal/platform/jobs"
	"github.com/hanko-field/commerce/internal/platform/observability"
	"github.com/hanko-field/commerce/internal/repositories"
	"github.com/hanko-field/commerce/internal/services"
)

const defaultLocalExportBucket = "local-exports"

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart          services.CartService
	Coupons       services.CouponService
	Checkout      services.CheckoutService
	Orders        services.OrderService
	Inventory     services.InventoryService
	Addresses     services.AddressService
	Counters      services.CounterService
	Webhooks      services.PaymentWebhookService
	Notifications services.NotificationService
	Exports       services.ExportService
	System        services.SystemService
}

// Dependencies carries the infrastructure assembled by the caller. Registry and Payments
// are required; a nil Publisher delivers events in-process to the notification service.
type Dependencies struct {
	Registry  repositories.Registry
	Payments  payments.Provider
	Publisher services.OrderEventPublisher
	Writer    services.ObjectWriter
	Signer    services.DownloadURLSigner
	Health    repositories.HealthRepository
	Metrics   services.Metrics
	Logger    *zap.Logger
	Build     services.BuildInfo
	Clock     func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	inline *jobs.InlinePublisher
}

// NewContainer constructs the runtime dependencies. Production wiring provides Firestore
// and Stripe, while tests can supply the in-memory registry and sandbox provider.
func NewContainer(ctx context.Context, cfg config.Config, deps Dependencies) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment provider is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	c := &Container{Config: cfg, Repositories: deps.Registry}
	if err := c.buildServices(ctx, deps); err != nil {
		return nil, err
	}
	return c, nil
}

// Close waits for in-process event deliveries and releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.inline != nil {
		c.inline.Wait()
	}
	if c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func eventLogger(base *zap.Logger, name string) services.Logger {
	return services.Logger(observability.EventLogger(base, name))
}

func (c *Container) buildServices(_ context.Context, deps Dependencies) error {
	reg := deps.Registry
	cfg := c.Config
	pricing := services.PricingPolicy{
		Currency:         cfg.Store.Currency,
		ExpressSurcharge: cfg.Store.ExpressSurcharge,
		CODFee:           cfg.Store.CODFee,
	}
	var svc Services
	var err error

	svc.Notifications, err = services.NewNotificationService(services.NotificationServiceDeps{
		Orders:    reg.Orders(),
		Mail:      reg.Mail(),
		Locale:    cfg.Store.Locale,
		StoreName: cfg.Store.Name,
		Clock:     deps.Clock,
		Logger:    eventLogger(deps.Logger, "notifications"),
	})
	if err != nil {
		return fmt.Errorf("build notification service: %w", err)
	}

	publisher := deps.Publisher
	if publisher == nil {
		logger := deps.Logger.Named("events")
		c.inline = jobs.NewInlinePublisher(svc.Notifications.HandleOrderEvent, func(_ context.Context, event domain.OrderEvent, err error) {
			logger.Error("inline order event failed",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.String("order_id", event.OrderID),
				zap.Error(err))
		})
		publisher = c.inline
	}

	svc.Counters, err = services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      deps.Clock,
	})
	if err != nil {
		return fmt.Errorf("build counter service: %w", err)
	}

	svc.Coupons, err = services.NewCouponService(services.CouponServiceDeps{
		Coupons: reg.Coupons(),
		Clock:   deps.Clock,
		Metrics: deps.Metrics,
	})
	if err != nil {
		return fmt.Errorf("build coupon service: %w", err)
	}

	svc.Cart, err = services.NewCartService(services.CartServiceDeps{
		Carts:    reg.Carts(),
		Products: reg.Products(),
		Coupons:  reg.Coupons(),
		Pricing:  pricing,
		Clock:    deps.Clock,
		Logger:   eventLogger(deps.Logger, "cart"),
	})
	if err != nil {
		return fmt.Errorf("build cart service: %w", err)
	}

	svc.Inventory, err = services.NewInventoryService(services.InventoryServiceDeps{
		Products:   reg.Products(),
		UnitOfWork: reg,
		Clock:      deps.Clock,
		Logger:     eventLogger(deps.Logger, "inventory"),
		Metrics:    deps.Metrics,
	})
	if err != nil {
		return fmt.Errorf("build inventory service: %w", err)
	}

	svc.Addresses, err = services.NewAddressService(services.AddressServiceDeps{
		Addresses: reg.Addresses(),
		Clock:     deps.Clock,
	})
	if err != nil {
		return fmt.Errorf("build address service: %w", err)
	}

	svc.Checkout, err = services.NewCheckoutService(services.CheckoutServiceDeps{
		UnitOfWork: reg,
		Carts:      reg.Carts(),
		Products:   reg.Products(),
		Coupons:    reg.Coupons(),
		Orders:     reg.Orders(),
		Addresses:  reg.Addresses(),
		Counters:   svc.Counters,
		Payments:   deps.Payments,
		Events:     publisher,
		Pricing:    pricing,
		Clock:      deps.Clock,
		Logger:     eventLogger(deps.Logger, "checkout"),
		Metrics:    deps.Metrics,
	})
	if err != nil {
		return fmt.Errorf("build checkout service: %w", err)
	}

	svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		UnitOfWork: reg,
		Orders:     reg.Orders(),
		Products:   reg.Products(),
		Payments:   deps.Payments,
		Events:     publisher,
		Clock:      deps.Clock,
		Logger:     eventLogger(deps.Logger, "orders"),
		Metrics:    deps.Metrics,
	})
	if err != nil {
		return fmt.Errorf("build order service: %w", err)
	}

	svc.Webhooks, err = services.NewPaymentWebhookService(services.PaymentWebhookServiceDeps{
		Orders: svc.Orders,
		Logger: eventLogger(deps.Logger, "webhooks"),
	})
	if err != nil {
		return fmt.Errorf("build payment webhook service: %w", err)
	}

	if deps.Writer != nil {
		bucket := cfg.Exports.Bucket
		if bucket == "" && cfg.Repository.IsMemory() {
			bucket = defaultLocalExportBucket
		}
		svc.Exports, err = services.NewExportService(services.ExportServiceDeps{
			Orders:    reg.Orders(),
			Writer:    deps.Writer,
			Signer:    deps.Signer,
			Bucket:    bucket,
			Prefix:    cfg.Exports.Prefix,
			URLExpiry: cfg.Exports.URLExpiry,
			Clock:     deps.Clock,
			Logger:    eventLogger(deps.Logger, "exports"),
		})
		if err != nil {
			return fmt.Errorf("build export service: %w", err)
		}
	}

	if deps.Health != nil {
		svc.System, err = services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: deps.Health,
			Clock:            deps.Clock,
			Build:            deps.Build,
		})
		if err != nil {
			return fmt.Errorf("build system service: %w", err)
		}
	}

	c.Services = svc
	return nil
}

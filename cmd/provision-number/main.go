// Command provision-number buys a SignalWire number, points its messaging
// webhooks at this service and attaches it to a tenant.
//
//	provision-number -tenant <uuid> [-area-code 512 | -number +15125550100] [-dry-run]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/assistext/assistext/internal/app/bootstrap"
	"github.com/assistext/assistext/internal/carrier"
	"github.com/assistext/assistext/internal/config"
	"github.com/assistext/assistext/internal/phone"
	"github.com/assistext/assistext/internal/tenancy"
	"github.com/assistext/assistext/pkg/logging"
)

type numberProvisioner interface {
	SearchNumbers(ctx context.Context, criteria carrier.SearchCriteria) ([]carrier.AvailableNumber, error)
	PurchaseNumber(ctx context.Context, req carrier.PurchaseRequest) (*carrier.PurchasedNumber, error)
}

type numberAttacher interface {
	Get(ctx context.Context, id uuid.UUID) (*tenancy.Tenant, error)
	AttachNumber(ctx context.Context, tenantID uuid.UUID, number string) error
}

type options struct {
	tenantID uuid.UUID
	areaCode string
	number   string
	baseURL  string
	dryRun   bool
}

func main() {
	var (
		tenantFlag = flag.String("tenant", "", "tenant id to attach the number to")
		areaCode   = flag.String("area-code", "", "area code to search when -number is not given")
		number     = flag.String("number", "", "specific E.164 number to buy")
		dryRun     = flag.Bool("dry-run", false, "search only; do not buy or attach")
	)
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	cfg := config.Load()
	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, Format: "text"})

	tenantID, err := uuid.Parse(strings.TrimSpace(*tenantFlag))
	if err != nil {
		logger.Error("-tenant must be a tenant uuid", "error", err)
		os.Exit(2)
	}
	if strings.TrimSpace(cfg.PublicBaseURL) == "" {
		logger.Error("PUBLIC_BASE_URL is required to configure number webhooks")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	carrierClient, err := bootstrap.BuildCarrierClient(cfg, logger)
	if err != nil {
		logger.Error("failed to create carrier client", "error", err)
		os.Exit(1)
	}
	pool, err := bootstrap.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	opts := options{
		tenantID: tenantID,
		areaCode: *areaCode,
		number:   *number,
		baseURL:  cfg.PublicBaseURL,
		dryRun:   *dryRun,
	}
	attached, err := provision(ctx, carrierClient, tenancy.NewPostgresStore(pool), opts, logger)
	if err != nil {
		logger.Error("provisioning failed", "error", err)
		os.Exit(1)
	}
	if attached != "" {
		fmt.Println(attached)
	}
}

// provision returns the attached number, or "" on a dry run.
func provision(ctx context.Context, c numberProvisioner, tenants numberAttacher, opts options, logger *logging.Logger) (string, error) {
	tenant, err := tenants.Get(ctx, opts.tenantID)
	if err != nil {
		return "", fmt.Errorf("load tenant: %w", err)
	}

	target := phone.NormalizeE164(opts.number)
	if target == "" {
		found, err := c.SearchNumbers(ctx, carrier.SearchCriteria{
			Country:    "US",
			AreaCode:   opts.areaCode,
			SMSEnabled: true,
			Limit:      5,
		})
		if err != nil {
			return "", fmt.Errorf("search numbers: %w", err)
		}
		if len(found) == 0 {
			return "", fmt.Errorf("no SMS-capable numbers available for area code %q", opts.areaCode)
		}
		for _, n := range found {
			logger.Info("available number", "number", n.PhoneNumber, "locality", n.Locality, "region", n.Region)
		}
		target = found[0].PhoneNumber
	}
	if !phone.Valid(target) {
		return "", fmt.Errorf("invalid number %q", target)
	}
	if opts.dryRun {
		logger.Info("dry run; not purchasing", "number", target, "tenant", tenant.Name)
		return "", nil
	}

	base := strings.TrimRight(opts.baseURL, "/")
	purchased, err := c.PurchaseNumber(ctx, carrier.PurchaseRequest{
		PhoneNumber:       target,
		FriendlyName:      tenant.DisplayName(),
		SMSURL:            base + "/webhooks/sms",
		StatusCallbackURL: base + bootstrap.StatusCallbackPath,
	})
	if err != nil {
		return "", fmt.Errorf("purchase %s: %w", phone.Mask(target), err)
	}
	if err := tenants.AttachNumber(ctx, tenant.ID, purchased.PhoneNumber); err != nil {
		return "", fmt.Errorf("attach %s: %w", phone.Mask(purchased.PhoneNumber), err)
	}
	logger.Info("number provisioned", "number", purchased.PhoneNumber, "sid", purchased.SID, "tenant_id", tenant.ID)
	return purchased.PhoneNumber, nil
}

package main

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/assistext/assistext/internal/carrier"
	"github.com/assistext/assistext/internal/tenancy"
	"github.com/assistext/assistext/pkg/logging"
)

type fakeProvisioner struct {
	available []carrier.AvailableNumber
	searched  carrier.SearchCriteria
	purchased []carrier.PurchaseRequest
}

func (f *fakeProvisioner) SearchNumbers(_ context.Context, criteria carrier.SearchCriteria) ([]carrier.AvailableNumber, error) {
	f.searched = criteria
	return f.available, nil
}

func (f *fakeProvisioner) PurchaseNumber(_ context.Context, req carrier.PurchaseRequest) (*carrier.PurchasedNumber, error) {
	f.purchased = append(f.purchased, req)
	return &carrier.PurchasedNumber{SID: "PN1", PhoneNumber: req.PhoneNumber}, nil
}

type fakeTenants struct {
	tenant   tenancy.Tenant
	attached map[string]uuid.UUID
}

func (f *fakeTenants) Get(_ context.Context, id uuid.UUID) (*tenancy.Tenant, error) {
	if id != f.tenant.ID {
		return nil, tenancy.ErrTenantNotFound
	}
	t := f.tenant
	return &t, nil
}

func (f *fakeTenants) AttachNumber(_ context.Context, tenantID uuid.UUID, number string) error {
	f.attached[number] = tenantID
	return nil
}

func newFakes() (*fakeProvisioner, *fakeTenants) {
	return &fakeProvisioner{available: []carrier.AvailableNumber{{PhoneNumber: "+15125550100", Locality: "Austin"}}},
		&fakeTenants{tenant: tenancy.Tenant{ID: uuid.New(), Name: "Glow Spa"}, attached: map[string]uuid.UUID{}}
}

func TestProvisionSearchesPurchasesAndAttaches(t *testing.T) {
	c, tenants := newFakes()
	opts := options{tenantID: tenants.tenant.ID, areaCode: "512", baseURL: "https://hooks.example.com/"}

	got, err := provision(context.Background(), c, tenants, opts, logging.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "+15125550100" {
		t.Fatalf("unexpected number %q", got)
	}
	if c.searched.AreaCode != "512" || !c.searched.SMSEnabled {
		t.Fatalf("unexpected search %+v", c.searched)
	}
	if len(c.purchased) != 1 {
		t.Fatalf("expected one purchase, got %d", len(c.purchased))
	}
	req := c.purchased[0]
	if req.SMSURL != "https://hooks.example.com/webhooks/sms" || req.StatusCallbackURL != "https://hooks.example.com/webhooks/status" {
		t.Fatalf("unexpected webhook urls %+v", req)
	}
	if tenants.attached["+15125550100"] != tenants.tenant.ID {
		t.Fatalf("number not attached")
	}
}

func TestProvisionSpecificNumberSkipsSearch(t *testing.T) {
	c, tenants := newFakes()
	opts := options{tenantID: tenants.tenant.ID, number: "(512) 555-0199", baseURL: "https://hooks.example.com"}

	got, err := provision(context.Background(), c, tenants, opts, logging.Discard())
	if err != nil || got != "+15125550199" {
		t.Fatalf("unexpected result %q %v", got, err)
	}
	if c.searched != (carrier.SearchCriteria{}) {
		t.Fatalf("expected no search")
	}
}

func TestProvisionDryRun(t *testing.T) {
	c, tenants := newFakes()
	opts := options{tenantID: tenants.tenant.ID, dryRun: true, baseURL: "https://hooks.example.com"}

	got, err := provision(context.Background(), c, tenants, opts, logging.Discard())
	if err != nil || got != "" {
		t.Fatalf("unexpected result %q %v", got, err)
	}
	if len(c.purchased) != 0 || len(tenants.attached) != 0 {
		t.Fatalf("dry run must not purchase or attach")
	}
}

func TestProvisionErrors(t *testing.T) {
	c, tenants := newFakes()
	_, err := provision(context.Background(), c, tenants, options{tenantID: uuid.New()}, logging.Discard())
	if !errors.Is(err, tenancy.ErrTenantNotFound) {
		t.Fatalf("expected tenant not found, got %v", err)
	}

	c.available = nil
	if _, err := provision(context.Background(), c, tenants, options{tenantID: tenants.tenant.ID}, logging.Discard()); err == nil {
		t.Fatalf("expected error when no numbers are available")
	}
}

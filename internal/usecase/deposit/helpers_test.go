package deposit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"deposit-service/internal/domain"
	"deposit-service/internal/repository"
	"deposit-service/pkg/xerrors"

	"github.com/shopspring/decimal"
)

// In-memory doubles for the repositories, the key-value store and the
// gateway. The payment repo replicates the compare-and-set semantics of
// the SQL implementation so the concurrency tests mean something.

type fakePaymentRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.DepositPayment
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{byID: map[string]*domain.DepositPayment{}}
}

func (r *fakePaymentRepo) clone(p *domain.DepositPayment) *domain.DepositPayment {
	c := *p
	return &c
}

func (r *fakePaymentRepo) Create(ctx context.Context, p *domain.DepositPayment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	r.byID[p.ID] = r.clone(p)
	return nil
}

func (r *fakePaymentRepo) GetByID(ctx context.Context, id string) (*domain.DepositPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, xerrors.ErrPaymentNotFound
	}
	return r.clone(p), nil
}

func (r *fakePaymentRepo) GetByExternalID(ctx context.Context, gateway, externalID string) (*domain.DepositPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.Gateway == gateway && p.ExternalPaymentID == externalID {
			return r.clone(p), nil
		}
	}
	return nil, xerrors.ErrPaymentNotFound
}

func (r *fakePaymentRepo) GetActive(ctx context.Context, userID string, baseTokenID int64) (*domain.DepositPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.UserID != userID || p.BaseTokenID != baseTokenID || p.Status.IsTerminal() {
			continue
		}
		if p.Status == domain.StatusWaiting && time.Now().After(p.ExpiresAt) {
			continue
		}
		return r.clone(p), nil
	}
	return nil, nil
}

func (r *fakePaymentRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.DepositPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.DepositPayment
	for _, p := range r.byID {
		if p.UserID == userID {
			out = append(out, r.clone(p))
		}
	}
	return out, nil
}

func (r *fakePaymentRepo) TransitionStatus(ctx context.Context, id string, from []domain.PaymentStatus, to domain.PaymentStatus, patch repository.StatusPatch) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	if p.Status == to || p.Status.IsTerminal() {
		return false, nil
	}
	matched := false
	for _, f := range from {
		if p.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}

	p.Status = to
	if patch.ActuallyPaid.IsPositive() {
		p.ActuallyPaid = patch.ActuallyPaid
	}
	if patch.PaidFiat.IsPositive() {
		p.ActuallyPaidFiat = patch.PaidFiat
	}
	if patch.TxHash != "" {
		p.TxHash = patch.TxHash
	}
	p.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakePaymentRepo) MarkExpired(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok || p.Status != domain.StatusWaiting || time.Now().Before(p.ExpiresAt) {
		return false, nil
	}
	p.Status = domain.StatusExpired
	p.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakePaymentRepo) ListUncredited(ctx context.Context, limit int) ([]*domain.DepositPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.DepositPayment
	for _, p := range r.byID {
		if p.Status == domain.StatusFinished && p.CreditedAt == nil {
			out = append(out, r.clone(p))
		}
	}
	return out, nil
}

type fakeDeploymentRepo struct {
	deployments []*domain.DeploymentTarget
}

func (r *fakeDeploymentRepo) ListActive(ctx context.Context, baseTokenID *int64) ([]*domain.DeploymentTarget, error) {
	var out []*domain.DeploymentTarget
	for _, d := range r.deployments {
		if !d.Active {
			continue
		}
		if baseTokenID != nil && d.BaseTokenID != *baseTokenID {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *fakeDeploymentRepo) GetByID(ctx context.Context, id int64) (*domain.DeploymentTarget, error) {
	for _, d := range r.deployments {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, xerrors.ErrDeploymentNotFound
}

func (r *fakeDeploymentRepo) GetInvoiceDeployment(ctx context.Context, baseTokenID int64) (*domain.DeploymentTarget, error) {
	var best *domain.DeploymentTarget
	for _, d := range r.deployments {
		if !d.Active || d.BaseTokenID != baseTokenID {
			continue
		}
		if best == nil || (d.RequiresInvoice && !best.RequiresInvoice) {
			best = d
		}
	}
	if best == nil {
		return nil, xerrors.ErrDeploymentNotFound
	}
	return best, nil
}

type fakeAddressRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[string]*domain.DepositAddress // userID|deploymentID
}

func newFakeAddressRepo() *fakeAddressRepo {
	return &fakeAddressRepo{rows: map[string]*domain.DepositAddress{}}
}

func (r *fakeAddressRepo) key(userID string, deploymentID int64) string {
	return fmt.Sprintf("%s|%d", userID, deploymentID)
}

func (r *fakeAddressRepo) Create(ctx context.Context, addr *domain.DepositAddress) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(addr.UserID, addr.DeploymentID)
	if _, exists := r.rows[k]; exists {
		return false, nil
	}
	r.nextID++
	addr.ID = r.nextID
	addr.CreatedAt = time.Now()
	c := *addr
	r.rows[k] = &c
	return true, nil
}

func (r *fakeAddressRepo) ListByUser(ctx context.Context, userID string) ([]*domain.DepositAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.DepositAddress
	for _, a := range r.rows {
		if a.UserID == userID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

// fakeLedgerRepo replicates the credited_at gate of the SQL transaction:
// the flag flips on the payment row, inside the same lock as the balance
// increment.
type fakeLedgerRepo struct {
	mu       sync.Mutex
	payments *fakePaymentRepo
	balances map[string]decimal.Decimal // userID|baseTokenID
	prefs    map[string]bool
	txns     int
	failNext bool
}

func newFakeLedgerRepo(payments *fakePaymentRepo) *fakeLedgerRepo {
	return &fakeLedgerRepo{
		payments: payments,
		balances: map[string]decimal.Decimal{},
		prefs:    map[string]bool{},
	}
}

func (r *fakeLedgerRepo) key(userID string, baseTokenID int64) string {
	return fmt.Sprintf("%s|%d", userID, baseTokenID)
}

func (r *fakeLedgerRepo) EnsureBalance(ctx context.Context, userID string, baseTokenID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(userID, baseTokenID)
	if _, ok := r.balances[k]; !ok {
		r.balances[k] = decimal.Zero
	}
	return nil
}

func (r *fakeLedgerRepo) EnsureAssetPref(ctx context.Context, userID string, baseTokenID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefs[r.key(userID, baseTokenID)] = true
	return nil
}

func (r *fakeLedgerRepo) CreditDeposit(ctx context.Context, p *domain.DepositPayment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext {
		r.failNext = false
		return false, fmt.Errorf("ledger unavailable")
	}

	r.payments.mu.Lock()
	stored, ok := r.payments.byID[p.ID]
	if !ok || stored.Status != domain.StatusFinished || stored.CreditedAt != nil {
		r.payments.mu.Unlock()
		return false, nil
	}
	now := time.Now()
	stored.CreditedAt = &now
	r.payments.mu.Unlock()

	k := r.key(p.UserID, p.BaseTokenID)
	r.balances[k] = r.balances[k].Add(p.ActuallyPaid)
	r.txns++
	return true, nil
}

type fakeStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}}
}

func (s *fakeStore) Set(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[namespace+":"+key] = fmt.Sprint(value)
	return nil
}

func (s *fakeStore) SetNX(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := namespace + ":" + key
	if _, exists := s.data[k]; exists {
		return false, nil
	}
	s.data[k] = fmt.Sprint(value)
	return true, nil
}

func (s *fakeStore) Get(ctx context.Context, namespace, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[namespace+":"+key], nil
}

func (s *fakeStore) Delete(ctx context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, namespace+":"+key)
	return nil
}

type fakeGateway struct {
	name       string
	kind       domain.GatewayKind
	configured bool

	invoiceResult *domain.InvoiceResult
	invoiceErr    error
	invoiceCalls  int

	addressResult *domain.DepositAddressResult
	addressErr    error
	addressCalls  int

	statusResult *domain.PaymentStatusResult
	statusErr    error

	minPay  decimal.Decimal
	minFiat decimal.Decimal
}

func (g *fakeGateway) Name() string             { return g.name }
func (g *fakeGateway) Kind() domain.GatewayKind { return g.kind }
func (g *fakeGateway) IsConfigured() bool       { return g.configured }

func (g *fakeGateway) CreateDepositAddress(ctx context.Context, userID string) (*domain.DepositAddressResult, error) {
	g.addressCalls++
	if g.addressErr != nil {
		return nil, g.addressErr
	}
	if g.addressResult != nil {
		return g.addressResult, nil
	}
	return &domain.DepositAddressResult{Address: "addr-" + userID, IsPermanent: true}, nil
}

func (g *fakeGateway) CreateInvoice(ctx context.Context, p domain.InvoiceParams) (*domain.InvoiceResult, error) {
	g.invoiceCalls++
	if g.invoiceErr != nil {
		return nil, g.invoiceErr
	}
	return g.invoiceResult, nil
}

func (g *fakeGateway) GetPaymentStatus(ctx context.Context, externalPaymentID string) (*domain.PaymentStatusResult, error) {
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	return g.statusResult, nil
}

func (g *fakeGateway) GetMinimumPayAmount(ctx context.Context, fiatCurrency, payCurrency string) (decimal.Decimal, decimal.Decimal, error) {
	return g.minPay, g.minFiat, nil
}

func (g *fakeGateway) ParseWebhook(header http.Header, body []byte) (*domain.WebhookEvent, error) {
	return nil, xerrors.ErrMalformedPayload
}

type fakeResolver struct {
	byGateway map[string]domain.Gateway
}

func (r *fakeResolver) Resolve(dep *domain.DeploymentTarget) (domain.Gateway, error) {
	gw, ok := r.byGateway[dep.Gateway]
	if !ok {
		return nil, xerrors.ErrUnknownGateway
	}
	return gw, nil
}

func (r *fakeResolver) ByName(name string) (domain.Gateway, error) {
	gw, ok := r.byGateway[name]
	if !ok {
		return nil, xerrors.ErrUnknownGateway
	}
	return gw, nil
}

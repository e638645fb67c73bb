package deposit

import (
	"context"
	"testing"

	"deposit-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type provisionerFixture struct {
	provisioner *Provisioner
	addresses   *fakeAddressRepo
	ledger      *fakeLedgerRepo
	coinpayGW   *fakeGateway
	internalGW  *fakeGateway
}

func newProvisionerFixture(t *testing.T) *provisionerFixture {
	t.Helper()

	coinpayGW := &fakeGateway{
		name:       "coinpay",
		kind:       domain.KindPermanentAddress,
		configured: true,
	}
	internalGW := &fakeGateway{
		name:       "internal",
		kind:       domain.KindInternalShared,
		configured: true,
		addressResult: &domain.DepositAddressResult{
			Address:     "shared-addr",
			ExtraID:     "memo-1",
			IsShared:    true,
			IsPermanent: true,
		},
	}

	deployments := &fakeDeploymentRepo{deployments: []*domain.DeploymentTarget{
		{ID: 1, BaseTokenID: 10, Symbol: "USDT", Network: "TRON", PayCurrency: "usdttrc20",
			Gateway: "nowpay", RequiresInvoice: true, Active: true},
		{ID: 2, BaseTokenID: 20, Symbol: "LTC", Network: "LTC", PayCurrency: "ltc",
			Gateway: "coinpay", IsPermanent: true, Active: true},
		{ID: 3, BaseTokenID: 30, Symbol: "XYZ", Network: "XYZ", PayCurrency: "xyz",
			Gateway: "internal", IsPermanent: true, Active: true},
		{ID: 4, BaseTokenID: 40, Symbol: "OLD", Network: "OLD", PayCurrency: "old",
			Gateway: "coinpay", IsPermanent: true, Active: false},
	}}

	payments := newFakePaymentRepo()
	ledger := newFakeLedgerRepo(payments)
	addresses := newFakeAddressRepo()
	resolver := &fakeResolver{byGateway: map[string]domain.Gateway{
		"coinpay":  coinpayGW,
		"internal": internalGW,
	}}

	return &provisionerFixture{
		provisioner: NewProvisioner(deployments, addresses, ledger, resolver, zap.NewNop()),
		addresses:   addresses,
		ledger:      ledger,
		coinpayGW:   coinpayGW,
		internalGW:  internalGW,
	}
}

func TestProvision(t *testing.T) {
	ctx := context.Background()
	f := newProvisionerFixture(t)

	result, err := f.provisioner.Provision(ctx, "u1", nil)
	require.NoError(t, err)

	// Invoice-flow and inactive deployments mint nothing; the two
	// address-style ones do.
	require.Len(t, result.Addresses, 2)
	assert.Equal(t, 0, result.Skipped)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, f.coinpayGW.addressCalls)
	assert.Equal(t, 1, f.internalGW.addressCalls)

	byDeployment := map[int64]*domain.DepositAddress{}
	for _, a := range result.Addresses {
		byDeployment[a.DeploymentID] = a
	}
	assert.Equal(t, "addr-u1", byDeployment[2].Address)
	assert.False(t, byDeployment[2].IsShared)
	assert.Equal(t, "shared-addr", byDeployment[3].Address)
	assert.True(t, byDeployment[3].IsShared)
	assert.Equal(t, "memo-1", byDeployment[3].ExtraID)

	// Ledger rows exist for every active base token, invoice ones included.
	for _, token := range []int64{10, 20, 30} {
		_, ok := f.ledger.balances[f.ledger.key("u1", token)]
		assert.True(t, ok, "balance row for token %d", token)
		assert.True(t, f.ledger.prefs[f.ledger.key("u1", token)])
	}
}

func TestProvisionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newProvisionerFixture(t)

	first, err := f.provisioner.Provision(ctx, "u1", nil)
	require.NoError(t, err)
	require.Len(t, first.Addresses, 2)

	second, err := f.provisioner.Provision(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, second.Addresses)
	assert.Equal(t, 2, second.Skipped)
	assert.Equal(t, 1, f.coinpayGW.addressCalls, "no second gateway call")

	all, err := f.provisioner.ListAddresses(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestProvisionFiltersByToken(t *testing.T) {
	ctx := context.Background()
	f := newProvisionerFixture(t)

	token := int64(20)
	result, err := f.provisioner.Provision(ctx, "u1", &token)
	require.NoError(t, err)
	require.Len(t, result.Addresses, 1)
	assert.Equal(t, int64(2), result.Addresses[0].DeploymentID)
	assert.Equal(t, 0, f.internalGW.addressCalls)
}

func TestProvisionCollectsPerDeploymentErrors(t *testing.T) {
	ctx := context.Background()
	f := newProvisionerFixture(t)
	f.coinpayGW.addressErr = assert.AnError

	result, err := f.provisioner.Provision(ctx, "u1", nil)
	require.NoError(t, err, "one failing deployment does not fail the call")

	require.Len(t, result.Errors, 1)
	assert.Equal(t, int64(2), result.Errors[0].DeploymentID)
	assert.Equal(t, "LTC", result.Errors[0].Symbol)

	// The healthy deployment still got its address.
	require.Len(t, result.Addresses, 1)
	assert.Equal(t, int64(3), result.Addresses[0].DeploymentID)
}

func TestProvisionUnconfiguredGatewayFailsLoudly(t *testing.T) {
	ctx := context.Background()
	f := newProvisionerFixture(t)
	f.coinpayGW.configured = false

	result, err := f.provisioner.Provision(ctx, "u1", nil)
	require.NoError(t, err)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, int64(2), result.Errors[0].DeploymentID)
	assert.Equal(t, 0, f.coinpayGW.addressCalls, "no address minted on a dead gateway")
}

func TestProvisionDifferentUsersGetDistinctRows(t *testing.T) {
	ctx := context.Background()
	f := newProvisionerFixture(t)

	_, err := f.provisioner.Provision(ctx, "u1", nil)
	require.NoError(t, err)
	_, err = f.provisioner.Provision(ctx, "u2", nil)
	require.NoError(t, err)

	u1, err := f.provisioner.ListAddresses(ctx, "u1")
	require.NoError(t, err)
	u2, err := f.provisioner.ListAddresses(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, u1, 2)
	assert.Len(t, u2, 2)
}

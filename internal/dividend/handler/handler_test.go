package handler_test

import (
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"meridian/internal/authz"
	"meridian/internal/dividend/handler"
	"meridian/internal/dividend/handler/mocks"
	"meridian/internal/dividend/models"
	"meridian/internal/dividend/service"
	dErrors "meridian/pkg/domain-errors"
	"meridian/pkg/testutil"
)

const signingKey = "handler-test-key"

type fixture struct {
	router  http.Handler
	service *mocks.MockService
	auth    *authz.JWTAuthorizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	mockService := mocks.NewMockService(ctrl)
	auth := authz.NewJWTAuthorizer(signingKey, "meridian")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := chi.NewRouter()
	handler.New(mockService, auth, logger).Register(r)
	return &fixture{router: r, service: mockService, auth: auth}
}

func (f *fixture) token(t *testing.T, subject string, caps ...authz.Capability) string {
	t.Helper()
	token, err := f.auth.Mint(subject, caps, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)
	return token
}

func bearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestCreate(t *testing.T) {
	t.Run("creates and returns 201", func(t *testing.T) {
		f := newFixture(t)
		created := &models.Dividend{Index: 1, CheckpointID: 2, Currency: "USD", Name: "Q2", TotalAmount: 100}
		f.service.EXPECT().
			Create(gomock.Any(), "operator", gomock.Any()).
			Return(created, nil)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/dividends", map[string]any{
			"currency":     "USD",
			"name":         "Q2",
			"total_amount": 100,
			"maturity":     time.Now().Add(time.Hour),
			"expiry":       time.Now().Add(48 * time.Hour),
			"treasury":     "treasury",
			"payer":        "issuer",
		})
		rec := testutil.DoRequest(f.router, bearer(req, f.token(t, "operator", authz.CapDividendCreate)))

		testutil.AssertStatus(t, rec, http.StatusCreated)
		got := testutil.UnmarshalResponse[models.Dividend](t, rec)
		assert.Equal(t, uint64(1), got.Index)
	})

	t.Run("requires a token", func(t *testing.T) {
		f := newFixture(t)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/dividends", map[string]any{})
		rec := testutil.DoRequest(f.router, req)
		testutil.AssertStatus(t, rec, http.StatusUnauthorized)
	})

	t.Run("requires the create capability", func(t *testing.T) {
		f := newFixture(t)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/dividends", map[string]any{})
		rec := testutil.DoRequest(f.router, bearer(req, f.token(t, "operator", authz.CapDividendPush)))
		testutil.AssertStatus(t, rec, http.StatusForbidden)
	})

	t.Run("maps an underfunded payer to 400", func(t *testing.T) {
		f := newFixture(t)
		f.service.EXPECT().
			Create(gomock.Any(), "operator", gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeInvalidAmount, "payer cannot fund the dividend"))

		req := testutil.NewJSONRequest(t, http.MethodPost, "/dividends", map[string]any{"currency": "USD"})
		rec := testutil.DoRequest(f.router, bearer(req, f.token(t, "operator", authz.CapDividendCreate)))
		testutil.AssertStatusAndError(t, rec, http.StatusBadRequest, "invalid_amount")
	})
}

func TestGetAndList(t *testing.T) {
	t.Run("get returns the dividend", func(t *testing.T) {
		f := newFixture(t)
		f.service.EXPECT().
			Get(gomock.Any(), uint64(7)).
			Return(&models.Dividend{Index: 7, Currency: "USD"}, nil)

		rec := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/dividends/7"))
		testutil.AssertStatus(t, rec, http.StatusOK)
		got := testutil.UnmarshalResponse[models.Dividend](t, rec)
		assert.Equal(t, uint64(7), got.Index)
	})

	t.Run("unknown dividend is 404", func(t *testing.T) {
		f := newFixture(t)
		f.service.EXPECT().
			Get(gomock.Any(), uint64(9)).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "dividend 9 not found"))

		rec := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/dividends/9"))
		testutil.AssertStatusAndError(t, rec, http.StatusNotFound, "not_found")
	})

	t.Run("non-numeric index is 400", func(t *testing.T) {
		f := newFixture(t)
		rec := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/dividends/seven"))
		testutil.AssertStatus(t, rec, http.StatusBadRequest)
	})

	t.Run("list wraps the collection", func(t *testing.T) {
		f := newFixture(t)
		f.service.EXPECT().
			List(gomock.Any()).
			Return([]*models.Dividend{{Index: 1}, {Index: 2}}, nil)

		rec := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/dividends"))
		testutil.AssertStatus(t, rec, http.StatusOK)
		got := testutil.UnmarshalResponse[struct {
			Dividends []models.Dividend `json:"dividends"`
		}](t, rec)
		assert.Len(t, got.Dividends, 2)
	})
}

func TestEntitlement(t *testing.T) {
	t.Run("defaults to the caller", func(t *testing.T) {
		f := newFixture(t)
		f.service.EXPECT().
			Calculate(gomock.Any(), uint64(1), "alice").
			Return(uint64(70), uint64(14), nil)

		req := testutil.NewRequest(t, http.MethodGet, "/dividends/1/entitlement")
		rec := testutil.DoRequest(f.router, bearer(req, f.token(t, "alice")))

		testutil.AssertStatus(t, rec, http.StatusOK)
		got := *testutil.UnmarshalResponse[map[string]any](t, rec)
		assert.Equal(t, float64(70), got["gross"])
		assert.Equal(t, float64(14), got["withheld"])
		assert.Equal(t, float64(56), got["net"])
	})

	t.Run("honors an explicit account", func(t *testing.T) {
		f := newFixture(t)
		f.service.EXPECT().
			Calculate(gomock.Any(), uint64(1), "bob").
			Return(uint64(30), uint64(0), nil)

		req := testutil.NewRequest(t, http.MethodGet, "/dividends/1/entitlement?account=bob")
		rec := testutil.DoRequest(f.router, bearer(req, f.token(t, "alice")))
		testutil.AssertStatus(t, rec, http.StatusOK)
	})
}

func TestPull(t *testing.T) {
	t.Run("settles for the token subject", func(t *testing.T) {
		f := newFixture(t)
		f.service.EXPECT().
			Pull(gomock.Any(), "alice", uint64(1)).
			Return(service.Payment{Account: "alice", Gross: 30, Net: 30}, nil)

		req := testutil.NewRequest(t, http.MethodPost, "/dividends/1/claims")
		rec := testutil.DoRequest(f.router, bearer(req, f.token(t, "alice")))

		testutil.AssertStatus(t, rec, http.StatusOK)
		got := testutil.UnmarshalResponse[service.Payment](t, rec)
		assert.Equal(t, uint64(30), got.Net)
	})

	t.Run("double claim is a conflict", func(t *testing.T) {
		f := newFixture(t)
		f.service.EXPECT().
			Pull(gomock.Any(), "alice", uint64(1)).
			Return(service.Payment{}, dErrors.New(dErrors.CodeAlreadyClaimed, "already claimed"))

		req := testutil.NewRequest(t, http.MethodPost, "/dividends/1/claims")
		rec := testutil.DoRequest(f.router, bearer(req, f.token(t, "alice")))
		testutil.AssertStatusAndError(t, rec, http.StatusConflict, "already_claimed")
	})

	t.Run("before maturity is a conflict", func(t *testing.T) {
		f := newFixture(t)
		f.service.EXPECT().
			Pull(gomock.Any(), "alice", uint64(1)).
			Return(service.Payment{}, dErrors.New(dErrors.CodeNotYetPayable, "not yet payable"))

		req := testutil.NewRequest(t, http.MethodPost, "/dividends/1/claims")
		rec := testutil.DoRequest(f.router, bearer(req, f.token(t, "alice")))
		testutil.AssertStatusAndError(t, rec, http.StatusConflict, "not_yet_payable")
	})

	t.Run("excluded holder is forbidden", func(t *testing.T) {
		f := newFixture(t)
		f.service.EXPECT().
			Pull(gomock.Any(), "alice", uint64(1)).
			Return(service.Payment{}, dErrors.New(dErrors.CodeExcluded, "holder is excluded"))

		req := testutil.NewRequest(t, http.MethodPost, "/dividends/1/claims")
		rec := testutil.DoRequest(f.router, bearer(req, f.token(t, "alice")))
		testutil.AssertStatusAndError(t, rec, http.StatusForbidden, "excluded")
	})
}

func TestPush(t *testing.T) {
	t.Run("range push", func(t *testing.T) {
		f := newFixture(t)
		f.service.EXPECT().
			Push(gomock.Any(), "operator", uint64(1), 0, 9).
			Return(&service.BatchResult{Processed: 10}, nil)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/dividends/1/push", map[string]any{
			"start": 0,
			"end":   9,
		})
		rec := testutil.DoRequest(f.router, bearer(req, f.token(t, "operator", authz.CapDividendPush)))

		testutil.AssertStatus(t, rec, http.StatusOK)
		got := testutil.UnmarshalResponse[service.BatchResult](t, rec)
		assert.Equal(t, 10, got.Processed)
	})

	t.Run("address-list push", func(t *testing.T) {
		f := newFixture(t)
		f.service.EXPECT().
			PushToAddresses(gomock.Any(), "operator", uint64(1), []string{"alice", "bob"}).
			Return(&service.BatchResult{Processed: 2}, nil)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/dividends/1/push", map[string]any{
			"addresses": []string{"alice", "bob"},
		})
		rec := testutil.DoRequest(f.router, bearer(req, f.token(t, "operator", authz.CapDividendPush)))
		testutil.AssertStatus(t, rec, http.StatusOK)
	})

	t.Run("neither range nor addresses is 400", func(t *testing.T) {
		f := newFixture(t)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/dividends/1/push", map[string]any{})
		rec := testutil.DoRequest(f.router, bearer(req, f.token(t, "operator", authz.CapDividendPush)))
		testutil.AssertStatus(t, rec, http.StatusBadRequest)
	})

	t.Run("invalid range maps to 400", func(t *testing.T) {
		f := newFixture(t)
		f.service.EXPECT().
			Push(gomock.Any(), "operator", uint64(1), 5, 2).
			Return(nil, dErrors.New(dErrors.CodeInvalidRange, "end before start"))

		req := testutil.NewJSONRequest(t, http.MethodPost, "/dividends/1/push", map[string]any{
			"start": 5,
			"end":   2,
		})
		rec := testutil.DoRequest(f.router, bearer(req, f.token(t, "operator", authz.CapDividendPush)))
		testutil.AssertStatusAndError(t, rec, http.StatusBadRequest, "invalid_range")
	})
}

func TestReclaim(t *testing.T) {
	t.Run("returns the swept amount", func(t *testing.T) {
		f := newFixture(t)
		f.service.EXPECT().
			Reclaim(gomock.Any(), "operator", uint64(1)).
			Return(uint64(30), nil)

		req := testutil.NewRequest(t, http.MethodPost, "/dividends/1/reclaim")
		rec := testutil.DoRequest(f.router, bearer(req, f.token(t, "operator", authz.CapDividendReclaim)))

		testutil.AssertStatus(t, rec, http.StatusOK)
		got := *testutil.UnmarshalResponse[map[string]uint64](t, rec)
		assert.Equal(t, uint64(30), got["reclaimed"])
	})

	t.Run("second reclaim is a conflict", func(t *testing.T) {
		f := newFixture(t)
		f.service.EXPECT().
			Reclaim(gomock.Any(), "operator", uint64(1)).
			Return(uint64(0), dErrors.New(dErrors.CodeAlreadyReclaimed, "already reclaimed"))

		req := testutil.NewRequest(t, http.MethodPost, "/dividends/1/reclaim")
		rec := testutil.DoRequest(f.router, bearer(req, f.token(t, "operator", authz.CapDividendReclaim)))
		testutil.AssertStatusAndError(t, rec, http.StatusConflict, "already_reclaimed")
	})
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	f.service.EXPECT().
		WithdrawWithholding(gomock.Any(), "operator", uint64(1)).
		Return(uint64(14), nil)

	req := testutil.NewRequest(t, http.MethodPost, "/dividends/1/withholding/withdraw")
	rec := testutil.DoRequest(f.router, bearer(req, f.token(t, "operator", authz.CapWithholdingWithdraw)))

	testutil.AssertStatus(t, rec, http.StatusOK)
	got := *testutil.UnmarshalResponse[map[string]uint64](t, rec)
	assert.Equal(t, uint64(14), got["withdrawn"])
}

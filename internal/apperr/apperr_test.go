package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_WrappedSentinel(t *testing.T) {
	sentinel := New(KindInsufficientBalance, "insufficient balance")
	err := fmt.Errorf("spend: %w", sentinel)

	assert.Equal(t, KindInsufficientBalance, KindOf(err))
	assert.True(t, errors.Is(err, sentinel))
	assert.Equal(t, http.StatusPaymentRequired, KindOf(err).HTTPStatus())
}

func TestKindOf_PlainErrorIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, KindOf(errors.New("boom")).HTTPStatus())
}

func TestKindOf_InternalWrapperDefersToCause(t *testing.T) {
	cause := Wrap(KindStorageTransient, "db", errors.New("conn reset"))
	err := Wrap(KindInternal, "outer", cause)
	assert.Equal(t, KindStorageTransient, KindOf(err))
	assert.True(t, KindOf(err).Retryable())
}

func TestWrap_NilStaysNil(t *testing.T) {
	assert.NoError(t, Wrap(KindInternal, "op", nil))
	assert.NoError(t, Wrapf(KindInternal, "op", nil, "x"))
}

func TestPublicMessage_HidesCause(t *testing.T) {
	err := Wrap(KindGatewayUnavailable, "gateway.CreateIntent", errors.New("dial tcp 10.0.0.1: token=secret"))
	assert.Equal(t, "gateway_unavailable", PublicMessage(err))

	err = Wrapf(KindGatewayRejected, "gateway.CreateIntent", errors.New("raw"), "payment rejected: %s", "invalid amount")
	assert.Equal(t, "payment rejected: invalid amount", PublicMessage(err))
	assert.Contains(t, err.Error(), "raw")
}

package errs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eprints2archives/eprints2archives/internal/errs"
)

func TestKindsImplementKinded(t *testing.T) {
	cases := []errs.Kinded{
		&errs.NetworkFailure{Msg: "x"},
		&errs.ServiceFailure{Msg: "x"},
		&errs.RateLimitExceeded{Msg: "x"},
		&errs.NoContent{Msg: "x"},
		&errs.AuthenticationFailure{Msg: "x"},
		&errs.BadURL{Msg: "x"},
		&errs.BadArg{Msg: "x"},
		&errs.InternalError{Msg: "x"},
		&errs.UserCancelled{Msg: "x"},
		&errs.CannotProceed{Msg: "x", Code: errs.ExitBadArg},
	}
	wantKinds := []string{
		"NetworkFailure", "ServiceFailure", "RateLimitExceeded", "NoContent",
		"AuthenticationFailure", "BadURL", "BadArg", "InternalError",
		"UserCancelled", "CannotProceed",
	}
	for i, c := range cases {
		assert.Equal(t, wantKinds[i], c.Kind())
		assert.Equal(t, "x", c.Error())
	}
}

func TestNewf(t *testing.T) {
	err := errs.Newf("RateLimitExceeded", "too many requests from %s", "host")
	var rl *errs.RateLimitExceeded
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "too many requests from host", rl.Msg)

	unknown := errs.Newf("NotARealKind", "boom")
	var internal *errs.InternalError
	require.ErrorAs(t, unknown, &internal)
}

func TestCannotProceedCarriesExitCode(t *testing.T) {
	err := &errs.CannotProceed{Msg: "no network", Code: errs.ExitNoNetwork}
	assert.Equal(t, errs.ExitNoNetwork, err.Code)
	assert.Equal(t, errs.ExitCode(1), err.Code)
}

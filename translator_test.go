package astimuxer

import (
	"errors"
	"fmt"
	"testing"

	astipipeline "github.com/asticode/go-astimuxer/pipeline"
	"github.com/stretchr/testify/assert"
)

func TestTranslateError(t *testing.T) {
	for _, v := range []struct {
		code ErrorCode
		err  error
	}{
		{code: ErrorCodeResourceLimit, err: &astipipeline.Error{Code: astipipeline.ResourceErrorNoSpaceLeft, Domain: astipipeline.ErrorDomainResource}},
		{code: ErrorCodePermissionDenied, err: &astipipeline.Error{Code: astipipeline.ResourceErrorOpenWrite, Domain: astipipeline.ErrorDomainResource}},
		{code: ErrorCodePermissionDenied, err: &astipipeline.Error{Code: astipipeline.ResourceErrorNotAuthorized, Domain: astipipeline.ErrorDomainResource}},
		{code: ErrorCodeInvalidOperation, err: &astipipeline.Error{Code: astipipeline.ResourceErrorWrite, Domain: astipipeline.ErrorDomainResource}},
		{code: ErrorCodeResourceLimit, err: &astipipeline.Error{Code: astipipeline.CoreErrorMissingPlugin, Domain: astipipeline.ErrorDomainCore}},
		{code: ErrorCodeInvalidOperation, err: &astipipeline.Error{Code: astipipeline.CoreErrorNegotiation, Domain: astipipeline.ErrorDomainCore}},
		{code: ErrorCodeInvalidOperation, err: &astipipeline.Error{Code: astipipeline.LibraryErrorEncode, Domain: astipipeline.ErrorDomainLibrary}},
		{code: ErrorCodeInvalidOperation, err: &astipipeline.Error{Code: astipipeline.StreamErrorFormat, Domain: astipipeline.ErrorDomainStream}},
		{code: ErrorCodeResourceLimit, err: fmt.Errorf("wrapped: %w", &astipipeline.Error{Code: astipipeline.ResourceErrorNoSpaceLeft, Domain: astipipeline.ErrorDomainResource})},
		{code: ErrorCodeNotSupported, err: ErrNotSupported},
		{code: ErrorCodeInvalidOperation, err: errors.New("test")},
	} {
		assert.Equal(t, v.code, translateError(v.err), "%v", v.err)
	}
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, ErrorCodeNone, Code(nil))
	assert.Equal(t, 0, ResultCode(nil))
	assert.Equal(t, -2, ResultCode(errInvalidState("test", StateIdle)))
	assert.Equal(t, ErrorCodeInvalidOperation, Code(errors.New("test")))
	err := newError(ErrorCodeInvalidOperation, newError(ErrorCodeResourceLimit, nil, "inner"), "outer")
	assert.Equal(t, ErrorCodeInvalidOperation, Code(err))
	assert.ErrorIs(t, err, ErrResourceLimit)
	assert.NotErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, "astimuxer: outer: astimuxer: inner", err.Error())
	assert.Equal(t, "astimuxer: invalid path", (&Error{Code: ErrorCodeInvalidPath}).Error())
}

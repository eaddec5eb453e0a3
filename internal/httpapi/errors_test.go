package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"inferd/internal/llm"
	"inferd/internal/manager"
)

type codedError struct{ code int }

func (e codedError) Error() string   { return "coded" }
func (e codedError) StatusCode() int { return e.code }

func TestStatusForMapsErrorTaxonomy(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{manager.ErrModelNotFound("x"), http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", manager.ErrModelNotFound("x")), http.StatusNotFound},
		{manager.ErrDependencyUnavailable("no llama"), http.StatusServiceUnavailable},
		{&llm.DecodeError{Op: "decode", Code: 1}, http.StatusServiceUnavailable},
		{&llm.DecodeError{Op: "decode", Code: -3}, http.StatusInternalServerError},
		{fmt.Errorf("%w: top_p", llm.ErrInvalidArgument), http.StatusBadRequest},
		{llm.ErrBatchFull, http.StatusBadRequest},
		{fmt.Errorf("%w: too long", llm.ErrCapacityExceeded), http.StatusRequestEntityTooLarge},
		{llm.ErrTokenization, http.StatusUnprocessableEntity},
		{llm.ErrUnsupported, http.StatusNotImplemented},
		{codedError{code: http.StatusTeapot}, http.StatusTeapot},
		{context.DeadlineExceeded, http.StatusInternalServerError},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v)=%d want %d", tc.err, got, tc.want)
		}
	}
}

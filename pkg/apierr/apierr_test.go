package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/maraichr/eomat/internal/store"
	"github.com/maraichr/eomat/pkg/fault"
)

func TestFrom(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   Code
		wantStatus int
	}{
		{"not found", fmt.Errorf("load: %w", store.ErrNotFound), CodeProductNotFound, http.StatusNotFound},
		{"in use", fault.InUse("product p is GENERATING"), CodeFileInUse, http.StatusConflict},
		{"file not found", fmt.Errorf("%w: artifact", fault.ErrFileNotFound), CodeFileNotFound, http.StatusNotFound},
		{"unknown group", fault.UnknownGroup("nope"), CodeUnknownGroup, http.StatusNotFound},
		{"transition", fault.InvalidTransition("product", "READY", "GENERATING"), CodeInvalidTransition, http.StatusConflict},
		{"misconfiguration", fault.Misconfigured("no crawler"), CodeMisconfiguration, http.StatusUnprocessableEntity},
		{"invalid filename", fault.InvalidFilename("../x.tif"), CodeInvalidParameter, http.StatusBadRequest},
		{"already api error", SweepFailed(errors.New("x")), CodeSweepFailed, http.StatusInternalServerError},
		{"other", errors.New("disk on fire"), CodeInternalError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := From(tt.err, ProductNotFound())
			if got.Code() != tt.wantCode {
				t.Errorf("code = %s, want %s", got.Code(), tt.wantCode)
			}
			if got.Status() != tt.wantStatus {
				t.Errorf("status = %d, want %d", got.Status(), tt.wantStatus)
			}
		})
	}
}

func TestError_CauseNotSerialized(t *testing.T) {
	e := InternalError(errors.New("password=hunter2"))
	if r := e.Response().Error; r.Message != "Internal server error" || r.Detail != "" {
		t.Errorf("response = %+v, want no detail", e.Response().Error)
	}
	if !errors.Is(e, e.Unwrap()) {
		t.Error("cause not reachable through Unwrap")
	}
}

func TestError_ClientErrorsCarryDetail(t *testing.T) {
	e := FileInUse(fault.InUse("product mosaic_20210101.zip is GENERATING"))
	body := e.Response().Error
	if body.Code != CodeFileInUse || body.Detail == "" {
		t.Errorf("body = %+v, want FILE_IN_USE with detail", body)
	}
}

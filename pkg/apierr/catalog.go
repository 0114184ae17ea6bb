package apierr

import "net/http"

// --- Common ---

func InvalidRequestBody() *Error {
	return New(CodeInvalidRequestBody, http.StatusBadRequest, "Invalid request body")
}

func InvalidID(entity string) *Error {
	return New(CodeInvalidID, http.StatusBadRequest, "Invalid "+entity+" ID")
}

func InvalidParameter(name, reason string) *Error {
	return New(CodeInvalidParameter, http.StatusBadRequest, name+": "+reason)
}

func InternalError(cause error) *Error {
	return Wrap(CodeInternalError, http.StatusInternalServerError, "Internal server error", cause)
}

// --- Catalog ---

func UnknownGroup(cause error) *Error {
	return Wrap(CodeUnknownGroup, http.StatusNotFound, "Unknown group", cause)
}

func Misconfiguration(cause error) *Error {
	return Wrap(CodeMisconfiguration, http.StatusUnprocessableEntity, "Configuration rejects the request", cause)
}

// --- Ledger ---

func SourceNotFound() *Error {
	return New(CodeSourceNotFound, http.StatusNotFound, "Source not found")
}

func ProductNotFound() *Error {
	return New(CodeProductNotFound, http.StatusNotFound, "Product not found")
}

func FileInUse(cause error) *Error {
	return Wrap(CodeFileInUse, http.StatusConflict, "File is in use by a running job", cause)
}

func FileNotFound(cause error) *Error {
	return Wrap(CodeFileNotFound, http.StatusNotFound, "Artifact file not found", cause)
}

func InvalidTransition(cause error) *Error {
	return Wrap(CodeInvalidTransition, http.StatusConflict, "State transition not allowed", cause)
}

// --- Operations ---

func DiscoveryFailed(cause error) *Error {
	return Wrap(CodeDiscoveryFailed, http.StatusBadGateway, "Discovery failed", cause)
}

func SweepFailed(cause error) *Error {
	return Wrap(CodeSweepFailed, http.StatusInternalServerError, "Sweep failed", cause)
}

func ReconcileFailed(cause error) *Error {
	return Wrap(CodeReconcileFailed, http.StatusInternalServerError, "Reconcile failed", cause)
}

func DispatchFailed(cause error) *Error {
	return Wrap(CodeDispatchFailed, http.StatusServiceUnavailable, "Could not submit job", cause)
}

// --- Health ---

func DependencyNotReady(name string, cause error) *Error {
	return Wrap(CodeDependencyNotReady, http.StatusServiceUnavailable, name+" is not ready", cause)
}

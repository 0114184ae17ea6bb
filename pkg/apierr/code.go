package apierr

// Code is a machine-readable error code returned in API responses.
type Code string

// Common errors.
const (
	CodeInvalidRequestBody Code = "INVALID_REQUEST_BODY"
	CodeInvalidID          Code = "INVALID_ID"
	CodeInvalidParameter   Code = "INVALID_PARAMETER"
	CodeInternalError      Code = "INTERNAL_ERROR"
)

// Catalog errors.
const (
	CodeUnknownGroup     Code = "UNKNOWN_GROUP"
	CodeMisconfiguration Code = "MISCONFIGURATION"
)

// Ledger errors.
const (
	CodeSourceNotFound    Code = "SOURCE_NOT_FOUND"
	CodeProductNotFound   Code = "PRODUCT_NOT_FOUND"
	CodeFileInUse         Code = "FILE_IN_USE"
	CodeFileNotFound      Code = "FILE_NOT_FOUND"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
)

// Operation errors.
const (
	CodeDiscoveryFailed Code = "DISCOVERY_FAILED"
	CodeSweepFailed     Code = "SWEEP_FAILED"
	CodeReconcileFailed Code = "RECONCILE_FAILED"
	CodeDispatchFailed  Code = "DISPATCH_FAILED"
)

// Health errors.
const (
	CodeDependencyNotReady Code = "DEPENDENCY_NOT_READY"
)

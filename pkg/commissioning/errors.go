package commissioning

import "errors"

// Device-side errors.
var (
	// ErrFailSafeNotArmed indicates a command that needs an armed fail-safe.
	ErrFailSafeNotArmed = errors.New("commissioning: fail-safe not armed")

	// ErrBusyWithOtherAdmin indicates the fail-safe is held by another fabric.
	ErrBusyWithOtherAdmin = errors.New("commissioning: fail-safe armed by another administrator")

	// ErrValueOutsideRange indicates a regulatory or expiry value was rejected.
	ErrValueOutsideRange = errors.New("commissioning: value outside range")

	// ErrCountryCodeChange indicates the device does not allow this country code.
	ErrCountryCodeChange = errors.New("commissioning: country code change not allowed")

	// ErrMissingCSR indicates AddNOC or AddTrustedRootCertificate before CSRRequest.
	ErrMissingCSR = errors.New("commissioning: no pending CSR")

	// ErrInvalidNonce indicates a CSR nonce of the wrong size or an echo mismatch.
	ErrInvalidNonce = errors.New("commissioning: invalid CSR nonce")

	// ErrNetworkNotFound indicates ConnectNetwork for an unknown network ID.
	ErrNetworkNotFound = errors.New("commissioning: network not found")

	// ErrNetworkUnsupported indicates credentials for an interface the
	// device does not have.
	ErrNetworkUnsupported = errors.New("commissioning: network type not supported")

	// ErrNetworkTableFull indicates no room for another network.
	ErrNetworkTableFull = errors.New("commissioning: network table full")

	// ErrWindowAlreadyOpen indicates a commissioning window is already open.
	ErrWindowAlreadyOpen = errors.New("commissioning: window already open")

	// ErrWindowClosed indicates no commissioning window is open.
	ErrWindowClosed = errors.New("commissioning: window closed")
)

// Commissioner errors.
var (
	// ErrNetworkCredentialsRequired indicates the device needs Wi-Fi or Thread
	// credentials and none were configured.
	ErrNetworkCredentialsRequired = errors.New("commissioning: device requires network credentials")

	// ErrCommandFailed indicates a commissioning command returned a
	// non-success cluster status.
	ErrCommandFailed = errors.New("commissioning: command failed")

	// ErrAttemptFinished indicates Run on an attempt in a terminal state.
	ErrAttemptFinished = errors.New("commissioning: attempt already finished")
)

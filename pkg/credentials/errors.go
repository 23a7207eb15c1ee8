package credentials

import "errors"

// Certificate parsing errors.
var (
	// ErrInvalidCertificate indicates a malformed certificate structure.
	ErrInvalidCertificate = errors.New("credentials: invalid certificate")

	// ErrInvalidPublicKey indicates the subject key is not an uncompressed P-256 key.
	ErrInvalidPublicKey = errors.New("credentials: invalid public key")

	// ErrInvalidDN indicates a malformed Matter subject attribute.
	ErrInvalidDN = errors.New("credentials: invalid distinguished name")

	// ErrInvalidCSR indicates a malformed or badly signed signing request.
	ErrInvalidCSR = errors.New("credentials: invalid certificate signing request")
)

// Certificate validation errors.
var (
	// ErrMissingNodeID indicates a NOC is missing the matter-node-id attribute.
	ErrMissingNodeID = errors.New("credentials: NOC must have matter-node-id")

	// ErrMissingFabricID indicates a NOC is missing the matter-fabric-id attribute.
	ErrMissingFabricID = errors.New("credentials: NOC must have matter-fabric-id")

	// ErrFabricIDMismatch indicates the chain disagrees on the fabric ID.
	ErrFabricIDMismatch = errors.New("credentials: fabric ID mismatch in chain")

	// ErrNotCA indicates an issuer certificate is not a CA.
	ErrNotCA = errors.New("credentials: issuer is not a CA")

	// ErrChainVerification indicates a signature in the chain does not verify.
	ErrChainVerification = errors.New("credentials: chain verification failed")

	// ErrExpired indicates a certificate is outside its validity period.
	ErrExpired = errors.New("credentials: certificate not valid at this time")
)

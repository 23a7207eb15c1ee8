// Package credentials issues and validates operational certificates.
//
// Certificates are standard X.509 (DER) with P-256 keys and ECDSA-SHA256
// signatures. The Matter identity of a certificate is carried in subject
// attributes under the CSA private arc 1.3.6.1.4.1.37244:
//
//	1.3.6.1.4.1.37244.1.1  matter-node-id    (16 upper-case hex digits)
//	1.3.6.1.4.1.37244.1.4  matter-rcac-id
//	1.3.6.1.4.1.37244.1.5  matter-fabric-id
//
// CertificateAuthority holds a root key and issues node operational
// certificates (NOCs) from PKCS#10 signing requests.
package credentials

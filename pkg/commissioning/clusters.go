package commissioning

import (
	"fmt"

	"github.com/Orzech99/matter.js/pkg/im"
)

// Commissioning cluster IDs.
const (
	ClusterGeneralCommissioning       im.ClusterID = 0x0030
	ClusterNetworkCommissioning       im.ClusterID = 0x0031
	ClusterAdministratorCommissioning im.ClusterID = 0x003C
	ClusterOperationalCredentials     im.ClusterID = 0x003E
)

// General Commissioning commands. ReadCommissioningInfo stands in for the
// attribute reads of BasicCommissioningInfo, RegulatoryConfig and
// LocationCapability.
const (
	CmdArmFailSafe           im.CommandID = 0x00
	CmdSetRegulatoryConfig   im.CommandID = 0x02
	CmdCommissioningComplete im.CommandID = 0x04
	CmdReadCommissioningInfo im.CommandID = 0x80
)

// Network Commissioning commands.
const (
	CmdAddOrUpdateWiFiNetwork   im.CommandID = 0x02
	CmdAddOrUpdateThreadNetwork im.CommandID = 0x03
	CmdConnectNetwork           im.CommandID = 0x06
)

// Operational Credentials commands.
const (
	CmdCSRRequest                im.CommandID = 0x04
	CmdAddNOC                    im.CommandID = 0x06
	CmdRemoveFabric              im.CommandID = 0x0A
	CmdAddTrustedRootCertificate im.CommandID = 0x0B
)

// Administrator Commissioning commands.
const (
	CmdOpenBasicCommissioningWindow im.CommandID = 0x01
	CmdRevokeCommissioning          im.CommandID = 0x02
)

// Command paths on the root endpoint.
var (
	PathArmFailSafe           = im.NewCommandPath(ClusterGeneralCommissioning, CmdArmFailSafe)
	PathSetRegulatoryConfig   = im.NewCommandPath(ClusterGeneralCommissioning, CmdSetRegulatoryConfig)
	PathCommissioningComplete = im.NewCommandPath(ClusterGeneralCommissioning, CmdCommissioningComplete)
	PathReadCommissioningInfo = im.NewCommandPath(ClusterGeneralCommissioning, CmdReadCommissioningInfo)

	PathAddOrUpdateWiFiNetwork   = im.NewCommandPath(ClusterNetworkCommissioning, CmdAddOrUpdateWiFiNetwork)
	PathAddOrUpdateThreadNetwork = im.NewCommandPath(ClusterNetworkCommissioning, CmdAddOrUpdateThreadNetwork)
	PathConnectNetwork           = im.NewCommandPath(ClusterNetworkCommissioning, CmdConnectNetwork)

	PathCSRRequest                = im.NewCommandPath(ClusterOperationalCredentials, CmdCSRRequest)
	PathAddTrustedRootCertificate = im.NewCommandPath(ClusterOperationalCredentials, CmdAddTrustedRootCertificate)
	PathAddNOC                    = im.NewCommandPath(ClusterOperationalCredentials, CmdAddNOC)
	PathRemoveFabric              = im.NewCommandPath(ClusterOperationalCredentials, CmdRemoveFabric)

	PathOpenBasicCommissioningWindow = im.NewCommandPath(ClusterAdministratorCommissioning, CmdOpenBasicCommissioningWindow)
	PathRevokeCommissioning          = im.NewCommandPath(ClusterAdministratorCommissioning, CmdRevokeCommissioning)
)

// CommissioningErrorCode is the result code of General Commissioning
// commands.
type CommissioningErrorCode uint8

const (
	CommissioningOK                    CommissioningErrorCode = 0
	CommissioningValueOutsideRange     CommissioningErrorCode = 1
	CommissioningInvalidAuthentication CommissioningErrorCode = 2
	CommissioningNoFailSafe            CommissioningErrorCode = 3
	CommissioningBusyWithOtherAdmin    CommissioningErrorCode = 4
)

// String returns the name of the commissioning error code.
func (c CommissioningErrorCode) String() string {
	switch c {
	case CommissioningOK:
		return "OK"
	case CommissioningValueOutsideRange:
		return "ValueOutsideRange"
	case CommissioningInvalidAuthentication:
		return "InvalidAuthentication"
	case CommissioningNoFailSafe:
		return "NoFailSafe"
	case CommissioningBusyWithOtherAdmin:
		return "BusyWithOtherAdmin"
	default:
		return fmt.Sprintf("CommissioningErrorCode(%d)", uint8(c))
	}
}

// NetworkingStatus is the result code of Network Commissioning commands.
type NetworkingStatus uint8

const (
	NetworkingSuccess                NetworkingStatus = 0
	NetworkingOutOfRange             NetworkingStatus = 1
	NetworkingBoundsExceeded         NetworkingStatus = 2
	NetworkingNetworkIDNotFound      NetworkingStatus = 3
	NetworkingNetworkNotFound        NetworkingStatus = 5
	NetworkingAuthFailure            NetworkingStatus = 7
	NetworkingOtherConnectionFailure NetworkingStatus = 9
	NetworkingUnknownError           NetworkingStatus = 12
)

// String returns the name of the networking status.
func (s NetworkingStatus) String() string {
	switch s {
	case NetworkingSuccess:
		return "Success"
	case NetworkingOutOfRange:
		return "OutOfRange"
	case NetworkingBoundsExceeded:
		return "BoundsExceeded"
	case NetworkingNetworkIDNotFound:
		return "NetworkIDNotFound"
	case NetworkingNetworkNotFound:
		return "NetworkNotFound"
	case NetworkingAuthFailure:
		return "AuthFailure"
	case NetworkingOtherConnectionFailure:
		return "OtherConnectionFailure"
	case NetworkingUnknownError:
		return "UnknownError"
	default:
		return fmt.Sprintf("NetworkingStatus(%d)", uint8(s))
	}
}

// NOCStatus is the result code of Operational Credentials commands.
type NOCStatus uint8

const (
	NOCStatusOK                  NOCStatus = 0
	NOCStatusInvalidPublicKey    NOCStatus = 1
	NOCStatusInvalidNodeOpID     NOCStatus = 2
	NOCStatusInvalidNOC          NOCStatus = 3
	NOCStatusMissingCSR          NOCStatus = 4
	NOCStatusTableFull           NOCStatus = 5
	NOCStatusInvalidAdminSubject NOCStatus = 6
	NOCStatusFabricConflict      NOCStatus = 9
	NOCStatusInvalidFabricIndex  NOCStatus = 11
)

// String returns the name of the NOC status.
func (s NOCStatus) String() string {
	switch s {
	case NOCStatusOK:
		return "OK"
	case NOCStatusInvalidPublicKey:
		return "InvalidPublicKey"
	case NOCStatusInvalidNodeOpID:
		return "InvalidNodeOpId"
	case NOCStatusInvalidNOC:
		return "InvalidNOC"
	case NOCStatusMissingCSR:
		return "MissingCsr"
	case NOCStatusTableFull:
		return "TableFull"
	case NOCStatusInvalidAdminSubject:
		return "InvalidAdminSubject"
	case NOCStatusFabricConflict:
		return "FabricConflict"
	case NOCStatusInvalidFabricIndex:
		return "InvalidFabricIndex"
	default:
		return fmt.Sprintf("NOCStatus(%d)", uint8(s))
	}
}

// ArmFailSafeRequest arms, extends or (with zero expiry) disarms the
// fail-safe.
type ArmFailSafeRequest struct {
	ExpiryLengthSeconds uint16 `cbor:"1,keyasint"`
	Breadcrumb          uint64 `cbor:"2,keyasint"`
}

// CommissioningResponse answers every General Commissioning command.
type CommissioningResponse struct {
	ErrorCode CommissioningErrorCode `cbor:"1,keyasint"`
	DebugText string                 `cbor:"2,keyasint,omitempty"`
}

// SetRegulatoryConfigRequest sets the regulatory location and country.
type SetRegulatoryConfigRequest struct {
	NewRegulatoryConfig RegulatoryLocation `cbor:"1,keyasint"`
	CountryCode         string             `cbor:"2,keyasint"`
	Breadcrumb          uint64             `cbor:"3,keyasint"`
}

// CommissioningInfo is what a commissioner reads before arming.
type CommissioningInfo struct {
	FailSafeExpiryLengthSeconds  uint16             `cbor:"1,keyasint"`
	MaxCumulativeFailsafeSeconds uint16             `cbor:"2,keyasint"`
	RegulatoryConfig             RegulatoryLocation `cbor:"3,keyasint"`
	LocationCapability           RegulatoryLocation `cbor:"4,keyasint"`
	CountryCode                  string             `cbor:"5,keyasint"`
	NetworkFeatures              NetworkFeatures    `cbor:"6,keyasint"`
	Breadcrumb                   uint64             `cbor:"7,keyasint"`
}

// AddOrUpdateWiFiNetworkRequest provisions Wi-Fi credentials.
type AddOrUpdateWiFiNetworkRequest struct {
	SSID        []byte `cbor:"1,keyasint"`
	Credentials []byte `cbor:"2,keyasint"`
	Breadcrumb  uint64 `cbor:"3,keyasint"`
}

// AddOrUpdateThreadNetworkRequest provisions a Thread operational dataset.
type AddOrUpdateThreadNetworkRequest struct {
	OperationalDataset []byte `cbor:"1,keyasint"`
	Breadcrumb         uint64 `cbor:"2,keyasint"`
}

// NetworkConfigResponse answers AddOrUpdate*Network.
type NetworkConfigResponse struct {
	NetworkingStatus NetworkingStatus `cbor:"1,keyasint"`
	DebugText        string           `cbor:"2,keyasint,omitempty"`
	NetworkIndex     uint8            `cbor:"3,keyasint"`
}

// ConnectNetworkRequest asks the device to join a provisioned network.
type ConnectNetworkRequest struct {
	NetworkID  []byte `cbor:"1,keyasint"`
	Breadcrumb uint64 `cbor:"2,keyasint"`
}

// ConnectNetworkResponse answers ConnectNetwork.
type ConnectNetworkResponse struct {
	NetworkingStatus NetworkingStatus `cbor:"1,keyasint"`
	DebugText        string           `cbor:"2,keyasint,omitempty"`
}

// CSRRequest asks for a certificate signing request for a new operational
// key.
type CSRRequest struct {
	CSRNonce []byte `cbor:"1,keyasint"`
}

// CSRResponse carries the PKCS#10 request and the echoed nonce.
type CSRResponse struct {
	CSR      []byte `cbor:"1,keyasint"`
	CSRNonce []byte `cbor:"2,keyasint"`
}

// AddTrustedRootCertificateRequest installs the fabric's root certificate.
type AddTrustedRootCertificateRequest struct {
	RootCACertificate []byte `cbor:"1,keyasint"`
}

// AddNOCRequest installs the node operational certificate.
type AddNOCRequest struct {
	NOCValue         []byte `cbor:"1,keyasint"`
	ICACValue        []byte `cbor:"2,keyasint,omitempty"`
	IPKValue         []byte `cbor:"3,keyasint"`
	CaseAdminSubject uint64 `cbor:"4,keyasint"`
	AdminVendorID    uint16 `cbor:"5,keyasint"`
}

// RemoveFabricRequest removes a fabric from the device.
type RemoveFabricRequest struct {
	FabricIndex uint8 `cbor:"1,keyasint"`
}

// NOCResponse answers AddNOC and RemoveFabric.
type NOCResponse struct {
	StatusCode  NOCStatus `cbor:"1,keyasint"`
	FabricIndex uint8     `cbor:"2,keyasint,omitempty"`
	DebugText   string    `cbor:"3,keyasint,omitempty"`
}

// OpenBasicCommissioningWindowRequest reopens commissioning with the
// device's own passcode.
type OpenBasicCommissioningWindowRequest struct {
	CommissioningTimeout uint16 `cbor:"1,keyasint"`
}

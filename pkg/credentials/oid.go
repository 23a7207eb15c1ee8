package credentials

import "encoding/asn1"

// Matter-specific DN OIDs under the CSA private arc 1.3.6.1.4.1.37244.
var (
	OIDMatterNodeID   = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37244, 1, 1}
	OIDMatterICACID   = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37244, 1, 3}
	OIDMatterRCACID   = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37244, 1, 4}
	OIDMatterFabricID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37244, 1, 5}
)

// matterIDHexLength is the width of a 64-bit identifier in a subject attribute.
const matterIDHexLength = 16

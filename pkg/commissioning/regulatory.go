package commissioning

import (
	"slices"
	"strings"
	"sync"
)

// Regulatory defaults.
const (
	DefaultRegulatoryLocation = RegulatoryOutdoor
	DefaultCountryCode        = "XX"
)

// RegulatoryConfig is the installed location and country.
type RegulatoryConfig struct {
	Location    RegulatoryLocation
	CountryCode string
}

// WithDefaults fills an empty country code.
func (c RegulatoryConfig) WithDefaults() RegulatoryConfig {
	if c.CountryCode == "" {
		c.CountryCode = DefaultCountryCode
	}
	return c
}

// Validate checks the location and the two-letter country code.
func (c RegulatoryConfig) Validate() error {
	if c.Location > RegulatoryIndoorOutdoor {
		return ErrValueOutsideRange
	}
	if len(c.CountryCode) != 2 || strings.ToUpper(c.CountryCode) != c.CountryCode {
		return ErrValueOutsideRange
	}
	return nil
}

// Regulatory is the device capability holding the regulatory config.
type Regulatory interface {
	RegulatoryConfig() RegulatoryConfig
	LocationCapability() RegulatoryLocation
	SetRegulatoryConfig(c RegulatoryConfig) error
}

// RegulatoryOptions configures a RegulatoryState.
type RegulatoryOptions struct {
	// Initial defaults to Outdoor in country "XX".
	Initial RegulatoryConfig

	// LocationCapability is where the device may be installed. Zero value
	// Indoor is a real capability, so set IndoorOutdoor explicitly for
	// unrestricted devices.
	LocationCapability RegulatoryLocation

	// AllowCountryCodeChange permits a commissioner to set a country other
	// than the initial one.
	AllowCountryCodeChange bool

	// AllowedCountryCodes restricts the accepted countries when not empty.
	AllowedCountryCodes []string
}

// RegulatoryState implements Regulatory.
//
// Thread Safety: All methods are safe for concurrent use.
type RegulatoryState struct {
	opts RegulatoryOptions

	mu      sync.Mutex
	current RegulatoryConfig
}

// NewRegulatoryState validates opts and returns the initial state.
func NewRegulatoryState(opts RegulatoryOptions) (*RegulatoryState, error) {
	if opts.Initial.CountryCode == "" && opts.Initial.Location == RegulatoryIndoor {
		opts.Initial.Location = DefaultRegulatoryLocation
	}
	opts.Initial = opts.Initial.WithDefaults()
	if err := opts.Initial.Validate(); err != nil {
		return nil, err
	}
	if opts.LocationCapability > RegulatoryIndoorOutdoor {
		return nil, ErrValueOutsideRange
	}
	return &RegulatoryState{opts: opts, current: opts.Initial}, nil
}

// RegulatoryConfig implements Regulatory.
func (r *RegulatoryState) RegulatoryConfig() RegulatoryConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// LocationCapability implements Regulatory.
func (r *RegulatoryState) LocationCapability() RegulatoryLocation {
	return r.opts.LocationCapability
}

// SetRegulatoryConfig implements Regulatory. A device that is not
// IndoorOutdoor capable only accepts its own location.
func (r *RegulatoryState) SetRegulatoryConfig(c RegulatoryConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if r.opts.LocationCapability != RegulatoryIndoorOutdoor && c.Location != r.opts.LocationCapability {
		return ErrValueOutsideRange
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c.CountryCode != r.current.CountryCode {
		if !r.opts.AllowCountryCodeChange {
			return ErrCountryCodeChange
		}
		if len(r.opts.AllowedCountryCodes) > 0 && !slices.Contains(r.opts.AllowedCountryCodes, c.CountryCode) {
			return ErrCountryCodeChange
		}
	}
	r.current = c
	return nil
}

package matter

import (
	"errors"

	"github.com/Orzech99/matter.js/pkg/commissioning/payload"
	"github.com/Orzech99/matter.js/pkg/crypto"
	"github.com/Orzech99/matter.js/pkg/securechannel/pase"
	"github.com/Orzech99/matter.js/pkg/storage"
)

// storageKeySetup is the CommissioningServer key holding the setup identity.
const storageKeySetup = "setup"

// pbkdfSaltSize is the salt length drawn for a new node.
const pbkdfSaltSize = 32

// setupIdentity is what a commissioner needs to know about the node out of
// band, plus the PBKDF parameters of its verifier. It is persisted so the
// printed pairing codes stay valid across restarts.
type setupIdentity struct {
	Passcode      uint32 `cbor:"1,keyasint"`
	Discriminator uint16 `cbor:"2,keyasint"`
	Salt          []byte `cbor:"3,keyasint"`
	Iterations    uint32 `cbor:"4,keyasint"`
}

// loadSetupIdentity reads the persisted identity and applies the configured
// passcode and discriminator over it. A new node draws the values its
// configuration leaves unset at random. The result is written back when it
// changed.
func loadSetupIdentity(ctx *storage.Context, config *NodeConfig) (*setupIdentity, error) {
	var id setupIdentity
	err := ctx.Get(storageKeySetup, &id)
	fresh := errors.Is(err, storage.ErrNotFound)
	if err != nil && !fresh {
		return nil, err
	}
	dirty := fresh

	if config.Passcode != 0 && config.Passcode != id.Passcode {
		id.Passcode = config.Passcode
		dirty = true
	}
	if id.Passcode == 0 {
		if id.Passcode, err = payload.RandomPasscode(nil); err != nil {
			return nil, err
		}
		dirty = true
	}
	if config.Discriminator != 0 && config.Discriminator != id.Discriminator {
		id.Discriminator = config.Discriminator
		dirty = true
	}
	if fresh && config.Discriminator == 0 {
		if id.Discriminator, err = payload.RandomDiscriminator(nil); err != nil {
			return nil, err
		}
		dirty = true
	}
	if len(id.Salt) == 0 || id.Iterations == 0 {
		if id.Salt, err = crypto.RandomBytes(pbkdfSaltSize); err != nil {
			return nil, err
		}
		id.Iterations = DefaultPBKDFIterations
		dirty = true
	}

	if err := pase.ValidatePBKDFParams(id.Salt, id.Iterations); err != nil {
		return nil, err
	}
	if dirty {
		if err := ctx.Set(storageKeySetup, &id); err != nil {
			return nil, err
		}
	}
	return &id, nil
}

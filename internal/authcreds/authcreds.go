// Package authcreds models the device-credential basic-auth pair the
// object client authenticates with: a one-time username+password exchange
// yields a long-lived device credential (a random 16-character aname/
// apass pair), and every subsequent call uses HTTP basic auth with that
// credential.
//
// Grounded on the shape of kopia's auth.Credentials interface (a thin
// value carrying exactly what a transport needs to authenticate), with
// the PBKDF2 key-derivation machinery that interface also carried
// dropped: there is no object-payload encryption here, so there is no
// encryption key to derive, only a transport credential.
package authcreds

import (
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"
)

const credentialCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DeviceCredential is the basic-auth pair issued once during device
// provisioning and reused for every subsequent object/history call.
type DeviceCredential struct {
	AName string
	APass string
}

// Generate produces a fresh 16-character aname/apass pair using a
// cryptographically secure source.
func Generate() (DeviceCredential, error) {
	aname, err := randomToken(16)
	if err != nil {
		return DeviceCredential{}, errors.Wrap(err, "generate device name token")
	}

	apass, err := randomToken(16)
	if err != nil {
		return DeviceCredential{}, errors.Wrap(err, "generate device password token")
	}

	return DeviceCredential{AName: aname, APass: apass}, nil
}

func randomToken(n int) (string, error) {
	out := make([]byte, n)

	max := big.NewInt(int64(len(credentialCharset)))

	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}

		out[i] = credentialCharset[idx.Int64()]
	}

	return string(out), nil
}

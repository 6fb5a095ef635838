// SignatureVerifier repurposes kagenti-mcp-gateway's session-id JWT manager
// (internal/session.JWTManager: golang-jwt/jwt/v5, HS256, registered-claims
// age check) for a different job than session identifiers — spec §4.1
// requires a gateway session id to be raw random hex, not a JWT, so that
// concern moves here instead: verifying that a non-core plugin manifest was
// signed by a party the gateway trusts before Host ever loads it.
package plugin

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hatago/gateway/internal/errkind"
)

// defaultMaxSignatureAge bounds how old a signed manifest token may be
// before Verify rejects it, the same "bounded validity window" idea
// teacher's JWTManager applied to session tokens.
const defaultMaxSignatureAge = 5 * time.Minute

// SignatureVerifier signs and verifies HS256 tokens asserting that a given
// plugin id's manifest was issued by whoever holds secret.
type SignatureVerifier struct {
	secret          []byte
	maxSignatureAge time.Duration
}

// NewSignatureVerifier constructs a SignatureVerifier. maxSignatureAge <= 0
// defaults to five minutes.
func NewSignatureVerifier(secret []byte, maxSignatureAge time.Duration) *SignatureVerifier {
	if maxSignatureAge <= 0 {
		maxSignatureAge = defaultMaxSignatureAge
	}
	return &SignatureVerifier{secret: secret, maxSignatureAge: maxSignatureAge}
}

type manifestClaims struct {
	PluginID string `json:"pid"`
	jwt.RegisteredClaims
}

// Sign issues a token asserting pluginID's manifest is trusted as of now,
// valid for maxSignatureAge.
func (v *SignatureVerifier) Sign(pluginID string) (string, error) {
	now := time.Now()
	claims := manifestClaims{
		PluginID: pluginID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.maxSignatureAge)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify checks that token is a well-formed, unexpired signature over
// pluginID issued by the holder of this verifier's secret.
func (v *SignatureVerifier) Verify(token, pluginID string) error {
	parsed, err := jwt.ParseWithClaims(token, &manifestClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return errkind.Wrap(errkind.ManifestInvalid, "manifest signature is invalid or expired", err)
	}
	claims, ok := parsed.Claims.(*manifestClaims)
	if !ok || !parsed.Valid {
		return errkind.New(errkind.ManifestInvalid, "manifest signature is invalid")
	}
	if claims.PluginID != pluginID {
		return errkind.New(errkind.ManifestInvalid, fmt.Sprintf("manifest signature was issued for %q, not %q", claims.PluginID, pluginID))
	}
	return nil
}

package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cloudvault-io/cvapi/internal/constants"
	"github.com/cloudvault-io/cvapi/pkg/cvapi"
)

// Static errors for err113 compliance.
var (
	ErrUnsupportedSigningAlgorithm = errors.New("unsupported signing algorithm")
)

// buildJWTAssertion produces the signed assertion for a JWT-bearer grant:
// issued by the app, for the requested subject, addressed to the token
// endpoint, with a fresh random JWT ID and a short exp window computed from
// the supplied clock. The kid header identifies the registered public key.
func buildJWTAssertion(app *cvapi.AppAuthConfig, clientID, audience string, subjectType SubjectType, subjectID string, now time.Time) (string, error) {
	method, err := signingMethod(app.Algorithm)
	if err != nil {
		return "", err
	}

	key, err := parseSigningKey(app)
	if err != nil {
		return "", err
	}

	window := app.ExpirationWindow
	if window == 0 {
		window = constants.DefaultAssertionExpiration
	}

	claims := jwt.MapClaims{
		"iss":          clientID,
		"sub":          subjectID,
		"subject_type": string(subjectType),
		"aud":          audience,
		"jti":          uuid.NewString(),
		"exp":          now.Add(window).Unix(),
	}

	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = app.KeyID

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing assertion: %w", err)
	}

	return signed, nil
}

// buildActorAssertion produces the unsigned actor token attached to a token
// exchange when impersonating a caller. The server treats it as an asserted
// identity, not a verified one, so it carries no signature.
func buildActorAssertion(clientID, audience string, actor *ActorParams, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":          clientID,
		"sub":          actor.ID,
		"subject_type": "external",
		"name":         actor.Name,
		"aud":          audience,
		"jti":          uuid.NewString(),
		"exp":          now.Add(time.Minute).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)

	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		return "", fmt.Errorf("building actor token: %w", err)
	}

	return signed, nil
}

func signingMethod(algorithm string) (jwt.SigningMethod, error) {
	if algorithm == "" {
		algorithm = "RS256"
	}

	switch algorithm {
	case "RS256", "RS384", "RS512":
		return jwt.GetSigningMethod(algorithm), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSigningAlgorithm, algorithm)
	}
}

func parseSigningKey(app *cvapi.AppAuthConfig) (*rsa.PrivateKey, error) {
	var (
		key *rsa.PrivateKey
		err error
	)

	if app.Passphrase != "" {
		key, err = jwt.ParseRSAPrivateKeyFromPEMWithPassword(app.PrivateKey, app.Passphrase) //nolint:staticcheck // key files in the wild still use PEM encryption
	} else {
		key, err = jwt.ParseRSAPrivateKeyFromPEM(app.PrivateKey)
	}

	if err != nil {
		return nil, fmt.Errorf("parsing app auth private key: %w", err)
	}

	return key, nil
}

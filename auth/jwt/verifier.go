package jwt

import (
	"context"

	"github.com/autom8ter/realtime"
	"github.com/autom8ter/realtime/errors"
	"github.com/autom8ter/realtime/util"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"
)

// Config configures an HS256 token verifier
type Config struct {
	Secret string `json:"secret" yaml:"secret" validate:"required"`
	// Issuer, if set, must match the token's iss claim
	Issuer string `json:"issuer" yaml:"issuer"`
	// Audience, if set, must be present in the token's aud claim
	Audience string `json:"audience" yaml:"audience"`
}

// Claims are the well known claims copied onto the connection metadata
type Claims struct {
	Subject string   `json:"sub"`
	Issuer  string   `json:"iss"`
	Email   string   `json:"email"`
	Roles   []string `json:"roles"`
}

// Verifier verifies HS256 signed tokens
type Verifier struct {
	secret []byte
	parser *gojwt.Parser
}

// NewVerifier creates a verifier
func NewVerifier(config Config) (*Verifier, error) {
	if err := util.ValidateStruct(config); err != nil {
		return nil, err
	}
	opts := []gojwt.ParserOption{gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()})}
	if config.Issuer != "" {
		opts = append(opts, gojwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, gojwt.WithAudience(config.Audience))
	}
	return &Verifier{
		secret: []byte(config.Secret),
		parser: gojwt.NewParser(opts...),
	}, nil
}

// Verify parses the token and returns its claims if the signature and registered claims are valid
func (v *Verifier) Verify(token string) (map[string]any, error) {
	parsed, err := v.parser.Parse(token, func(t *gojwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.Unauthorized, "jwt: invalid token")
	}
	claims, ok := parsed.Claims.(gojwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New(errors.Unauthorized, "jwt: invalid token claims")
	}
	return claims, nil
}

// Sign signs the claims with the verifier's secret
func (v *Verifier) Sign(claims map[string]any) (string, error) {
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims(claims)).SignedString(v.secret)
	if err != nil {
		return "", errors.Wrap(err, errors.Internal, "jwt: failed to sign token")
	}
	return token, nil
}

// Authenticator returns a connection authenticator. An invalid token is rejected as unauthorized. The
// claims of a valid token are stored on the handshake metadata under realtime.MetadataKeyClaims and the
// subject under realtime.MetadataKeyUserID.
func (v *Verifier) Authenticator() realtime.Authenticator {
	return func(ctx context.Context, token string, handshake *realtime.Handshake) (bool, error) {
		claims, err := v.Verify(token)
		if err != nil {
			return false, nil
		}
		var decoded Claims
		if err := util.Decode(claims, &decoded); err != nil {
			return false, errors.Wrap(err, errors.Validation, "jwt: malformed claims")
		}
		if handshake.Metadata == nil {
			handshake.Metadata = realtime.NewMetadata(map[string]any{})
		}
		handshake.Metadata.SetAll(map[string]any{
			realtime.MetadataKeyClaims: decoded,
			realtime.MetadataKeyUserID: decoded.Subject,
		})
		return true, nil
	}
}

// ClaimsFromContext returns the claims of the connection the context belongs to
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	md, ok := realtime.GetMetadata(ctx)
	if !ok {
		return Claims{}, false
	}
	value, ok := md.Get(realtime.MetadataKeyClaims)
	if !ok {
		return Claims{}, false
	}
	claims, ok := value.(Claims)
	return claims, ok
}

// RequireRole returns a middleware that rejects connections whose claims carry none of the roles
func RequireRole(roles ...string) realtime.Middleware {
	return func(ctx context.Context, handshake *realtime.Handshake) error {
		claims, ok := ClaimsFromContext(handshake.Context(ctx))
		if !ok {
			return errors.New(errors.Forbidden, "jwt: connection has no claims")
		}
		granted := lo.Filter(claims.Roles, func(role string, _ int) bool {
			return lo.Contains(roles, role)
		})
		if len(granted) == 0 {
			return errors.New(errors.Forbidden, "jwt: %s is missing one of the roles %v", claims.Subject, roles)
		}
		return nil
	}
}

package server

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/oarkflow/errors"

	"github.com/oarkflow/svcl"
)

const (
	localAuthSub    = "svcl.auth_sub"
	localAuthClaims = "svcl.auth_claims"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Auth guards path prefixes with HS256 bearer tokens.
type Auth struct {
	Secret         []byte
	ProtectedPaths []string
	// AllowMissingOn lists protected prefixes that also accept requests
	// without a token.
	AllowMissingOn []string
}

func (a *Auth) protects(path string) bool {
	return hasPrefix(path, a.ProtectedPaths)
}

func (a *Auth) allowsMissing(path string) bool {
	return hasPrefix(path, a.AllowMissingOn)
}

func hasPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// verify parses an HS256 token and returns its subject and claims.
func (a *Auth) verify(raw string) (string, jwt.MapClaims, error) {
	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", nil, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", nil, ErrInvalidToken
	}
	return sub, claims, nil
}

func bearerToken(c *fiber.Ctx) string {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func (s *Server) authenticate(c *fiber.Ctx) error {
	path := c.Path()
	raw := bearerToken(c)
	protected := s.auth.protects(path)
	c.Locals(localAuthSub, svcl.Empty)
	c.Locals(localAuthClaims, svcl.Empty)
	if raw == "" {
		if protected && !s.auth.allowsMissing(path) {
			return unauthorized(c, ErrMissingToken)
		}
		return c.Next()
	}
	sub, claims, err := s.auth.verify(raw)
	if err != nil {
		if protected {
			return unauthorized(c, err)
		}
		return c.Next()
	}
	c.Locals(localAuthSub, svcl.String(sub))
	c.Locals(localAuthClaims, svcl.JSON(map[string]any(claims)))
	return c.Next()
}

func unauthorized(c *fiber.Ctx, err error) error {
	c.Set(fiber.HeaderWWWAuthenticate, `Bearer realm="svcl"`)
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
}

package server

import (
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/oarkflow/svcl"
)

// dispatch resolves the request against the current program's endpoints.
// The first endpoint whose method and path match wins.
func (s *Server) dispatch(c *fiber.Ctx) error {
	snap := s.current.Load()
	segments := splitPath(c.Path())
	var pathMatched bool
	for _, ep := range snap.program.Endpoints {
		params, ok := matchPath(ep.Path, segments)
		if !ok {
			continue
		}
		pathMatched = true
		if string(ep.Method) != c.Method() {
			continue
		}
		return s.serve(c, snap, ep, params)
	}
	if pathMatched {
		return fiber.NewError(fiber.StatusMethodNotAllowed, "method not allowed")
	}
	return fiber.NewError(fiber.StatusNotFound, "no endpoint for "+c.Method()+" "+c.Path())
}

func (s *Server) serve(c *fiber.Ctx, snap *snapshot, ep *svcl.EndpointDecl, params map[string]string) error {
	vars := make(map[string]svcl.Value)
	for k, v := range c.Queries() {
		vars[k] = svcl.String(v)
	}
	for k, v := range params {
		vars[k] = svcl.String(v)
	}
	if ep.Method == svcl.MethodPost {
		vars["body"] = svcl.String(string(c.Body()))
	}
	if s.auth != nil {
		sub, _ := c.Locals(localAuthSub).(svcl.Value)
		claims, _ := c.Locals(localAuthClaims).(svcl.Value)
		vars["auth_sub"] = sub
		vars["auth_claims"] = claims
	}

	start := time.Now()
	out, err := snap.evaluator.Evaluate(c.UserContext(), svcl.EndpointTarget(ep), vars, s.caps)
	if err != nil {
		s.logger.Error().
			Str("method", c.Method()).
			Str("path", ep.Path).
			Str("request_id", c.GetRespHeader(fiber.HeaderXRequestID)).
			Err(err).
			Msg("endpoint evaluation failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	s.logger.Info().
		Str("method", c.Method()).
		Str("path", ep.Path).
		Dur("duration", time.Since(start)).
		Msg("endpoint served")
	return respond(c, out)
}

func respond(c *fiber.Ctx, v svcl.Value) error {
	if v.IsJSON() {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	} else {
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	}
	return c.SendString(v.Render())
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// matchPath matches request segments against an endpoint pattern whose
// ":name" segments bind one non-empty segment each.
func matchPath(pattern string, segments []string) (map[string]string, bool) {
	parts := splitPath(pattern)
	if len(parts) != len(segments) {
		return nil, false
	}
	var params map[string]string
	for i, part := range parts {
		seg := segments[i]
		if len(part) > 1 && part[0] == ':' {
			if seg == "" {
				return nil, false
			}
			if decoded, err := url.PathUnescape(seg); err == nil {
				seg = decoded
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[part[1:]] = seg
			continue
		}
		if part != seg {
			return nil, false
		}
	}
	return params, true
}

func (s *Server) healthHandler(c *fiber.Ctx) error {
	snap := s.current.Load()
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"version":   s.version,
		"endpoints": len(snap.program.Endpoints),
		"loadedAt":  snap.loadedAt.Format(time.RFC3339),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) schemaHandler(c *fiber.Ctx) error {
	return c.JSON(s.current.Load().schema)
}

func (s *Server) diagnosticsHandler(c *fiber.Ctx) error {
	diags := s.current.Load().diagnostics
	if diags == nil {
		diags = []svcl.Diagnostic{}
	}
	warnings, errs := svcl.Count(diags)
	return c.JSON(fiber.Map{
		"diagnostics": diags,
		"warnings":    warnings,
		"errors":      errs,
	})
}

func (s *Server) sourceHandler(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(s.current.Load().source)
}

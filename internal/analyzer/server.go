package analyzer

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const defaultResults = 10

// Server is the analyzer's RPC surface: a heartbeat and the page search,
// both behind the uplink's shared key.
type Server struct {
	app     *fiber.App
	manager *Manager
	logger  *slog.Logger
}

func NewServer(manager *Manager, uplinkKey string, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
	})

	s := &Server{app: app, manager: manager, logger: logger}

	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"latency_ms", time.Since(start).Milliseconds())
		return err
	})
	app.Use(authMiddleware(uplinkKey))

	app.Get("/heartbeat", s.heartbeatHandler)
	app.Get("/pages", s.pagesHandler)

	return s
}

// authMiddleware validates the Authorization: Bearer <key> header against the
// uplink's shared key.
func authMiddleware(uplinkKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rawAuth := c.Get("Authorization")
		if rawAuth == "" || !strings.HasPrefix(rawAuth, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing bearer token",
			})
		}
		token := strings.TrimSpace(strings.TrimPrefix(rawAuth, "Bearer "))
		if subtle.ConstantTimeCompare([]byte(token), []byte(uplinkKey)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid key",
			})
		}
		return c.Next()
	}
}

func (s *Server) heartbeatHandler(c *fiber.Ctx) error {
	return c.JSON(true)
}

func (s *Server) pagesHandler(c *fiber.Ctx) error {
	query := c.Query("query")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "query parameter is required",
		})
	}

	num := defaultResults
	if raw := c.Query("num"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "num must be an integer",
			})
		}
		num = n
	}

	views, err := s.manager.GetPages(c.Context(), query, num)
	if err != nil {
		if errors.Is(err, ErrSettingUp) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": SettingUp.String(),
			})
		}
		s.logger.Error("search failed", "query", query, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "search failed",
		})
	}

	return c.JSON(views)
}

// Listen serves until the listener fails or Shutdown is called.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

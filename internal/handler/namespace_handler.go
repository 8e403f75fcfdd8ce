package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/netevents/internal/domain"
	"github.com/kursadbilgin/netevents/internal/ratelimit"
	"github.com/kursadbilgin/netevents/internal/service"
)

type NamespaceService interface {
	Namespaces() []service.NamespaceInfo
	Define(ctx context.Context, p domain.NamespacePolicy) (*domain.NamespacePolicy, error)
	Stats(name string) (ratelimit.Stats, error)
	Remaining(name, key string) (int, error)
	SetRateLimit(ctx context.Context, name string, cfg ratelimit.Config) (*domain.NamespacePolicy, error)
	RemoveRateLimit(ctx context.Context, name string) (*domain.NamespacePolicy, error)
	SetMaxCalls(ctx context.Context, name string, maxCalls int) (*domain.NamespacePolicy, error)
	Reset(name, key string) error
	AddTokens(name, key string, amount int) error
}

type NamespaceHandler struct {
	service NamespaceService
}

func NewNamespaceHandler(service NamespaceService) (*NamespaceHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("namespace service is required")
	}
	return &NamespaceHandler{service: service}, nil
}

func RegisterNamespaceRoutes(router fiber.Router, service NamespaceService) error {
	h, err := NewNamespaceHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/namespaces", h.ListNamespaces)
	v1.Put("/namespaces/:name", h.DefineNamespace)
	v1.Get("/namespaces/:name/ratelimit/stats", h.GetStats)
	v1.Get("/namespaces/:name/ratelimit/remaining/:key", h.GetRemaining)
	v1.Put("/namespaces/:name/ratelimit", h.SetRateLimit)
	v1.Delete("/namespaces/:name/ratelimit", h.RemoveRateLimit)
	v1.Patch("/namespaces/:name/ratelimit/max-calls", h.SetMaxCalls)
	v1.Post("/namespaces/:name/ratelimit/reset", h.Reset)
	v1.Post("/namespaces/:name/ratelimit/tokens", h.AddTokens)

	return nil
}

type rateLimitRequest struct {
	Preset     string  `json:"preset,omitempty"`
	Strategy   string  `json:"strategy"`
	MaxCalls   int     `json:"maxCalls"`
	WindowMs   int64   `json:"windowMs"`
	BurstSize  int     `json:"burstSize,omitempty"`
	RefillRate float64 `json:"refillRate,omitempty"`
}

type defineNamespaceRequest struct {
	Channel     string            `json:"channel"`
	RateLimit   *rateLimitRequest `json:"rateLimit,omitempty"`
	RelayEvents []string          `json:"relayEvents,omitempty"`
}

type maxCallsRequest struct {
	MaxCalls int `json:"maxCalls"`
}

type resetRequest struct {
	Key string `json:"key"`
}

type addTokensRequest struct {
	Key    string `json:"key"`
	Amount int    `json:"amount"`
}

type rateLimitResponse struct {
	Strategy   string  `json:"strategy"`
	MaxCalls   int     `json:"maxCalls"`
	WindowMs   int64   `json:"windowMs"`
	BurstSize  int     `json:"burstSize,omitempty"`
	RefillRate float64 `json:"refillRate,omitempty"`
}

type namespaceResponse struct {
	Name      string             `json:"name"`
	Channel   string             `json:"channel"`
	Events    []string           `json:"events"`
	RateLimit *rateLimitResponse `json:"rateLimit,omitempty"`
}

type policyResponse struct {
	Name        string             `json:"name"`
	Channel     string             `json:"channel"`
	RateLimit   *rateLimitResponse `json:"rateLimit,omitempty"`
	RelayEvents []string           `json:"relayEvents,omitempty"`
	CreatedAt   time.Time          `json:"createdAt,omitempty"`
	UpdatedAt   time.Time          `json:"updatedAt,omitempty"`
}

type remainingResponse struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Remaining int    `json:"remaining"`
}

func (h *NamespaceHandler) ListNamespaces(c *fiber.Ctx) error {
	infos := h.service.Namespaces()
	out := make([]namespaceResponse, 0, len(infos))
	for _, info := range infos {
		resp := namespaceResponse{
			Name:    info.Name,
			Channel: info.Channel.String(),
			Events:  info.Events,
		}
		if info.RateLimit != nil {
			resp.RateLimit = toRateLimitResponse(*info.RateLimit)
		}
		if resp.Events == nil {
			resp.Events = []string{}
		}
		out = append(out, resp)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": out})
}

func (h *NamespaceHandler) DefineNamespace(c *fiber.Ctx) error {
	var req defineNamespaceRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return toHTTPError(err)
	}
	policy := domain.NamespacePolicy{
		Name:        c.Params("name"),
		Channel:     channel,
		RelayEvents: req.RelayEvents,
	}
	if req.RateLimit != nil {
		cfg, err := req.RateLimit.config()
		if err != nil {
			return toHTTPError(err)
		}
		ratelimit.ToPolicy(&policy, cfg)
	}

	saved, err := h.service.Define(c.UserContext(), policy)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toPolicyResponse(saved))
}

func (h *NamespaceHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.Params("name"))
	if err != nil {
		return toHTTPError(err)
	}
	if stats.PerKey == nil {
		stats.PerKey = map[string]ratelimit.KeyStats{}
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}

func (h *NamespaceHandler) GetRemaining(c *fiber.Ctx) error {
	name, key := c.Params("name"), c.Params("key")
	remaining, err := h.service.Remaining(name, key)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(remainingResponse{
		Namespace: name,
		Key:       key,
		Remaining: remaining,
	})
}

func (h *NamespaceHandler) SetRateLimit(c *fiber.Ctx) error {
	var req rateLimitRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	cfg, err := req.config()
	if err != nil {
		return toHTTPError(err)
	}

	policy, err := h.service.SetRateLimit(c.UserContext(), c.Params("name"), cfg)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toPolicyResponse(policy))
}

func (h *NamespaceHandler) RemoveRateLimit(c *fiber.Ctx) error {
	if _, err := h.service.RemoveRateLimit(c.UserContext(), c.Params("name")); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *NamespaceHandler) SetMaxCalls(c *fiber.Ctx) error {
	var req maxCallsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	policy, err := h.service.SetMaxCalls(c.UserContext(), c.Params("name"), req.MaxCalls)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toPolicyResponse(policy))
}

func (h *NamespaceHandler) Reset(c *fiber.Ctx) error {
	var req resetRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	if err := h.service.Reset(c.Params("name"), strings.TrimSpace(req.Key)); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *NamespaceHandler) AddTokens(c *fiber.Ctx) error {
	var req addTokensRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.service.AddTokens(c.Params("name"), req.Key, req.Amount); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (r rateLimitRequest) config() (ratelimit.Config, error) {
	if strings.TrimSpace(r.Preset) != "" {
		return ratelimit.Preset(r.Preset)
	}
	strategy, err := ratelimit.ParseStrategy(r.Strategy)
	if err != nil {
		return ratelimit.Config{}, err
	}
	cfg := ratelimit.Config{
		MaxCalls:   r.MaxCalls,
		TimeWindow: time.Duration(r.WindowMs) * time.Millisecond,
		Strategy:   strategy,
		BurstSize:  r.BurstSize,
		RefillRate: r.RefillRate,
	}
	if err := cfg.Validate(); err != nil {
		return ratelimit.Config{}, err
	}
	return cfg, nil
}

func toRateLimitResponse(cfg ratelimit.Config) *rateLimitResponse {
	return &rateLimitResponse{
		Strategy:   cfg.Strategy.String(),
		MaxCalls:   cfg.MaxCalls,
		WindowMs:   cfg.TimeWindow.Milliseconds(),
		BurstSize:  cfg.BurstSize,
		RefillRate: cfg.RefillRate,
	}
}

func toPolicyResponse(p *domain.NamespacePolicy) policyResponse {
	resp := policyResponse{
		Name:        p.Name,
		Channel:     p.Channel.String(),
		RelayEvents: p.RelayEvents,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.RateLimited() {
		resp.RateLimit = &rateLimitResponse{
			Strategy:   p.Strategy,
			MaxCalls:   p.MaxCalls,
			WindowMs:   p.WindowMs,
			BurstSize:  p.BurstSize,
			RefillRate: p.RefillRate,
		}
	}
	return resp
}

package server

import (
	"errors"
	"net/url"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/img-vault/img-vault/internal/logging"
	"github.com/img-vault/img-vault/internal/manager"
	"github.com/img-vault/img-vault/internal/pipeline"
	"github.com/img-vault/img-vault/internal/store"
)

// assetHandler 把一次 HTTP 请求映射为缓存核心的一个消费者：
// 请求 ID 即消费者 ID，锁的生命周期覆盖整个响应。
type assetHandler struct {
	manager *manager.Manager
	logger  *logrus.Logger
	allowed func(host string) bool
}

// serveAsset 执行 “加锁 → 取本地路径（必要时回源）→ 发送文件 → 解锁”。
func (h *assetHandler) serveAsset(c fiber.Ctx) error {
	rawURL := c.Query("url")
	if ok, resp := h.checkAssetURL(c, rawURL); !ok {
		return resp
	}

	class := classFromQuery(c)
	consumerID := RequestID(c)

	path, err := h.manager.Acquire(c.Context(), rawURL, class, consumerID)
	defer h.manager.Release(rawURL, class, consumerID)
	if err != nil {
		return h.renderAssetError(c, rawURL, err)
	}

	fields := logging.AssetFields(consumerID, rawURL, class.String(), consumerID, h.manager.CacheSize())
	fields["action"] = "asset_served"
	h.logger.WithFields(fields).Info("资源已返回")

	return c.SendFile(path)
}

// preWarm 一次性预取资源，事后不持有任何锁。
func (h *assetHandler) preWarm(c fiber.Ctx) error {
	rawURL := c.Query("url")
	if ok, resp := h.checkAssetURL(c, rawURL); !ok {
		return resp
	}

	class := classFromQuery(c)
	entry, err := h.manager.PreWarm(c.Context(), rawURL, class)
	if err != nil {
		return h.renderAssetError(c, rawURL, err)
	}

	return c.JSON(fiber.Map{
		"identifier": entry.Identifier,
		"class":      entry.Class.String(),
		"size_bytes": entry.SizeBytes,
	})
}

// flushAll 无条件清空两个缓存目录，逐目录上报结果。
func (h *assetHandler) flushAll(c fiber.Ctx) error {
	result := h.manager.FlushAll()
	return c.JSON(result)
}

// stats 输出当前容量与锁持有情况，便于运维观察清理行为。
func (h *assetHandler) stats(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"cache_bytes":               h.manager.CacheSize(),
		"held_identifiers":          h.manager.HeldCount(),
		"prune_trigger_limit_bytes": h.manager.PruneTriggerLimitBytes(),
	})
}

// checkAssetURL 在进入缓存核心前完成 URL 语法与主机名单校验，
// 核心假定收到的 URL 已通过校验，这一层是唯一的把关点。
// 校验未通过时返回 (false, 已写出的响应)。
func (h *assetHandler) checkAssetURL(c fiber.Ctx, rawURL string) (bool, error) {
	if rawURL == "" {
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "missing_url",
		})
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid_url",
		})
	}

	if !h.allowed(parsed.Host) {
		h.logger.WithFields(logrus.Fields{
			"action": "host_rejected",
			"host":   parsed.Host,
		}).Warn("主机不在允许名单内")
		return false, c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "host_not_allowed",
		})
	}

	return true, nil
}

// renderAssetError 按错误类型映射状态码：入参问题 400、回源失败 502、
// 落盘失败 507，其余一律 500。
func (h *assetHandler) renderAssetError(c fiber.Ctx, rawURL string, err error) error {
	fields := logrus.Fields{
		"action": "asset_error",
		"url":    rawURL,
	}
	h.logger.WithFields(fields).Warn(err.Error())

	var ve *manager.ValidationError
	var fe *pipeline.FetchError
	var we *store.WriteError

	switch {
	case errors.As(err, &ve):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed"})
	case errors.As(err, &fe):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "fetch_failed"})
	case errors.As(err, &we):
		return c.Status(fiber.StatusInsufficientStorage).JSON(fiber.Map{"error": "write_failed"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
}

// classFromQuery 解析 permanent 查询参数，默认临时层。
func classFromQuery(c fiber.Ctx) store.Class {
	switch c.Query("permanent") {
	case "1", "true", "yes":
		return store.ClassPermanent
	default:
		return store.ClassTemporary
	}
}

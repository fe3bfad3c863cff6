package routes

import (
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/thumb-hub/internal/cache"
	"github.com/any-hub/thumb-hub/internal/worker"
)

// RegisterWorkerRoutes 暴露 /-/ 诊断接口：worker 版本与状态、客户端列表、缓存内容。
func RegisterWorkerRoutes(app *fiber.App, registration *worker.Registration, storage cache.Storage) {
	if app == nil || registration == nil || storage == nil {
		return
	}

	app.Get("/-/worker", func(c fiber.Ctx) error {
		names, err := storage.Names(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_unavailable"})
		}
		return c.JSON(fiber.Map{
			"active":  encodeWorker(registration.Active()),
			"waiting": encodeWorker(registration.Waiting()),
			"clients": registration.Clients().List(),
			"caches":  names,
		})
	})

	app.Get("/-/caches/:name", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		if err := cache.ValidateName(name); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_cache_name"})
		}
		// 只读接口不能用 Open 探测存在性，Open 会创建目录。
		names, err := storage.Names(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_unavailable"})
		}
		if !slices.Contains(names, name) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "cache_not_found"})
		}
		store, err := storage.Open(c.Context(), name)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_unavailable"})
		}
		entries, err := store.Keys(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_unavailable"})
		}
		return c.JSON(fiber.Map{
			"name":    store.Name(),
			"entries": encodeEntries(entries),
		})
	})

	// 模拟关闭一个标签页：客户端被移除，必要时激活 waiting 版本。
	app.Delete("/-/clients/:id", func(c fiber.Ctx) error {
		id := strings.TrimSpace(c.Params("id"))
		if id == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "client_id_required"})
		}
		if err := registration.Detach(c.Context(), id); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "activation_failed"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

type workerPayload struct {
	Version    string `json:"version"`
	State      string `json:"state"`
	CacheName  string `json:"cache_name"`
	PathPrefix string `json:"path_prefix"`
}

type entryPayload struct {
	Key      string `json:"key"`
	Status   int    `json:"status"`
	Size     string `json:"size"`
	StoredAt string `json:"stored_at"`
	Age      string `json:"age"`
}

func encodeWorker(w *worker.Worker) *workerPayload {
	if w == nil {
		return nil
	}
	return &workerPayload{
		Version:    w.Version(),
		State:      string(w.State()),
		CacheName:  w.CacheName(),
		PathPrefix: w.PathPrefix(),
	}
}

func encodeEntries(entries []cache.Entry) []entryPayload {
	result := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		result = append(result, entryPayload{
			Key:      entry.Key(),
			Status:   entry.StatusCode,
			Size:     humanize.Bytes(uint64(entry.SizeBytes)),
			StoredAt: entry.StoredAt.UTC().Format(time.RFC3339),
			Age:      humanize.Time(entry.StoredAt),
		})
	}
	return result
}

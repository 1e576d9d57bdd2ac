// Command syncagent runs a headless synchronization client for one
// document: it connects to the document endpoint, keeps a local replica via
// the plaintext merge module, and durably queues local operations while
// offline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/fivetentaylor/pointy-sub000/internal/config"
	"github.com/fivetentaylor/pointy-sub000/internal/crosstab"
	"github.com/fivetentaylor/pointy-sub000/internal/engine"
	"github.com/fivetentaylor/pointy-sub000/internal/logging"
	"github.com/fivetentaylor/pointy-sub000/internal/merge"
	"github.com/fivetentaylor/pointy-sub000/internal/merge/plaintext"
	"github.com/fivetentaylor/pointy-sub000/internal/opstore"
)

func main() {
	cfg := config.Load()
	logger := logging.NewLogger("syncagent")

	if cfg.DocID == "" {
		logger.Error("SYNC_DOC_ID is required")
		os.Exit(1)
	}

	var bus crosstab.Channel
	if cfg.RedisAddr != "" {
		redisBus, err := crosstab.NewRedisChannel(cfg.RedisAddr)
		if err != nil {
			logger.Warn("Redis unavailable, using in-process channel", map[string]interface{}{
				"addr":  cfg.RedisAddr,
				"error": err.Error(),
			})
			bus = crosstab.NewBus()
		} else {
			bus = redisBus
		}
	} else {
		bus = crosstab.NewBus()
	}
	defer bus.Close()

	store := opstore.Open(opstore.Config{
		Backend: cfg.StorageBackend,
		Path:    cfg.StoragePath,
	}, bus)
	defer store.Close()

	eng, err := engine.New(engine.Config{
		DocID:     cfg.DocID,
		Endpoint:  cfg.Endpoint,
		SessionID: uuid.NewString(),
		UserID:    cfg.UserID,
		Name:      cfg.Name,
		Color:     cfg.Color,
		Store:     store,
		Loader:    plaintext.Loader(),
		Surface:   logSurface{logger: logging.NewLogger("surface")},
		OnFatal: func(reason string) {
			logger.Error("Session is unrecoverable, restart required", map[string]interface{}{
				"reason": reason,
			})
		},
	})
	if err != nil {
		logger.Error("Failed to construct engine", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer eng.Close()

	if err := eng.Connect(context.Background()); err != nil {
		logger.Warn("Initial connect failed, retrying in background", map[string]interface{}{
			"error": err.Error(),
		})
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
}

// logSurface is the headless rendering surface: document state changes are
// reported through the log instead of a UI.
type logSurface struct {
	logger *logging.Logger
}

func (s logSurface) Render(html string) {
	s.logger.Debug("Render", map[string]interface{}{"length": len(html)})
}

func (s logSurface) SetEditable(enabled bool) {
	s.logger.Debug("SetEditable", map[string]interface{}{"enabled": enabled})
}

func (s logSurface) Splice(from, to int, html string) {
	s.logger.Debug("Splice", map[string]interface{}{
		"range": fmt.Sprintf("[%d,%d)", from, to),
	})
}

func (s logSurface) SetCaret(span merge.Span) {
	s.logger.Debug("SetCaret", map[string]interface{}{"caret": span.Start.String()})
}

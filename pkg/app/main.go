package app

import (
	"github.com/deskhive/deskhive/pkg/cache"
	"github.com/deskhive/deskhive/pkg/database"
	"github.com/deskhive/deskhive/pkg/events"
	"github.com/deskhive/deskhive/pkg/eventstore"
	"github.com/deskhive/deskhive/pkg/logger"
)

// Application holds shared infrastructure dependencies for the worker.
//
// Logging: app.Logger is backed by a trace-aware handler — use slog's context
// methods and trace_id and span_id are injected automatically:
//
//	app.Logger.InfoContext(ctx, "processing event", "event_id", id)
//	app.Logger.ErrorContext(ctx, "failed to save", "error", err)
//
// Use app.Logger.Info/Error (no context) only for startup and shutdown messages.
type Application struct {
	Db     *database.DB
	Logger logger.Logger
	Bus    events.Bus
	Redis  *cache.RedisClient
	Store  *eventstore.Store
}

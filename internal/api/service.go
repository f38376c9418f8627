// Package api serves the clipboard history over HTTP on a local unix
// socket, for shells and launchers that cannot link the Go packages.
package api

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_service.go -package=mocks github.com/forest6511/clipvault/internal/api Service

import (
	"context"

	"github.com/forest6511/clipvault/internal/app"
	"github.com/forest6511/clipvault/pkg/daemon"
	"github.com/forest6511/clipvault/pkg/notify"
	"github.com/forest6511/clipvault/pkg/query"
	"github.com/forest6511/clipvault/pkg/vault"
)

// Service is the part of app.Service the handlers use.
type Service interface {
	Status(ctx context.Context) app.Status
	UnlockVault(ctx context.Context, password []byte) (bool, error)
	LockVault(ctx context.Context) error

	ListClipboard(ctx context.Context, limit int, after *int64) (query.Page, error)
	SearchClipboard(ctx context.Context, q string, limit int, after *int64) (query.Page, error)
	Latest(ctx context.Context) (query.Result, error)
	Get(ctx context.Context, ref string) (query.Result, error)
	UpdateItem(ctx context.Context, ref string, newContent []byte) (query.Result, error)
	DeleteItem(ctx context.Context, ref string) error
	CopyToClipboard(ctx context.Context, content, contentType string) error

	Settings(ctx context.Context) (vault.Settings, error)
	SaveSettings(ctx context.Context, settings vault.Settings) error

	StartCapture(ctx context.Context) error
	StopCapture()
	CaptureStats() (daemon.Stats, bool)

	Subscribe() (<-chan notify.Event, func())
}

var _ Service = (*app.Service)(nil)

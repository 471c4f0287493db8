//go:build windows

package cli

import (
	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/backend/win32backend"
)

func newBackend() domain.Backend { return win32backend.New() }

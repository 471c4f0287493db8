//go:build linux

package cli

import (
	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/backend/ptracebackend"
)

func newBackend() domain.Backend { return ptracebackend.New() }

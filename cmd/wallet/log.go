package main

import (
	"github.com/lexie-crypto/lexie-wallet/internal/api"
	"github.com/lexie-crypto/lexie-wallet/internal/bootstrap"
	statedb "github.com/lexie-crypto/lexie-wallet/internal/database"
	"github.com/lexie-crypto/lexie-wallet/internal/engine"
	"github.com/lexie-crypto/lexie-wallet/internal/gate"
	"github.com/lexie-crypto/lexie-wallet/internal/hydration"
	"github.com/lexie-crypto/lexie-wallet/internal/ipc"
	"github.com/lexie-crypto/lexie-wallet/internal/logger"
	"github.com/lexie-crypto/lexie-wallet/internal/metadata"
	"github.com/lexie-crypto/lexie-wallet/internal/ratelimit"
	"github.com/lexie-crypto/lexie-wallet/internal/retry"
	"github.com/lexie-crypto/lexie-wallet/internal/scan"
	"github.com/lexie-crypto/lexie-wallet/internal/session"
)

// setupLoggers hands every subsystem its tagged logger.
func setupLoggers() {
	api.UseLogger(logger.SubLogger("API"))
	bootstrap.UseLogger(logger.SubLogger("BOOT"))
	statedb.UseLogger(logger.SubLogger("SDB"))
	engine.UseLogger(logger.SubLogger("ENGN"))
	gate.UseLogger(logger.SubLogger("GATE"))
	hydration.UseLogger(logger.SubLogger("HYDR"))
	ipc.UseLogger(logger.SubLogger("IPC"))
	metadata.UseLogger(logger.SubLogger("META"))
	ratelimit.UseLogger(logger.SubLogger("RLIM"))
	retry.UseLogger(logger.SubLogger("RTRY"))
	scan.UseLogger(logger.SubLogger("SCAN"))
	session.UseLogger(logger.SubLogger("SESS"))
}

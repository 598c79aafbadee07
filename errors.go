package oxcache

import "github.com/Kirky-X/oxcache/oxerrors"

// The error taxonomy lives in oxerrors so the tier packages (l1, l2,
// wal, invalidation, ...) can construct and wrap it without importing
// this root package. These aliases let callers keep writing
// oxcache.ErrBackend / oxcache.BackendError as if it were defined here.

type (
	BackendSubKind     = oxerrors.BackendSubKind
	ConfigError        = oxerrors.ConfigError
	SerializationError = oxerrors.SerializationError
	BackendError       = oxerrors.BackendError
	WalError           = oxerrors.WalError
	InternalError      = oxerrors.InternalError
	ShutdownError      = oxerrors.ShutdownError
)

const (
	BackendTimeout  = oxerrors.BackendTimeout
	BackendConnect  = oxerrors.BackendConnect
	BackendProtocol = oxerrors.BackendProtocol
)

var (
	ErrConfig        = oxerrors.ErrConfig
	ErrSerialization = oxerrors.ErrSerialization
	ErrBackend       = oxerrors.ErrBackend
	ErrWal           = oxerrors.ErrWal
	ErrInternal      = oxerrors.ErrInternal
	ErrShutdown      = oxerrors.ErrShutdown
	ErrNotFound      = oxerrors.ErrNotFound

	NewConfigError        = oxerrors.NewConfigError
	NewSerializationError = oxerrors.NewSerializationError
	NewBackendError       = oxerrors.NewBackendError
	NewWalError           = oxerrors.NewWalError
	NewInternalError      = oxerrors.NewInternalError
)

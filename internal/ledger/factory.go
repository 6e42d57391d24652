package ledger

import (
	"strings"

	"github.com/rs/zerolog"
)

// NewStoreFromURL selects a Store backend by databaseUrl scheme:
// "sqlite://" or "postgresql://"/"postgres://" get a durable SQL store,
// anything else — including the empty string — falls back to the ephemeral
// in-memory store.
func NewStoreFromURL(databaseURL string, logger zerolog.Logger) (Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"), strings.HasPrefix(databaseURL, "postgresql://"), strings.HasPrefix(databaseURL, "postgres://"):
		return NewSQLStore(databaseURL, logger)
	default:
		logger.Info().Str("databaseUrl", databaseURL).Msg("unrecognized or empty databaseUrl, using in-memory ledger store")
		return NewMemStore(), nil
	}
}

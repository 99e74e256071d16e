package telemetry_test

import (
	"testing"

	"github.com/gimlee/settlement/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/require"
)

func TestInitSentry(t *testing.T) {
	flush, err := telemetry.InitSentry("not a dsn", "test", "dev")
	require.Error(t, err)
	require.Nil(t, flush)
}

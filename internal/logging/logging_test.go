package logging_test

import (
	"testing"

	"github.com/Tyrowin/gorelay/internal/logging"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	logger, err := logging.New("debug", "console")
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger, err = logging.New("warn", "json")
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := logging.New("chatty", "json")
	require.Error(t, err)
}

func TestDefaultIfNil(t *testing.T) {
	require.NotNil(t, logging.DefaultIfNil(nil))
}

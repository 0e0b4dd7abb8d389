package util

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, "short text", WrapString("  short   text "))
	assert.Equal(t, "", WrapString(""))
}

func TestGetBytes(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("cache-size", "64MiB")
	n, err := GetBytes("cache-size")
	require.NoError(t, err)
	assert.Equal(t, int64(64<<20), n)

	viper.Set("cache-size", "many")
	_, err = GetBytes("cache-size")
	assert.Error(t, err)
}

func TestInitConfigReadsEnvironment(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("PCACHE_FILE_SIZE", "2GiB")

	InitConfig()
	n, err := GetBytes("file-size")
	require.NoError(t, err)
	assert.Equal(t, int64(2<<30), n)
}

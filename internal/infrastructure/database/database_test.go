package database

import (
	"go/parser"
	"go/token"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"viplinks/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectorFor(t *testing.T) {
	for _, driver := range []string{"mysql", "postgres"} {
		d, err := dialectorFor(&config.DatabaseConfig{Driver: driver, Host: "db", Port: 5432})
		require.NoError(t, err)
		assert.Equal(t, driver, d.Name())
	}

	_, err := dialectorFor(&config.DatabaseConfig{Driver: "sqlite"})
	assert.Error(t, err)
}

// 生产代码不能依赖 cgo 的 sqlite 驱动，测试库在 internal/testutil 里
func TestProductionCodeDoesNotImportSQLite(t *testing.T) {
	files, err := filepath.Glob("*.go")
	require.NoError(t, err)

	fset := token.NewFileSet()
	for _, file := range files {
		if strings.HasSuffix(file, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
		require.NoError(t, err)
		for _, imp := range f.Imports {
			path, err := strconv.Unquote(imp.Path.Value)
			require.NoError(t, err)
			assert.NotEqual(t, "gorm.io/driver/sqlite", path, file)
		}
	}
}

package coupon

import (
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"robux-shop/internal/model"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestCatalogFile creates a gzipped catalog with one line per entry.
func createTestCatalogFile(t *testing.T, filename string, lines []string) string {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, filename)

	file, err := os.Create(filePath)
	require.NoError(t, err)
	defer file.Close()

	gzipWriter := gzip.NewWriter(file)
	defer gzipWriter.Close()

	for _, line := range lines {
		_, err := gzipWriter.Write([]byte(line + "\n"))
		require.NoError(t, err)
	}

	return filePath
}

func TestFileLoader_Load_Success(t *testing.T) {
	loader := NewFileLoader(zerolog.Nop())

	filePath := createTestCatalogFile(t, "catalog.gz", []string{
		`{"code":"SAVE10","discount":"0.10","maxUses":100,"active":true,"createdBy":"admin"}`,
		`{"code":"bigbuyer","discount":0.15,"minQuantity":5000,"maxQuantity":50000,"active":true}`,
		`{"code":"LAUNCH","discount":"0.25","maxUses":1,"active":false,"validUntil":"2026-12-31T23:59:59Z"}`,
	})

	catalog, err := loader.Load(context.Background(), filePath)

	require.NoError(t, err)
	require.NotNil(t, catalog)
	assert.Equal(t, 3, catalog.Size())

	save10, ok := catalog.Lookup("SAVE10")
	require.True(t, ok)
	assert.True(t, save10.Discount.Equal(decimal.RequireFromString("0.10")))
	assert.Equal(t, 100, *save10.MaxUses)
	assert.Equal(t, "admin", save10.CreatedBy)

	// Codes are upper-cased on load
	big, ok := catalog.Lookup("BIGBUYER")
	require.True(t, ok)
	assert.Equal(t, 5000, big.MinQuantity)
	assert.Equal(t, 50000, *big.MaxQuantity)
	assert.Nil(t, big.MaxUses)

	launch, ok := catalog.Lookup("LAUNCH")
	require.True(t, ok)
	assert.False(t, launch.Active)
	require.NotNil(t, launch.ValidUntil)
	assert.Equal(t, 2026, launch.ValidUntil.Year())
}

func TestFileLoader_Load_SkipsBlankAndCommentLines(t *testing.T) {
	loader := NewFileLoader(zerolog.Nop())

	filePath := createTestCatalogFile(t, "catalog.gz", []string{
		"# seasonal codes",
		"",
		`{"code":"A1","discount":"0.05","active":true}`,
		"   ",
		`{"code":"B2","discount":"0.05","active":true}`,
	})

	catalog, err := loader.Load(context.Background(), filePath)

	require.NoError(t, err)
	assert.Equal(t, 2, catalog.Size())
}

func TestFileLoader_Load_DuplicateCodesLastWins(t *testing.T) {
	loader := NewFileLoader(zerolog.Nop())

	filePath := createTestCatalogFile(t, "catalog.gz", []string{
		`{"code":"DUP","discount":"0.05","active":true}`,
		`{"code":"dup","discount":"0.20","active":true}`,
	})

	catalog, err := loader.Load(context.Background(), filePath)

	require.NoError(t, err)
	assert.Equal(t, 1, catalog.Size())
	dup, ok := catalog.Lookup("DUP")
	require.True(t, ok)
	assert.True(t, dup.Discount.Equal(decimal.RequireFromString("0.20")))
}

func TestFileLoader_Load_InvalidDefinitions(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "Malformed JSON", line: `{"code":`},
		{name: "Missing code", line: `{"discount":"0.10","active":true}`},
		{name: "Full discount", line: `{"code":"FREE","discount":"1","active":true}`},
		{name: "Negative discount", line: `{"code":"NEG","discount":"-0.1","active":true}`},
		{name: "Negative max uses", line: `{"code":"X","discount":"0.1","maxUses":-1}`},
		{name: "Inverted quantity bounds", line: `{"code":"X","discount":"0.1","minQuantity":500,"maxQuantity":100}`},
	}

	loader := NewFileLoader(zerolog.Nop())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filePath := createTestCatalogFile(t, "catalog.gz", []string{tt.line})

			catalog, err := loader.Load(context.Background(), filePath)

			require.Error(t, err)
			assert.Nil(t, catalog)
			assert.ErrorIs(t, err, model.ErrInvalidCoupon)
			assert.Contains(t, err.Error(), "line 1")
		})
	}
}

func TestFileLoader_Load_FileNotFound(t *testing.T) {
	loader := NewFileLoader(zerolog.Nop())

	catalog, err := loader.Load(context.Background(), "/nonexistent/path/to/catalog.gz")

	require.Error(t, err)
	assert.Nil(t, catalog)
	assert.Contains(t, err.Error(), "failed to open coupon catalog")
}

func TestFileLoader_Load_InvalidGzip(t *testing.T) {
	loader := NewFileLoader(zerolog.Nop())

	filePath := filepath.Join(t.TempDir(), "invalid.gz")
	require.NoError(t, os.WriteFile(filePath, []byte("not a gzip file"), 0644))

	catalog, err := loader.Load(context.Background(), filePath)

	require.Error(t, err)
	assert.Nil(t, catalog)
	assert.Contains(t, err.Error(), "failed to create gzip reader")
}

func TestFileLoader_Load_ContextCancellation(t *testing.T) {
	loader := NewFileLoader(zerolog.Nop())

	filePath := createTestCatalogFile(t, "catalog.gz", []string{
		`{"code":"A1","discount":"0.05","active":true}`,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	catalog, err := loader.Load(ctx, filePath)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, catalog)
}

func TestFileLoader_Load_EmptyFile(t *testing.T) {
	loader := NewFileLoader(zerolog.Nop())

	filePath := createTestCatalogFile(t, "empty.gz", []string{})

	catalog, err := loader.Load(context.Background(), filePath)

	require.NoError(t, err)
	require.NotNil(t, catalog)
	assert.Equal(t, 0, catalog.Size())
	assert.Empty(t, catalog.Coupons())
}

func TestFileLoader_Load_LargeFile(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping large file test in short mode")
	}

	loader := NewFileLoader(zerolog.Nop())

	lines := make([]string, 50_000)
	for i := range lines {
		lines[i] = fmt.Sprintf(`{"code":"CODE%06d","discount":"0.05","maxUses":10,"active":true}`, i)
	}
	filePath := createTestCatalogFile(t, "large.gz", lines)

	catalog, err := loader.Load(context.Background(), filePath)

	require.NoError(t, err)
	assert.Equal(t, 50_000, catalog.Size())

	_, ok := catalog.Lookup("CODE049999")
	assert.True(t, ok)

	coupons := catalog.Coupons()
	assert.Equal(t, "CODE000000", coupons[0].Code)
	assert.Equal(t, "CODE049999", coupons[len(coupons)-1].Code)
}

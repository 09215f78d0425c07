package csv

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/arbitron/internal/domain"
)

func TestOpen_WritesHeaderOnlyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbitrage_data.csv")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, header, rows[0])
}

func TestSave_RoundTripsFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbitrage_data.csv")
	s, err := Open(path)
	require.NoError(t, err)

	ts := time.Now().Truncate(time.Millisecond)
	opp := domain.Opportunity{
		Timestamp:  ts,
		ArbLength:  3,
		ArbRate:    1.0123,
		ArbSurface: 0.0456,
		Assets:     [8]string{"USDT", "BTC", "ETH", "", "", "", "", ""},
	}
	require.NoError(t, s.Save(context.Background(), opp))
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	row := rows[1]
	gotTS, err := ParseTimestamp(row[0])
	require.NoError(t, err)
	assert.Equal(t, ts.UnixMilli(), gotTS.UnixMilli())
	assert.Equal(t, "3", row[1])
	assert.Equal(t, "USDT", row[4])
	assert.Equal(t, "BTC", row[5])
	assert.Equal(t, "ETH", row[6])
	assert.Equal(t, "", row[7])
}

package journal

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"w3up/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Journal {
	j, err := Open(filepath.Join(t.TempDir(), "nested", "journal.db"), logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func txAt(hash, name string, kind models.TxKind, at time.Time) *models.TxRecord {
	return &models.TxRecord{
		Hash:        hash,
		Kind:        kind,
		Name:        name,
		Value:       big.NewInt(10),
		Status:      models.TxStatusPending,
		SubmittedAt: at,
	}
}

func TestSaveAndGet(t *testing.T) {
	j := openTemp(t)
	base := time.Now()

	record := txAt("0x01", "abc", models.TxKindRegister, base)
	require.NoError(t, j.SaveTx(record))

	got, err := j.GetTx("0x01")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "abc", got.Name)
	assert.Equal(t, models.TxStatusPending, got.Status)
	assert.Equal(t, int64(10), got.Value.Int64())

	missing, err := j.GetTx("0xff")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSaveTx_RejectsEmptyHash(t *testing.T) {
	j := openTemp(t)
	assert.Error(t, j.SaveTx(&models.TxRecord{}))
	assert.Error(t, j.SaveTx(nil))
}

func TestHistory_NewestFirstAndUpdatesInPlace(t *testing.T) {
	j := openTemp(t)
	base := time.Now()

	first := txAt("0x01", "abc", models.TxKindRegister, base)
	second := txAt("0x02", "abc", models.TxKindSetRecord, base.Add(time.Second))
	third := txAt("0x03", "hello", models.TxKindRegister, base.Add(2*time.Second))
	for _, r := range []*models.TxRecord{first, second, third} {
		require.NoError(t, j.SaveTx(r))
	}

	// 确认后更新同一条记录，不产生重复
	first.Status = models.TxStatusSuccess
	require.NoError(t, j.SaveTx(first))

	history, err := j.History(0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []string{"0x03", "0x02", "0x01"}, []string{history[0].Hash, history[1].Hash, history[2].Hash})
	assert.Equal(t, models.TxStatusSuccess, history[2].Status)

	limited, err := j.History(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	byName, err := j.ByName("abc", 0)
	require.NoError(t, err)
	assert.Len(t, byName, 2)
}

func TestStats(t *testing.T) {
	j := openTemp(t)
	base := time.Now()

	a := txAt("0x01", "abc", models.TxKindRegister, base)
	b := txAt("0x02", "abc", models.TxKindSetRecord, base.Add(time.Second))
	require.NoError(t, j.SaveTx(a))
	require.NoError(t, j.SaveTx(b))

	a.Status = models.TxStatusSuccess
	b.Status = models.TxStatusFailed
	require.NoError(t, j.SaveTx(a))
	require.NoError(t, j.SaveTx(b))

	stats, err := j.GetStats()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Total)
	assert.Equal(t, uint64(1), stats.Succeeded)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(0), stats.Pending)
}

func TestReset(t *testing.T) {
	j := openTemp(t)
	require.NoError(t, j.SaveTx(txAt("0x01", "abc", models.TxKindRegister, time.Now())))
	require.NoError(t, j.Reset())

	history, err := j.History(0)
	require.NoError(t, err)
	assert.Empty(t, history)
	stats, err := j.GetStats()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.Total)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, logrus.New())
	require.NoError(t, err)
	require.NoError(t, j.SaveTx(txAt("0x01", "abc", models.TxKindRegister, time.Now())))
	require.NoError(t, j.Close())

	j, err = Open(path, logrus.New())
	require.NoError(t, err)
	defer j.Close()
	history, err := j.History(0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, path, j.GetDBPath())
}

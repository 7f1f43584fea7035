package repository

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/ignitionstack/ember/pkg/engine/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBadger(t *testing.T) {
	repo, err := OpenBadger(t.TempDir(), logging.NewNopLogger())
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("k"), []byte("v"))
	}))

	var got []byte
	require.NoError(t, repo.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("k"))
		if err != nil {
			return err
		}
		got, err = item.ValueCopy(nil)
		return err
	}))
	assert.Equal(t, []byte("v"), got)
}

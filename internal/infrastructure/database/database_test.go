package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paysettle/internal/config"
	"paysettle/internal/model"
)

func TestOpenInMemory_MigratesLedgerTables(t *testing.T) {
	db, err := OpenInMemory(t.Name())
	require.NoError(t, err)

	m := db.Migrator()
	assert.True(t, m.HasTable(&model.Transaction{}))
	assert.True(t, m.HasTable(&model.Card{}))
	assert.True(t, m.HasTable(&model.OutboxMessage{}))
	assert.True(t, m.HasIndex(&model.Transaction{}, "OrderReference"))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(&config.DatabaseConfig{Driver: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle")
}

func TestDialector(t *testing.T) {
	for _, driver := range []string{"mysql", "postgres", "sqlite", ""} {
		d, err := dialector(&config.DatabaseConfig{Driver: driver, Host: "localhost", Port: 1})
		require.NoError(t, err, driver)
		assert.NotNil(t, d)
	}
}

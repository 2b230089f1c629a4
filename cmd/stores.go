package cmd

import (
	"fmt"
	"log/slog"

	"github.com/gregriff/duet/configs"
	"github.com/gregriff/duet/internal/dal"
	"github.com/gregriff/duet/internal/db"
	"github.com/gregriff/duet/internal/kv"
	"github.com/gregriff/duet/internal/relay"
)

// stores are the message and profile stores of the configured driver
type stores struct {
	messages relay.MessageStore
	profiles relay.ProfileStore
	close    func() error
}

func openStores(s configs.StorageSettings, log *slog.Logger) (stores, error) {
	switch s.Driver {
	case configs.DriverBadger:
		bdb, err := kv.Open(s.Path)
		if err != nil {
			return stores{}, err
		}
		return stores{
			messages: kv.NewMessageStore(bdb, log),
			profiles: kv.NewProfileStore(bdb),
			close:    bdb.Close,
		}, nil
	case configs.DriverSqlite:
		sqlDB, err := db.Open(s.Path)
		if err != nil {
			return stores{}, err
		}
		return stores{
			messages: dal.NewMessageStore(sqlDB),
			profiles: dal.NewProfileStore(sqlDB),
			close:    sqlDB.Close,
		}, nil
	default:
		return stores{}, fmt.Errorf("unknown storage driver %q", s.Driver)
	}
}

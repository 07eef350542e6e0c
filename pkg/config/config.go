// Package config loads service settings from a file or MongoDB store, with
// .env files and AUTOPILOT_* environment variables layered on top.
package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrej220/autopilot/pkg/config/configstore"
	"github.com/andrej220/autopilot/pkg/config/filestore"
	"github.com/andrej220/autopilot/pkg/config/mongostore"
)

type StoreType int

const (
	FileStore StoreType = iota
	MongoStore
)

var (
	ErrInvalidStoreType = errors.New("invalid store type")
)

// Config combines all store capabilities.
type Config interface {
	configstore.ConfigStore
	Watch(ctx context.Context, onChange func()) error // not every store supports it
}

type FileConfig struct {
	Path string `yaml:"path" toml:"path" json:"path"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" toml:"uri" json:"uri" bson:"uri"`
	DBName   string `yaml:"dbName" toml:"dbName" json:"dbName" bson:"dbName"`
	CollName string `yaml:"collName" toml:"collName" json:"collName" bson:"collName"`
	ID       string `yaml:"id" toml:"id" json:"id" bson:"id"` // document ID
}

func NewStore(ctx context.Context, storeType StoreType, cfg any) (Config, error) {
	switch storeType {
	case FileStore:
		fileCfg, ok := cfg.(*FileConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for file store, expected *FileConfig")
		}
		return filestore.New(fileCfg.Path), nil
	case MongoStore:
		mongoCfg, ok := cfg.(*MongoConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for mongo store, expected *MongoConfig")
		}
		return mongostore.New(ctx, mongoCfg.URI, mongoCfg.DBName, mongoCfg.CollName, mongoCfg.ID)
	default:
		return nil, ErrInvalidStoreType
	}
}

package main

import (
	"encoding/json"
	"os"

	"github.com/autom8ter/realtime"
	"github.com/autom8ter/realtime/auth/jwt"
	"github.com/autom8ter/realtime/errors"
	"github.com/autom8ter/realtime/feed/mongodb"
	rtredis "github.com/autom8ter/realtime/transport/redis"
	"github.com/autom8ter/realtime/transport/socket"
	"github.com/autom8ter/realtime/util"
)

// serverConfig is the yaml (or json) file the serve command is configured with
type serverConfig struct {
	LogLevel string          `json:"logLevel"`
	Mongo    mongodb.Config  `json:"mongo"`
	Socket   socket.Config   `json:"socket"`
	Redis    *rtredis.Config `json:"redis,omitempty"`
	JWT      *jwt.Config     `json:"jwt,omitempty"`
	Relay    realtime.Config `json:"relay"`
}

func loadConfig(path string) (serverConfig, error) {
	var cfg serverConfig
	bits, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, errors.Configuration, "failed to read config file %s", path)
	}
	return parseConfig(bits)
}

func parseConfig(content []byte) (serverConfig, error) {
	var cfg serverConfig
	bits, err := util.YAMLToJSON(content)
	if err != nil {
		return cfg, errors.Wrap(err, errors.Configuration, "failed to parse config")
	}
	if err := json.Unmarshal(bits, &cfg); err != nil {
		return cfg, errors.Wrap(err, errors.Configuration, "failed to decode config")
	}
	if err := util.ValidateStruct(cfg); err != nil {
		return cfg, errors.Wrap(err, errors.Configuration, "invalid config")
	}
	for _, s := range cfg.Relay.Streams {
		if s.Filter == "" {
			continue
		}
		if _, err := realtime.ScriptFilter(s.Filter); err != nil {
			return cfg, errors.Wrap(err, errors.Configuration, "invalid filter for stream %s", s.ID)
		}
	}
	return cfg, nil
}

package main

import (
	"strings"
	"sync"

	"treadle/config"
	"treadle/state"
)

type commandContext struct {
	configFlag *string
	dbFlag     *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, dbFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		dbFlag:     dbFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) databasePath() (string, error) {
	if c.dbFlag != nil && strings.TrimSpace(*c.dbFlag) != "" {
		return strings.TrimSpace(*c.dbFlag), nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return cfg.StateDB, nil
}

// withReadOnlyStore opens the state database without taking the writer
// lock, so inspection works while the engine holds the store open.
func (c *commandContext) withReadOnlyStore(fn func(*state.SQLStore) error) error {
	path, err := c.databasePath()
	if err != nil {
		return err
	}
	store, err := state.OpenReadOnly(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func (c *commandContext) withStore(fn func(*state.SQLStore) error) error {
	path, err := c.databasePath()
	if err != nil {
		return err
	}
	store, err := state.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package core

import (
	"math"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml"
)

var configMutex sync.RWMutex
var config *toml.Tree
var configFileDir string

func init() {
	config, _ = toml.TreeFromMap(map[string]interface{}{})
}

// LoadConfig loads the CoSync configuration from the specified configuration file.
func LoadConfig(file string) {
	tree, err := toml.LoadFile(file)
	if err != nil {
		LogFatal("Config", "Unable to load configuration file: ", err)
		return
	}
	configMutex.Lock()
	config = tree
	configFileDir = filepath.Dir(file)
	configMutex.Unlock()
}

// LoadConfigString loads the configuration from a TOML document.
func LoadConfigString(document string) error {
	tree, err := toml.Load(document)
	if err != nil {
		return err
	}
	configMutex.Lock()
	config = tree
	configFileDir = ""
	configMutex.Unlock()
	return nil
}

func getConfig(key string) interface{} {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return config.Get(key)
}

// GetConfigIntDefault returns the integer configuration value at the specified key or the specified default value if it does not exist.
func GetConfigIntDefault(key string, def int) int {
	valRaw := getConfig(key)
	if valRaw == nil {
		return def
	}
	val, ok := valRaw.(int64)
	if ok && val >= math.MinInt32 && val <= math.MaxInt32 {
		return int(val)
	}
	return def
}

// GetConfigBoolDefault returns the boolean configuration value at the specified key or the specified default value if it does not exist.
func GetConfigBoolDefault(key string, def bool) bool {
	valRaw := getConfig(key)
	if valRaw == nil {
		return def
	}
	val, ok := valRaw.(bool)
	if ok {
		return val
	}
	return def
}

// GetConfigStringDefault returns the string configuration value at the specified key or the specified default value if it does not exist.
func GetConfigStringDefault(key string, def string) string {
	valRaw := getConfig(key)
	if valRaw == nil {
		return def
	}
	val, ok := valRaw.(string)
	if ok {
		return val
	}
	return def
}

// GetConfigUint16Default returns the integer configuration value at the specified key or the specified default value if it does not exist.
// Zero is a valid value; listeners treat port 0 as any free port.
func GetConfigUint16Default(key string, def uint16) uint16 {
	valRaw := getConfig(key)
	if valRaw == nil {
		return def
	}
	val, ok := valRaw.(int64)
	if ok && val >= 0 && val <= math.MaxUint16 {
		return uint16(val)
	}
	return def
}

// GetConfigArrayString returns the configuration array value at the specified key or nil if it does not exist.
func GetConfigArrayString(key string) []string {
	valRaw := getConfig(key)
	if valRaw == nil {
		return nil
	}
	switch val := valRaw.(type) {
	case []string:
		return val
	case []interface{}:
		ret := make([]string, 0, len(val))
		for _, v := range val {
			if s, ok := v.(string); ok {
				ret = append(ret, s)
			}
		}
		return ret
	}
	return nil
}

// ResolveConfigFileRelPath resolves a path relative to the directory of the loaded configuration file.
func ResolveConfigFileRelPath(target string) string {
	if target == "" || filepath.IsAbs(target) {
		return target
	}
	configMutex.RLock()
	defer configMutex.RUnlock()
	return filepath.Join(configFileDir, target)
}

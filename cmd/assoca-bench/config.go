// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
)

// Config describes one workload run.
type Config struct {
	// ElementSize is the payload size of the table in bytes.
	ElementSize int `toml:"element_size"`
	// Keys is the number of distinct keys inserted.
	Keys int `toml:"keys"`
	// DeleteFraction is the fraction of keys deleted after insertion.
	DeleteFraction float64 `toml:"delete_fraction"`
	// Compact forces a reform after the deletions.
	Compact       bool `toml:"compact"`
	RandomProbing bool `toml:"random_probing"`
	BloomBytes    int  `toml:"bloom_bytes"`
	// Seed fixes the table seed. Zero draws it from system entropy.
	Seed    uint64 `toml:"seed"`
	Verbose bool   `toml:"verbose"`
}

func defaultConfig() Config {
	return Config{
		ElementSize:    8,
		Keys:           100_000,
		DeleteFraction: 0.9,
		Compact:        true,
		BloomBytes:     16 << 10,
	}
}

// LoadConfig reads a TOML workload file. Keys absent from the file keep
// their default values.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Wrapf(err, "decoding %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, errors.Newf("%s: unknown keys %v", path, undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "validating %s", path)
	}
	return cfg, nil
}

// Validate checks the workload parameters.
func (c Config) Validate() error {
	switch {
	case c.ElementSize < 0:
		return errors.Newf("element_size must not be negative, got %d", c.ElementSize)
	case c.Keys <= 0:
		return errors.Newf("keys must be positive, got %d", c.Keys)
	case c.DeleteFraction < 0 || c.DeleteFraction > 1:
		return errors.Newf("delete_fraction must be within [0, 1], got %g", c.DeleteFraction)
	case c.BloomBytes <= 0:
		return errors.Newf("bloom_bytes must be positive, got %d", c.BloomBytes)
	}
	return nil
}

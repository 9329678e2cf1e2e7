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
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRun(t *testing.T) {
	base := defaultConfig()
	base.Keys = 5000
	base.Seed = 1

	testCases := []struct {
		name string
		edit func(*Config)
	}{
		{"default", func(*Config) {}},
		{"random-probing", func(c *Config) { c.RandomProbing = true }},
		{"set", func(c *Config) { c.ElementSize = 0 }},
		{"wide", func(c *Config) { c.ElementSize = 24 }},
		{"no-compact", func(c *Config) { c.Compact = false }},
		{"delete-all", func(c *Config) { c.DeleteFraction = 1 }},
		{"tiny-bloom", func(c *Config) { c.BloomBytes = 1 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.edit(&cfg)
			require.NoError(t, cfg.Validate())
			require.NoError(t, run(cfg, zaptest.NewLogger(t)))
		})
	}
}

func TestPayload(t *testing.T) {
	require.Equal(t, []byte{1, 1}, payload(257, 2))
	require.Equal(t, []byte{5, 0, 0, 0, 0, 0, 0, 0, 0, 0}, payload(5, 10))
	require.Empty(t, payload(5, 0))
}

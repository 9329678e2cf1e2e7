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

// Command assoca-bench drives a table through an insert, delete and compact
// workload described by a TOML file, verifying every key along the way.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hexhive/assoca"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML workload file")
	flag.Parse()

	cfg := defaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = LoadConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "assoca-bench: %v\n", err)
			os.Exit(2)
		}
	}

	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "assoca-bench: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("workload failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func key(i int) string {
	return "key-" + strconv.Itoa(i)
}

// payload fills a value of size bytes from i. Values shorter than eight
// bytes hold the low bytes of i.
func payload(i, size int) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(i))
	v := make([]byte, size)
	copy(v, buf[:])
	return v
}

func tableOptions(cfg Config, logger *zap.Logger) []assoca.Option {
	opts := []assoca.Option{
		assoca.WithLogger(logger.Named("table")),
		assoca.WithBloomBytes(cfg.BloomBytes),
	}
	if cfg.RandomProbing {
		opts = append(opts, assoca.WithRandomProbing())
	}
	if cfg.Seed != 0 {
		opts = append(opts, assoca.WithSeed(cfg.Seed))
	}
	return opts
}

func run(cfg Config, logger *zap.Logger) error {
	t, err := assoca.New(cfg.ElementSize, tableOptions(cfg, logger)...)
	if err != nil {
		return err
	}
	defer t.Close()

	start := time.Now()
	for i := 0; i < cfg.Keys; i++ {
		if err := t.Set(t.HashString(key(i)), payload(i, cfg.ElementSize)); err != nil {
			return errors.Wrapf(err, "inserting %s", key(i))
		}
	}
	logger.Info("inserted", zap.Int("keys", cfg.Keys), zap.Duration("elapsed", time.Since(start)),
		zap.Any("stats", t.Stats()))
	if err := verify(t, cfg, 0); err != nil {
		return err
	}

	deleted := int(float64(cfg.Keys) * cfg.DeleteFraction)
	start = time.Now()
	for i := 0; i < deleted; i++ {
		if err := t.Delete(t.HashString(key(i))); err != nil {
			return errors.Wrapf(err, "deleting %s", key(i))
		}
	}
	logger.Info("deleted", zap.Int("keys", deleted), zap.Duration("elapsed", time.Since(start)),
		zap.Any("stats", t.Stats()))
	if err := verify(t, cfg, deleted); err != nil {
		return err
	}

	if cfg.Compact {
		start = time.Now()
		if err := t.Compact(); err != nil {
			return errors.Wrap(err, "compacting")
		}
		logger.Info("compacted", zap.Duration("elapsed", time.Since(start)), zap.Any("stats", t.Stats()))
		if err := verify(t, cfg, deleted); err != nil {
			return err
		}
	}
	return nil
}

// verify checks that keys [0, deleted) are absent and the rest hold their
// payloads.
func verify(t *assoca.Table, cfg Config, deleted int) error {
	for i := 0; i < cfg.Keys; i++ {
		id := t.HashString(key(i))
		v, ok := t.Get(id)
		switch {
		case i < deleted && ok:
			return errors.Newf("%s present after deletion", key(i))
		case i >= deleted && !ok:
			return errors.Newf("%s missing", key(i))
		case ok && string(v) != string(payload(i, cfg.ElementSize)):
			return errors.Newf("%s: payload %x, want %x", key(i), v, payload(i, cfg.ElementSize))
		}
	}
	if want := cfg.Keys - deleted; t.Len() != want {
		return errors.Newf("table holds %d elements, want %d", t.Len(), want)
	}
	return nil
}

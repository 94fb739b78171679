// File: server/config_file.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// YAML configuration file loader. Byte sizes accept human-readable values
// ("1KiB", "64MiB") as well as plain integers.

package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config; nil / empty fields keep the defaults.
type fileConfig struct {
	Host           *string `yaml:"host"`
	Port           *int    `yaml:"port"`
	Backlog        *int    `yaml:"backlog"`
	MaxConnections *int    `yaml:"max_connections"`
	InputBuffers   *int    `yaml:"input_buffers"`
	OutputBuffers  *int    `yaml:"output_buffers"`
	BufferSize     string  `yaml:"buffer_size"`
	MaxBufferSize  string  `yaml:"max_buffer_size"`
	IOCPU          *int    `yaml:"io_cpu"`
	ProcCPU        *int    `yaml:"proc_cpu"`
	LogLevel       string  `yaml:"log_level"`
	Transform      string  `yaml:"transform"`
}

// LoadConfigFile reads a YAML file on top of DefaultConfig. Unknown keys are errors.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML on top of DefaultConfig and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}

	cfg := DefaultConfig()
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	if fc.Host != nil {
		cfg.Host = *fc.Host
	}
	setInt(&cfg.Port, fc.Port)
	setInt(&cfg.Backlog, fc.Backlog)
	setInt(&cfg.MaxConnections, fc.MaxConnections)
	setInt(&cfg.InputBuffers, fc.InputBuffers)
	setInt(&cfg.OutputBuffers, fc.OutputBuffers)
	setInt(&cfg.IOCPU, fc.IOCPU)
	setInt(&cfg.ProcCPU, fc.ProcCPU)
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.Transform != "" {
		cfg.Transform = fc.Transform
	}
	if fc.BufferSize != "" {
		n, err := ParseSize(fc.BufferSize)
		if err != nil {
			return nil, fmt.Errorf("buffer_size: %w", err)
		}
		cfg.BufferSize = n
	}
	if fc.MaxBufferSize != "" {
		n, err := ParseSize(fc.MaxBufferSize)
		if err != nil {
			return nil, fmt.Errorf("max_buffer_size: %w", err)
		}
		cfg.MaxBufferSize = n
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseSize parses a byte size such as "1024", "1KiB" or "64MB". Binary (1024-based)
// multiples are used for every suffix.
func ParseSize(s string) (int, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > int64(^uint(0)>>1) {
		return 0, fmt.Errorf("size %q out of range", s)
	}
	return int(n), nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tonimelisma/fsync/internal/config"
	"github.com/tonimelisma/fsync/internal/rpcserver"
)

// defaultInstance is used when --instance is not given.
const defaultInstance = "default"

// dialTimeout bounds how long the CLI waits for a connection to fsyncd.
const dialTimeout = 5 * time.Second

// dialInstance reads instance's advertised port and opens a channel to it.
func dialInstance(ctx context.Context, instance string) (*rpcserver.Client, error) {
	paths := config.ForInstance(instance)

	raw, err := os.ReadFile(paths.PortFile)
	if err != nil {
		return nil, fmt.Errorf("instance %q is not running (reading port file: %w)", instance, err)
	}

	port, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("instance %q has a malformed port file: %w", instance, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	client, err := rpcserver.Dial(dialCtx, port)
	if err != nil {
		return nil, fmt.Errorf("connecting to instance %q: %w", instance, err)
	}

	return client, nil
}

// instances lists the names of every instance with a config directory.
func instances() ([]string, error) {
	dir := config.ConfigDir()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	var out []string

	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}

	return out, nil
}

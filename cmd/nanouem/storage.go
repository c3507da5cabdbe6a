package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/micromdm/nanouem/subsystem/history/storage"
	"github.com/micromdm/nanouem/subsystem/history/storage/diskv"
	"github.com/micromdm/nanouem/subsystem/history/storage/inmem"
	"github.com/micromdm/nanouem/subsystem/history/storage/mysql"

	_ "github.com/go-sql-driver/mysql"
)

// parseOptions parses comma-separated key=value storage options.
func parseOptions(options string) (map[string]string, error) {
	m := make(map[string]string)
	for _, opt := range strings.Split(options, ",") {
		if opt = strings.TrimSpace(opt); opt == "" {
			continue
		}
		k, v, ok := strings.Cut(opt, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid storage option: %s", opt)
		}
		m[k] = v
	}
	return m, nil
}

func parseStorage(name, dsn, options string) (storage.Storage, error) {
	opts, err := parseOptions(options)
	if err != nil {
		return nil, err
	}
	switch name {
	case "inmem":
		if len(opts) > 0 {
			return nil, fmt.Errorf("inmem storage takes no options")
		}
		return inmem.New(), nil
	case "file", "diskv":
		if dsn == "" {
			dsn = "db"
		}
		var dOpts []diskv.Option
		for k, v := range opts {
			switch k {
			case "cache_size":
				n, err := strconv.ParseUint(v, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("invalid cache_size: %w", err)
				}
				dOpts = append(dOpts, diskv.WithCacheSizeMax(n))
			default:
				return nil, fmt.Errorf("unknown diskv storage option: %s", k)
			}
		}
		return diskv.New(dsn, dOpts...), nil
	case "mysql":
		if len(opts) > 0 {
			return nil, fmt.Errorf("mysql storage takes no options")
		}
		s, err := mysql.New(mysql.WithDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("creating mysql storage: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage: %s", name)
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/plebmarket/mcpgate/internal/config"
	"github.com/plebmarket/mcpgate/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// loadConfig returns the effective configuration with command-line overrides
// applied.
func loadConfig() (*config.Config, error) {
	if initErr != nil {
		return nil, initErr
	}
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Database.DataDir = dataDir
	}
	return cfg, nil
}

// openStore opens the configured key store and makes sure its schema exists.
func openStore(cfg *config.Config) (*store.Store, error) {
	var (
		st  *store.Store
		err error
	)
	if cfg.Database.DSN == "" && isSQLite(cfg.Database.Driver) {
		st, err = store.NewSQLite(cfg.Database.ResolvedDataDir())
	} else {
		st, err = store.Open(cfg.Database.Driver, cfg.Database.DSN)
	}
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	st.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	if err := st.InitializeSchema(cmdContext()); err != nil {
		st.Close()
		return nil, fmt.Errorf("initialize key store: %w", err)
	}
	return st, nil
}

func isSQLite(driver string) bool {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return true
	}
	return false
}

// readInput returns the contents of a file argument, or stdin for "-" or an
// empty name.
func readInput(in io.Reader, name string) ([]byte, error) {
	if name == "" || name == "-" {
		return io.ReadAll(io.LimitReader(in, 1<<20))
	}
	return os.ReadFile(name)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}

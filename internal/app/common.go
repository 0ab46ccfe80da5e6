package app

import (
	"errors"
	"fmt"

	"github.com/blackwell-systems/covkit/internal/backup"
	"github.com/blackwell-systems/covkit/internal/config"
	"github.com/blackwell-systems/covkit/internal/hits"
	"github.com/blackwell-systems/covkit/internal/scanner"
	"github.com/blackwell-systems/covkit/internal/store"
)

// env holds the components a command works with, built from the loaded
// configuration.
type env struct {
	ledger  *store.Store // nil when the ledger is disabled
	backups *backup.Store
	hits    *hits.Store
	scanner *scanner.Scanner
}

// openEnv opens the ledger and builds the components. Call close when done.
func openEnv() (*env, error) {
	c := cfg
	if c == nil {
		c = config.Default()
	}

	e := &env{scanner: scanner.New(c.Scanner.Extensions...)}

	path, err := getDBPath()
	if err != nil {
		return nil, err
	}
	if path != "" {
		st, err := store.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger: %w", err)
		}
		e.ledger = st
	}

	backupOpts := []backup.Option{backup.WithLogger(logger)}
	hitsOpts := []hits.Option{hits.WithLogger(logger)}
	if e.ledger != nil {
		backupOpts = append(backupOpts, backup.WithLedger(e.ledger))
		hitsOpts = append(hitsOpts, hits.WithLedger(e.ledger))
	}
	e.backups = backup.New(c.Backup.Dir, c.Backup.Retry, backupOpts...)
	e.hits = hits.NewStore(c.Hits.Retry, hitsOpts...)

	return e, nil
}

func (e *env) close() error {
	if e.ledger == nil {
		return nil
	}
	return e.ledger.Close()
}

// requireLedger returns the ledger or an error explaining how to enable it.
func (e *env) requireLedger() (*store.Store, error) {
	if e.ledger == nil {
		return nil, errors.New("the ledger is disabled; set ledger.path or pass --db")
	}
	return e.ledger, nil
}

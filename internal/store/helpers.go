package store

import (
	"errors"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/comit-node/rfc003/internal/engine"
	"github.com/comit-node/rfc003/internal/ledger"
	"github.com/comit-node/rfc003/internal/role"
)

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func roleOf(s string) role.Role {
	return role.Role(s)
}

func ledgerKindOf(s string) ledger.Kind {
	return ledger.Kind(s)
}

func kindOf(s string) engine.Kind {
	k, err := engine.ParseKind(s)
	if err != nil {
		return engine.KindStart
	}
	return k
}

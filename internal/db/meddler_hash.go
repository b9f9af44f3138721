package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	// Register custom meddler converter for common.Hash
	meddler.Register("hash", HashMeddler{})
}

// HashMeddler converts between common.Hash and the lower-case hex string
// representation stored in the database.
type HashMeddler struct{}

func (h HashMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	// Use sql.NullString to handle NULL values
	return new(sql.NullString), nil
}

func (h HashMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	if ptr, ok := fieldAddr.(**common.Hash); ok {
		if !ns.Valid {
			*ptr = nil
			return nil
		}
		hash := common.HexToHash(ns.String)
		*ptr = &hash
		return nil
	}

	if ptr, ok := fieldAddr.(*common.Hash); ok {
		if !ns.Valid {
			*ptr = common.Hash{}
			return nil
		}
		*ptr = common.HexToHash(ns.String)
		return nil
	}

	return fmt.Errorf("expected *common.Hash or **common.Hash, got %T", fieldAddr)
}

func (h HashMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	if ptr, ok := field.(*common.Hash); ok {
		if ptr == nil {
			return nil, nil
		}
		return strings.ToLower(ptr.Hex()), nil
	}

	if hash, ok := field.(common.Hash); ok {
		return strings.ToLower(hash.Hex()), nil
	}

	return nil, fmt.Errorf("expected common.Hash or *common.Hash, got %T", field)
}

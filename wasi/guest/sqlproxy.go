//go:build wasip1

package guest

import (
	"github.com/tomyedwab/sqlbatch/engine"
	sqlproxy "github.com/tomyedwab/sqlbatch/sqlproxy/driver"
)

// InitSQLProxy opens name on the host and routes the "sqlbatch"
// database/sql driver through a session on it.
func InitSQLProxy(name string) (*Session, error) {
	if err := CheckAPIVersion(); err != nil {
		return nil, err
	}
	db, err := Open(name, engine.OpenReadWrite|engine.OpenCreate)
	if err != nil {
		return nil, err
	}
	session, err := db.NewSession()
	if err != nil {
		db.Close()
		return nil, err
	}
	sqlproxy.SetHostHandler(func(payload []byte) ([]byte, error) {
		out, err := session.Run(payload)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), out...), nil
	})
	return session, nil
}

package inmemdb

import (
	"sync"

	"github.com/sggenna/fluency/core/user"
)

// DB is an in-memory database for tests and local hacking; it is not a
// substitute for Postgres in any deployed environment.
type DB struct {
	user *userTable
}

type userTable struct {
	mutex sync.RWMutex
	table map[string]*user.User
}

func Open() *DB {
	return &DB{
		user: &userTable{table: make(map[string]*user.User)},
	}
}

package repository

import (
	"sync"

	"gorm.io/gorm"
)

var (
	global     *Repositories
	globalOnce sync.Once
)

// InitializeFactory builds the process-wide repositories on db. Later calls are no-ops.
func InitializeFactory(db *gorm.DB) {
	globalOnce.Do(func() {
		global = NewRepositories(db)
	})
}

// GetGlobalRepositories returns the repositories built by InitializeFactory.
func GetGlobalRepositories() *Repositories {
	if global == nil {
		panic("repository: InitializeFactory has not been called")
	}
	return global
}

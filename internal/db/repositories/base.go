package repositories

import (
	"database/sql"

	"drydock/internal/db"
)

type Repositories struct {
	Backups            *BackupRepo
	SandboxAssignments *SandboxAssignmentRepo
	db                 db.Database
}

func New(database db.Database) *Repositories {
	conn := database.Conn()

	return &Repositories{
		Backups:            NewBackupRepo(conn),
		SandboxAssignments: NewSandboxAssignmentRepo(conn),
		db:                 database,
	}
}

// BeginTx starts a database transaction
func (r *Repositories) BeginTx() (*sql.Tx, error) {
	return r.db.Conn().Begin()
}

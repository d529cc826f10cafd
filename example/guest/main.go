//go:build wasip1

// Command guest is a WASI program that keeps a small notes table in a
// database owned by the host. Build it with GOOS=wasip1 GOARCH=wasm and run
// it with `sqlbatch -guest guest.wasm -db notes.db`; the host passes the
// database path in SQLBATCH_DB.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"

	_ "github.com/tomyedwab/sqlbatch/sqlproxy/driver"
	"github.com/tomyedwab/sqlbatch/wasi/guest"
)

type note struct {
	ID   int64  `db:"id"`
	Body string `db:"body"`
}

func main() {
	dbPath := os.Getenv("SQLBATCH_DB")
	if dbPath == "" {
		dbPath = "notes.db"
	}
	session, err := guest.InitSQLProxy(dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer session.Dispose()

	db := sqlx.MustConnect("sqlbatch", dbPath)
	db.SetMaxOpenConns(1)
	db.MustExec("CREATE TABLE IF NOT EXISTS notes (id INTEGER PRIMARY KEY, body TEXT NOT NULL)")

	if len(os.Args) > 1 {
		res := db.MustExec("INSERT INTO notes (body) VALUES (?)", strings.Join(os.Args[1:], " "))
		id, _ := res.LastInsertId()
		fmt.Printf("added note %d\n", id)
	}

	var notes []note
	if err := db.Select(&notes, "SELECT id, body FROM notes ORDER BY id"); err != nil {
		log.Fatal(err)
	}
	for _, n := range notes {
		fmt.Printf("%d: %s\n", n.ID, n.Body)
	}
}

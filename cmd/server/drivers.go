package main

// SQL драйверы Ledger: DB_DRIVER=postgres | sqlite3
import (
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

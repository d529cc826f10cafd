// Package driver implements a database/sql/driver that sends every query as
// a flat batch to a host and reads the results back from the host's frame
// output.
//
// Usage:
//
//  1. Import the driver package. This registers the driver as "sqlbatch".
//
//     import _ "github.com/tomyedwab/sqlbatch/sqlproxy/driver"
//
//  2. Set the function that carries batches to the host before opening a
//     database:
//
//     driver.SetHostHandler(func(payload []byte) ([]byte, error) {
//     // ... send payload to the host and return its output ...
//     })
//
//  3. Open a database. The data source name becomes the batch's database
//     identifier:
//
//     db, err := sqlx.Open("sqlbatch", "main")
//
// Statements are never prepared on the host: each Exec or Query ships its
// SQL and arguments as a one-statement batch. ExecBatch sends several
// statements in one round trip. Transactions run BEGIN, COMMIT and ROLLBACK
// as ordinary statements, so a *sql.DB using transactions should be limited
// to one open connection.
//
// Limitations:
//
//   - A query that returns no rows reports no column names, because the
//     result frames carry names only alongside row values.
//   - Context cancellation is not propagated to the host.
package driver

// Package postgres is the relational side of stayAuth: the account store, the durable
// session mirror read while Redis is down, and an audit sink.
//
// It talks to PostgreSQL through database/sql with the pgx stdlib driver. The schema
// ships as embedded goose migrations; run [Store.Migrate] (or stayauthctl migrate)
// before first use.
package postgres

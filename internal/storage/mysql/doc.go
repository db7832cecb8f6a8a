// Package mysql persists run messages in MySQL. It owns the connection pool
// settings, the embedded schema migrations and the message repository used
// as the agent's message saver.
package mysql

// Package api provides the read-only REST and WebSocket surface over the
// indexer's store and broadcast bus.
// @title Registry Indexer API
// @version 1.0
// @description REST API for querying registry events indexed across chains
// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0.html
// @host localhost:8080
// @basePath /api/v1
// @schemes http https
package api

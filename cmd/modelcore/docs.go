package main

// General API documentation for swaggo. Regenerate internal/httpapi/docs with
// `swag init -d cmd/modelcore,internal/httpapi,pkg/types -g docs.go -o internal/httpapi/docs`.
//
// @title           modelcore API
// @version         1.0
// @description     HTTP API for model deployment management and generation.
//
// @contact.name   modelcore maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http

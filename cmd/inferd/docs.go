// General API documentation for swaggo.
//
// @title           inferd API
// @version         1.0
// @description     HTTP API for local LLM model management and inference.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
package main

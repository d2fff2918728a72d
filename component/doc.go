// Package component defines the lifecycle interfaces that let the asynchttp
// runtime be managed as one unit of a larger application.
package component

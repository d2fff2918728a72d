// Package logger provides structured logging for the asynchttp runtime,
// built on zerolog. The numeric trace verbosity of older releases maps onto
// named levels via FromVerbosity.
package logger

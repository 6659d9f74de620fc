// Package httpapi serves the authentication endpoints over gin.
//
// Handlers bind JSON, call one Engine method and translate the result. Error
// translation lives in [WriteError]; every engine sentinel maps to a stable
// status and machine-readable code.
package httpapi

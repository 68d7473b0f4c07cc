// Package httputil provides the HTTP middleware chain shared by the
// groupsync listeners.
package httputil

// Package outline is a thin client for the Outline admin REST API. The
// API is POST-only JSON; every response carries an envelope with an
// internal ok flag that is checked in addition to the HTTP status.
package outline

// Package keycloak is a thin client for the Keycloak admin REST API.
// It authenticates with a service-account client-credentials grant and
// caches the short-lived access token in process memory, refreshing it
// before the server-side expiry.
package keycloak

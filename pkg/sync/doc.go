// Package sync reconciles a user's Outline group membership with their
// Keycloak group membership. Group identity is by name: names are the
// join key between the two systems, ids are system-local.
package sync

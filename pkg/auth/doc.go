// Package auth acquires Microsoft Entra ID access tokens per resource.
//
// DelegatedService signs a user in with the authorization code flow (PKCE)
// and keeps the result refreshed. AppOnlyService uses client credentials.
// Both implement client.TokenProvider and collapse concurrent requests for
// the same resource into one acquisition.
package auth

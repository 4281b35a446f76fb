// Package oauth2 manages the LinkedIn OAuth lifecycle of a personalization
// record.
//
// # Overview
//
// The Coordinator runs the authorization code flow: it issues a single-use
// state token, persists it on the record and, on callback, validates it
// before exchanging the code for tokens. The Manager hands out usable access
// tokens, refreshing them when they are within RefreshBuffer of expiry, and
// disconnects accounts.
//
// Tokens are stored encrypted; plaintext only exists in memory for the
// duration of a provider call.
//
// # State validation
//
// Callbacks are strict by default: a callback whose record does not exist or
// whose state differs from the stored one is rejected with a csrf_validation
// error before any token exchange. Setting LenientStateFallback accepts a
// callback for a record that does not exist yet by creating it. This lets a
// callback that lost its record succeed, at the price of binding the account
// to whoever presents a valid code. A mismatching state on an existing record
// is rejected either way.
//
// # Usage
//
//	coordinator := oauth2.NewCoordinator(store, client, vault, oauth2.Config{})
//	req, err := coordinator.InitiateOAuth(ctx, trainerID, courseID)
//	// redirect the trainer to req.AuthorizationURL
//
//	manager := oauth2.NewManager(store, client, vault, oauth2.Config{})
//	token, err := manager.GetAccessToken(ctx, trainerID, courseID)
package oauth2

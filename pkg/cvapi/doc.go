// Package cvapi provides types, interfaces, and helpers for working with the
// CloudVault content-management API.
//
// # Overview
//
// The cvapi package defines the shared types of the SDK: Config, TokenInfo,
// the error taxonomy, event and upload-session payloads, and the TokenStore
// abstraction used by persistent sessions to share refreshed tokens across
// processes. A concrete client implementation is provided by the cvclient
// package, which wires configuration, transport, authentication, and retry
// behavior. Most consumers should import cvclient to construct a client.
//
// Getting a client
//
//	import (
//	  "context"
//	  "log"
//
//	  "github.com/cloudvault-io/cvapi/pkg/cvapi"
//	  "github.com/cloudvault-io/cvapi/pkg/cvclient"
//	)
//
//	func example() {
//	  ctx := context.Background()
//	  cli, err := cvclient.NewAnonymous(&cvapi.Config{
//	    ClientID:     "id",
//	    ClientSecret: "secret",
//	  })
//	  if err != nil { log.Fatal(err) }
//
//	  resp, err := cli.Get(ctx, "/users/me", nil, nil)
//	  if err != nil { log.Fatal(err) }
//	  _ = resp
//	}
//
// # Errors
//
// Auth and request failures are represented by ExpiredAuthError,
// UnexpectedResponseError, InvalidTokenFormatError, and RequestError. Helpers
// such as IsExpiredAuth and IsUnexpectedResponse make it easy to branch on
// common cases with errors.As semantics.
//
// # Token stores
//
// Persistent sessions accept a TokenStore so that several processes sharing
// one refresh token can detect rotation by a sibling instead of concluding the
// token expired. In-memory, NATS KV, and Redis backed stores are provided; any
// consumer-supplied implementation of the interface works as well.
package cvapi

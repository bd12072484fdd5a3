// Package cvclient is the entry point for the CloudVault API SDK. It wires
// the token manager, a session, and the request core into a ready-to-use
// Client for each supported trust model.
//
// # Trust models
//
// A developer token client never refreshes:
//
//	client, err := cvclient.NewWithDeveloperToken(&cvapi.Config{}, "DEV_TOKEN")
//
// An anonymous client holds application-scoped tokens via the
// client-credentials grant:
//
//	client, err := cvclient.NewAnonymous(&cvapi.Config{
//		ClientID:     "id",
//		ClientSecret: "secret",
//	})
//
// An app-auth client authenticates as an enterprise or managed user with
// signed JWT assertions:
//
//	client, err := cvclient.NewWithAppAuth(&cvapi.Config{
//		ClientID:     "id",
//		ClientSecret: "secret",
//		AppAuth: &cvapi.AppAuthConfig{
//			KeyID:      "kid",
//			PrivateKey: pemBytes,
//		},
//	}, cvclient.SubjectEnterprise, "1234")
//
// A persistent client acts for one user via a refresh token, optionally
// synchronizing tokens through a shared store:
//
//	tokens, err := cvclient.AuthorizeWithCode(ctx, cfg, code)
//	client, err := cvclient.NewPersistent(cfg, tokens, store)
//
// # Calls
//
// Resource calls return the buffered response; HandleResponse decodes 2xx
// bodies and classifies everything else:
//
//	resp, err := client.Get(ctx, "/folders/0", nil, nil)
//	if err != nil {
//		return err
//	}
//	var folder map[string]interface{}
//	if err := cvclient.HandleResponse(resp, &folder); err != nil {
//		return err
//	}
package cvclient

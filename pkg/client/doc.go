// Package client is the Eco-Chain Go SDK.
//
// # Issuing a token
//
//	c, err := client.New("https://ecochain.example.com",
//	    client.WithBearerToken(os.Getenv("ECOCHAIN_ISSUER_TOKEN")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	out, err := c.Issue(ctx, client.IssueRequest{
//	    SMEID:   "SME-001",
//	    SMEName: "Ravi Manufacturing Pvt Ltd",
//	    Month:   "2024-01",
//	    Input: emission.Input{
//	        EnergyKWh:    10000,
//	        BusinessType: "Manufacturing",
//	        Efficiency:   80,
//	    },
//	})
//
// # Verifying a token someone handed you
//
// VerifyToken re-hashes the token on the server and checks it is on chain.
// Proof additionally returns the Merkle path, which can be checked offline
// against a published root:
//
//	p, err := c.Proof(ctx, tok.Hash)
//	if err == nil && p.VerifyPath() {
//	    // tok.Hash is recorded in block p.BlockIndex
//	}
//
// Errors from the server are *APIError; errors.Is(err, client.ErrNotFound)
// matches any 404.
package client
